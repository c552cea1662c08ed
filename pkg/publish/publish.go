// Package publish uploads built artifacts to a remote host over SFTP and
// verifies each file by sha256 before it becomes visible.
package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Publisher uploads files to the configured target.
type Publisher struct {
	cfg    *Config
	logger zerolog.Logger

	// Progress, if set, receives every byte written.
	Progress io.Writer
}

// New creates a publisher.
func New(cfg *Config, logger zerolog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publish config: %w", err)
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With().Str("component", "publisher").Str("host", cfg.Host).Logger(),
	}, nil
}

// Publish connects once and uploads every path into the remote directory.
func (p *Publisher) Publish(ctx context.Context, paths ...string) ([]Result, error) {
	client, closeFn, err := p.connectWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	u := NewUploader(client, p.logger)
	u.Progress = p.Progress

	var results []Result
	for _, local := range paths {
		r, err := u.Upload(ctx, local, p.cfg.RemoteDir)
		if err != nil {
			return results, err
		}
		results = append(results, r...)
	}
	return results, nil
}

func (p *Publisher) connectWithRetry(ctx context.Context) (*sftp.Client, func(), error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * time.Second
			p.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("connection failed, retrying")
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		client, closeFn, err := p.connect(ctx)
		if err == nil {
			return client, closeFn, nil
		}
		lastErr = err
		if pe, ok := err.(*Error); !ok || !pe.Temporary() {
			break
		}
	}
	return nil, nil, lastErr
}

func (p *Publisher) connect(ctx context.Context) (*sftp.Client, func(), error) {
	clientConfig, closeAgent, err := p.cfg.clientConfig()
	if err != nil {
		return nil, nil, &Error{Op: "connect", Err: err}
	}
	defer closeAgent()

	address := p.cfg.Address()
	p.logger.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: p.cfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, nil, &Error{Op: "connect", Err: err, IsTemporary: ctx.Err() == nil}
	}

	// The handshake ignores ctx; the deadline bounds it instead.
	_ = conn.SetDeadline(time.Now().Add(p.cfg.ConnectionTimeout))
	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return nil, nil, &Error{Op: "handshake", Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(ncc, chans, reqs)
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, &Error{Op: "sftp-init", Err: err, IsTemporary: true}
	}

	p.logger.Debug().Str("address", address).Msg("SFTP session established")
	return client, func() {
		_ = client.Close()
		_ = sshClient.Close()
	}, nil
}
