package publish

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/froyopack/pkg/config"
)

// Config holds the SFTP target of a publish.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// KeyFile is a private key. When empty and no password is set, the
	// default keys under ~/.ssh and then the SSH agent are tried.
	KeyFile string

	// KeyPassphrase decrypts an encrypted KeyFile.
	KeyPassphrase string

	// Password enables password and keyboard-interactive authentication.
	Password string

	// KnownHosts is the known_hosts file used to verify the server.
	KnownHosts string

	// Insecure accepts any host key.
	Insecure bool

	// RemoteDir is the directory artifacts are uploaded into.
	RemoteDir string

	// ConnectionTimeout bounds the TCP dial and SSH handshake.
	ConnectionTimeout time.Duration

	// Retries is the number of extra connection attempts on temporary failures.
	Retries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		KnownHosts:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectionTimeout: 30 * time.Second,
		Retries:           2,
	}
}

// FromBuildConfig converts the publish section of a build configuration.
func FromBuildConfig(p *config.PublishConfig) (*Config, error) {
	if p == nil {
		return nil, fmt.Errorf("no publish target configured")
	}

	cfg := DefaultConfig(p.Host, p.User)
	if p.Port != 0 {
		cfg.Port = p.Port
	}
	cfg.KeyFile = p.KeyFile
	cfg.Password = p.Password
	if p.KnownHosts != "" {
		cfg.KnownHosts = p.KnownHosts
	}
	cfg.Insecure = p.Insecure
	cfg.RemoteDir = p.RemoteDir

	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.RemoteDir == "" {
		return fmt.Errorf("remote directory is required")
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("private key file not found: %s", c.KeyFile)
		}
	}
	if !c.Insecure && c.KnownHosts == "" {
		return fmt.Errorf("known_hosts is required unless insecure is set")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// clientConfig creates an ssh.ClientConfig. The returned closer releases
// the agent connection, if one was opened.
func (c *Config) clientConfig() (*ssh.ClientConfig, func(), error) {
	closer := func() {}

	auth, agentConn, err := c.authMethods()
	if err != nil {
		return nil, closer, err
	}
	if agentConn != nil {
		closer = func() { _ = agentConn.Close() }
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !c.Insecure {
		hostKeyCallback, err = knownhosts.New(c.KnownHosts)
		if err != nil {
			closer()
			return nil, func() {}, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, closer, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod

	keyFile := c.KeyFile
	if keyFile == "" && c.Password == "" {
		keyFile = defaultKey()
	}
	if keyFile != "" {
		signer, err := loadSigner(keyFile, c.KeyPassphrase)
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		methods = append(methods,
			ssh.Password(c.Password),
			// Many servers only prompt through keyboard-interactive.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		)
	}

	var agentConn net.Conn
	if len(methods) == 0 {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
			}
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no authentication method available: set key or password, or run an SSH agent")
	}
	return methods, agentConn, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

func defaultKey() string {
	home := os.Getenv("HOME")
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
