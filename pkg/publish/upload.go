package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
)

const posixRename = "posix-rename@openssh.com"

// Result describes one uploaded file.
type Result struct {
	LocalPath  string        `json:"local_path"`
	RemotePath string        `json:"remote_path"`
	Bytes      int64         `json:"bytes"`
	Checksum   string        `json:"sha256"`
	Duration   time.Duration `json:"duration"`
}

// Uploader copies files over an established SFTP session. Each file is
// written to a temporary name, read back and compared by sha256, then
// renamed into place, so a reader never sees a partial artifact.
type Uploader struct {
	client *sftp.Client
	logger zerolog.Logger

	// Progress, if set, receives every byte written.
	Progress io.Writer
}

// NewUploader creates an uploader on an SFTP client.
func NewUploader(client *sftp.Client, logger zerolog.Logger) *Uploader {
	return &Uploader{
		client: client,
		logger: logger.With().Str("component", "uploader").Logger(),
	}
}

// Upload copies a file or directory tree into remoteDir. A directory keeps
// its base name on the remote side.
func (u *Uploader) Upload(ctx context.Context, localPath, remoteDir string) ([]Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, &Error{Op: "upload", Path: localPath, Err: err}
	}

	if !info.IsDir() {
		r, err := u.uploadFile(ctx, localPath, path.Join(remoteDir, filepath.Base(localPath)), info.Mode().Perm())
		if err != nil {
			return nil, err
		}
		return []Result{*r}, nil
	}

	var results []Result
	root := path.Join(remoteDir, filepath.Base(localPath))
	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		target := path.Join(root, filepath.ToSlash(rel))

		if d.IsDir() {
			if err := u.client.MkdirAll(target); err != nil {
				return &Error{Op: "mkdir", Path: target, Err: err}
			}
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		r, err := u.uploadFile(ctx, p, target, fi.Mode().Perm())
		if err != nil {
			return err
		}
		results = append(results, *r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) (*Result, error) {
	start := time.Now()

	u.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("uploading file")

	local, err := os.Open(localPath)
	if err != nil {
		return nil, &Error{Op: "upload", Path: localPath, Err: err}
	}
	defer local.Close()

	if err := u.client.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, &Error{Op: "mkdir", Path: path.Dir(remotePath), Err: err}
	}

	partial := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+".part")
	remote, err := u.client.Create(partial)
	if err != nil {
		return nil, &Error{Op: "upload", Path: partial, Err: err, IsTemporary: true}
	}

	hash := sha256.New()
	var src io.Reader = io.TeeReader(local, hash)
	if u.Progress != nil {
		src = io.TeeReader(src, u.Progress)
	}

	written, err := copyWithContext(ctx, remote, src)
	if closeErr := remote.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = u.client.Remove(partial)
		return nil, &Error{Op: "upload", Path: localPath, Err: err, IsTemporary: true}
	}

	if err := u.client.Chmod(partial, mode); err != nil {
		u.logger.Warn().Err(err).Str("path", partial).Msg("failed to set file permissions")
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	remoteSum, err := u.remoteChecksum(partial)
	if err != nil {
		_ = u.client.Remove(partial)
		return nil, &Error{Op: "verify", Path: partial, Err: err, IsTemporary: true}
	}
	if remoteSum != sum {
		_ = u.client.Remove(partial)
		return nil, &Error{
			Op:          "verify",
			Path:        remotePath,
			Err:         fmt.Errorf("checksum mismatch: local %s, remote %s", sum, remoteSum),
			IsTemporary: true,
		}
	}

	if err := u.replace(partial, remotePath); err != nil {
		_ = u.client.Remove(partial)
		return nil, &Error{Op: "rename", Path: remotePath, Err: err}
	}

	result := &Result{
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      written,
		Checksum:   sum,
		Duration:   time.Since(start),
	}

	u.logger.Info().
		Str("remote", remotePath).
		Int64("bytes", written).
		Str("sha256", sum).
		Dur("duration", result.Duration).
		Msg("file uploaded")

	return result, nil
}

// remoteChecksum hashes a remote file by reading it back.
func (u *Uploader) remoteChecksum(remotePath string) (string, error) {
	f, err := u.client.Open(remotePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// replace moves from onto to. Plain SFTP rename refuses an existing
// target, so without the posix-rename extension the target goes first.
func (u *Uploader) replace(from, to string) error {
	if _, ok := u.client.HasExtension(posixRename); ok {
		return u.client.PosixRename(from, to)
	}
	if err := u.client.Remove(to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return u.client.Rename(from, to)
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
