package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// Rsync is a remote-sync backend shelling out to rsync. The target is
// either a remote spec (user@host:/srv/backups) or a plain directory.
// Writes are staged locally and published with one rsync invocation per
// key; rsync itself writes to a temp file and renames, so a failed
// transfer leaves no partial object on the target.
type Rsync struct {
	target  string
	staging string
}

var _ Backend = (*Rsync)(nil)

// NewRsync creates an rsync backend with the given staging directory.
func NewRsync(target, stagingDir string) (*Rsync, error) {
	if stagingDir == "" {
		stagingDir = filepath.Join(os.TempDir(), "picpeak-backup-rsync")
	}
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Rsync{target: strings.TrimSuffix(target, "/"), staging: stagingDir}, nil
}

// transient rsync exit codes: socket I/O, protocol stream, timeout,
// connection timeout. See rsync(1) EXIT VALUES.
var transientRsyncExit = map[int]bool{10: true, 12: true, 30: true, 35: true}

func (r *Rsync) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "rsync", args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && transientRsyncExit[exitErr.ExitCode()] {
			return nil, &TransientError{Err: fmt.Errorf("rsync: %s: %w", stderr.String(), err)}
		}
		return nil, fmt.Errorf("rsync: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return out.Bytes(), nil
}

func (r *Rsync) remotePath(key string) string {
	return r.target + "/" + key
}

func (r *Rsync) Put(ctx context.Context, key string, reader io.Reader) error {
	staged := filepath.Join(r.staging, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(staged), 0o700); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	f, err := os.Create(staged)
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(staged)
		return fmt.Errorf("stage %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(staged)
		return fmt.Errorf("stage %s: %w", key, err)
	}
	defer os.Remove(staged)

	_, err = r.run(ctx, "-a", "--mkpath", staged, r.remotePath(key))
	return err
}

func (r *Rsync) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	tmp, err := os.CreateTemp(r.staging, ".get-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	tmp.Close()

	if _, err := r.run(ctx, "-a", r.remotePath(key), tmpName); err != nil {
		os.Remove(tmpName)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 23 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}

	f, err := os.Open(tmpName)
	if err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	return &unlinkOnClose{File: f, name: tmpName}, nil
}

// unlinkOnClose removes the temp copy once the caller is done reading.
type unlinkOnClose struct {
	*os.File
	name string
}

func (u *unlinkOnClose) Close() error {
	err := u.File.Close()
	os.Remove(u.name)
	return err
}

func (r *Rsync) List(ctx context.Context, prefix string) ([]string, error) {
	out, err := r.run(ctx, "-r", "--list-only", r.target+"/")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 23 {
			return nil, nil // target directory does not exist yet
		}
		return nil, err
	}

	var keys []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if strings.HasPrefix(fields[0], "d") {
			continue
		}
		name := strings.Join(fields[4:], " ")
		if name == "." {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

func (r *Rsync) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.run(ctx, "--list-only", r.remotePath(key))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 23 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a key. Remote targets are reached over ssh; plain
// directory targets are removed directly.
func (r *Rsync) Delete(ctx context.Context, key string) error {
	host, dir, ok := splitRemote(r.target)
	if !ok {
		err := os.Remove(filepath.Join(r.target, filepath.FromSlash(key)))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cmd := exec.CommandContext(ctx, "ssh", host, "rm", "-f", path.Join(dir, key))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh rm %s: %s: %w", key, strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

func (r *Rsync) Ping(ctx context.Context) error {
	if _, err := r.run(ctx, "--list-only", r.target+"/"); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 23 {
			return nil // reachable, directory just not created yet
		}
		return &ConnectivityError{Backend: "rsync", Err: err}
	}
	return nil
}

// splitRemote splits "user@host:/path" into host and path. A target
// without a colon is a plain local directory.
func splitRemote(target string) (host, dir string, ok bool) {
	i := strings.Index(target, ":")
	if i < 0 {
		return "", "", false
	}
	return target[:i], target[i+1:], true
}
