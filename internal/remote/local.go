package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// Local launches the shim as a child process of the controller.
type Local struct {
	opts Options
}

// NewLocal creates a local launcher.
func NewLocal(opts Options) *Local {
	return &Local{opts: opts}
}

// Start runs cmd locally.
func (l *Local) Start(ctx context.Context, cmd []string) (*Session, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Stderr = l.opts.Stderr

	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd[0], err)
	}

	return &Session{
		Stdin:  stdin,
		Stdout: stdout,
		wait: func() error {
			err := c.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("%s exited with status %d", cmd[0], exitErr.ExitCode())
			}
			return err
		},
		kill: func() error {
			if c.Process == nil {
				return nil
			}
			if err := c.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return err
			}
			return nil
		},
	}, nil
}

// Put copies srcPath to dstPath on this machine.
func (l *Local) Put(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return copyFile(srcPath, dstPath)
}

func (l *Local) Close() error { return nil }

func (l *Local) String() string { return "local" }

// copyFile writes src to a temporary file beside dst and renames it into
// place, keeping src's permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	out, err := os.CreateTemp(dir, "."+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer os.Remove(out.Name())

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		out.Close()
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return os.Rename(out.Name(), dst)
}

var _ Launcher = (*Local)(nil)
