// Package remote launches the shim on the machine that owns the radio, locally
// or over SSH, and exposes the launched process's stdio as the frame tunnel.
package remote

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tonylturner/linkshim/internal/tunnel"
)

// Launcher starts shim processes and copies the shim binary into place.
type Launcher interface {
	// Start runs cmd (argv, not a shell string) with its stdin and stdout
	// connected to the returned Session.
	Start(ctx context.Context, cmd []string) (*Session, error)

	// Put copies a local file to path on the target, keeping its mode.
	Put(ctx context.Context, localPath, remotePath string) error

	// Close releases any held resources (e.g., SSH connection).
	Close() error

	// String returns a human-readable description of the target.
	String() string
}

// Options configures launch behavior.
type Options struct {
	Timeout time.Duration // Connect and copy timeout; the session itself is unbounded
	Stderr  io.Writer     // Receives the process's stderr (nil discards it)
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Timeout: 15 * time.Second,
	}
}

// SSHOptions configures SSH-specific launch behavior.
type SSHOptions struct {
	Options

	// Authentication
	User          string // SSH username
	KeyFile       string // Path to private key file
	KeyPassphrase string // Passphrase for encrypted key (optional)
	Password      string // Password authentication (only used when AllowPassword is set)
	AllowPassword bool
	Agent         bool // Use SSH agent for authentication

	// Host verification
	KnownHostsFile     string // Path to known_hosts file
	InsecureIgnoreHost bool   // Skip host key verification

	// Connection
	Port           int           // SSH port (default 22)
	ConnectTimeout time.Duration // Connection timeout
	KeepAlive      time.Duration // Keep-alive interval

	// Elevate runs the shim under sudo; capture needs root on most hosts.
	Elevate bool
}

// DefaultSSHOptions returns sensible default SSH options.
func DefaultSSHOptions() SSHOptions {
	return SSHOptions{
		Options:        DefaultOptions(),
		Port:           22,
		ConnectTimeout: 15 * time.Second,
		KeepAlive:      30 * time.Second,
		Agent:          true,
	}
}

// Session is a running shim process.
type Session struct {
	Stdin  io.WriteCloser
	Stdout io.Reader

	wait func() error
	kill func() error

	once    sync.Once
	waitErr error
}

// Channel frames the session's stdio as a tunnel. Frames written go to the
// process's stdin; frames read come from its stdout.
func (s *Session) Channel(limits tunnel.Limits) *tunnel.Channel {
	return tunnel.NewChannel(s.Stdout, s.Stdin, limits)
}

// Wait blocks until the process exits. It is safe to call more than once.
func (s *Session) Wait() error {
	s.once.Do(func() {
		s.waitErr = s.wait()
	})
	return s.waitErr
}

// Kill stops the process. Closing stdin first gives a shim the chance to exit
// on end-of-stream.
func (s *Session) Kill() error {
	_ = s.Stdin.Close()
	if s.kill == nil {
		return nil
	}
	return s.kill()
}

// Deploy copies the shim binary to remotePath and returns the command that
// runs it with args.
func Deploy(ctx context.Context, l Launcher, localPath, remotePath string, args []string) ([]string, error) {
	if localPath == "" || remotePath == "" {
		return nil, fmt.Errorf("deploy needs both a local binary and a remote path")
	}
	if err := l.Put(ctx, localPath, remotePath); err != nil {
		return nil, fmt.Errorf("deploy %s to %s:%s: %w", localPath, l, remotePath, err)
	}
	return append([]string{remotePath}, args...), nil
}
