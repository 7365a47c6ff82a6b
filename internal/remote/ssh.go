package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH launches the shim on the host that owns the radio. One connection is
// shared by the shim session and any binary upload.
type SSH struct {
	opts SSHOptions
	host string

	mu        sync.Mutex
	client    *ssh.Client
	files     *sftp.Client
	keepalive chan struct{}
}

// NewSSH returns an SSH launcher for host. It dials on first use.
func NewSSH(host string, opts SSHOptions) (*SSH, error) {
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return &SSH{opts: opts, host: host}, nil
}

func (s *SSH) addr() string {
	port := s.opts.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(s.host, strconv.Itoa(port))
}

func (s *SSH) user() string {
	if s.opts.User != "" {
		return s.opts.User
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

// dial returns the shared client, connecting if needed.
func (s *SSH) dial(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	cfg, err := s.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("build SSH config: %w", err)
	}
	timeout := s.opts.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.addr(), err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, s.addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s: %w", s.addr(), err)
	}
	s.client = ssh.NewClient(c, chans, reqs)

	if s.opts.KeepAlive > 0 {
		s.keepalive = make(chan struct{})
		go pingUntil(s.client, s.opts.KeepAlive, s.keepalive)
	}
	return s.client, nil
}

// pingUntil sends OpenSSH keepalives so an idle tunnel survives NAT timeouts.
func pingUntil(client *ssh.Client, every time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := authMethods(s.opts)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(s.opts)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            s.user(),
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         s.opts.ConnectTimeout,
	}, nil
}

// authMethods tries the agent, then a key file (the configured one or the
// first readable default), then an explicitly allowed password.
func authMethods(opts SSHOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if opts.Agent {
		if m := agentAuth(); m != nil {
			methods = append(methods, m)
		}
	}

	switch {
	case opts.KeyFile != "":
		m, err := keyFileAuth(opts.KeyFile, opts.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", opts.KeyFile, err)
		}
		methods = append(methods, m)
	default:
		if home, err := os.UserHomeDir(); err == nil {
			for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
				if m, err := keyFileAuth(filepath.Join(home, ".ssh", name), ""); err == nil {
					methods = append(methods, m)
					break
				}
			}
		}
	}

	if opts.Password != "" {
		if !opts.AllowPassword {
			return nil, fmt.Errorf("password authentication is disabled; use a key or set allow_password")
		}
		methods = append(methods, ssh.Password(opts.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method available (agent, key or password)")
	}
	return methods, nil
}

func agentAuth() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

func keyFileAuth(file, passphrase string) (ssh.AuthMethod, error) {
	pem, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var signer ssh.Signer
	if passphrase == "" {
		signer, err = ssh.ParsePrivateKey(pem)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeys(signer), nil
}

// hostKeyCallback checks known_hosts unless verification is turned off.
func hostKeyCallback(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHost {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := opts.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("known hosts: %w", err)
	}
	return cb, nil
}

// Start runs cmd on the remote host with a session per shim. The session ends
// when the command exits, on Kill, or when ctx is cancelled.
func (s *SSH) Start(ctx context.Context, cmd []string) (*Session, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if s.opts.Stderr != nil {
		sess.Stderr = s.opts.Stderr
	}

	line := shellCommand(cmd, s.opts.Elevate)
	if err := sess.Start(line); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start %q: %w", line, err)
	}

	kill := func() error {
		_ = sess.Signal(ssh.SIGKILL)
		if err := sess.Close(); err != nil && err != io.EOF {
			return err
		}
		return nil
	}
	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = kill()
		case <-exited:
		}
	}()

	return &Session{
		Stdin:  stdin,
		Stdout: stdout,
		wait: func() error {
			defer close(exited)
			err := sess.Wait()
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return fmt.Errorf("remote %s exited with status %d", cmd[0], exitErr.ExitStatus())
			}
			return err
		},
		kill: kill,
	}, nil
}

// Put uploads localPath over SFTP. The file is written beside remotePath and
// renamed over it, so replacing a shim binary that is still running works.
func (s *SSH) Put(ctx context.Context, localPath, remotePath string) error {
	if err := checkRemotePath(remotePath); err != nil {
		return err
	}
	files, err := s.sftpClient(ctx)
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	if dir := path.Dir(remotePath); dir != "." {
		if err := files.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote directory %s: %w", dir, err)
		}
	}
	part := remotePath + ".part"
	dst, err := files.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = files.Remove(part)
		return fmt.Errorf("upload %s: %w", part, err)
	}
	if err := dst.Close(); err != nil {
		_ = files.Remove(part)
		return fmt.Errorf("upload %s: %w", part, err)
	}
	if err := files.Chmod(part, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", part, err)
	}
	if err := files.PosixRename(part, remotePath); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}

func (s *SSH) sftpClient(ctx context.Context) (*sftp.Client, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		if s.files, err = sftp.NewClient(client); err != nil {
			return nil, fmt.Errorf("start SFTP: %w", err)
		}
	}
	return s.files, nil
}

// Close ends the SFTP subsystem and the connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keepalive != nil {
		close(s.keepalive)
		s.keepalive = nil
	}
	var first error
	if s.files != nil {
		first = s.files.Close()
		s.files = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && first == nil {
			first = err
		}
		s.client = nil
	}
	return first
}

func (s *SSH) String() string {
	user := s.user()
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("ssh://%s@%s", user, s.addr())
}

func checkRemotePath(p string) error {
	if p == "" {
		return fmt.Errorf("remote path is empty")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("remote path %q contains '..'", p)
		}
	}
	return nil
}

// shellCommand joins argv into a POSIX shell line. With elevate the line runs
// under "sudo -n", which fails instead of prompting: a prompt would land in
// the frame tunnel.
func shellCommand(argv []string, elevate bool) string {
	if len(argv) == 0 {
		return ""
	}
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	line := strings.Join(quoted, " ")
	if elevate {
		line = "sudo -n " + line
	}
	return line
}

// shellQuote leaves words made of safe characters alone and single-quotes
// everything else.
func shellQuote(arg string) string {
	if arg != "" && strings.Trim(arg, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_./:=,@+%") == "" {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

var _ Launcher = (*SSH)(nil)
