package remote

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Parse turns a target string into a Launcher.
// Supported formats:
//   - "" or "local" -> Local
//   - "ssh://user@host:port" -> SSH
//   - "ssh://user@host:port?key=/path&insecure=true&sudo=true" -> SSH with options
//   - "user@host" or "host" -> SSH with defaults
//
// base supplies the options the target string does not override.
func Parse(target string, base SSHOptions) (Launcher, error) {
	if IsLocal(target) {
		return NewLocal(base.Options), nil
	}
	if strings.Contains(target, "://") {
		return parseURL(target, base)
	}
	return parseSSHHost(target, base)
}

func parseURL(target string, base SSHOptions) (Launcher, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	switch u.Scheme {
	case "local":
		return NewLocal(base.Options), nil
	case "ssh":
		return parseSSHURL(u, base)
	default:
		return nil, fmt.Errorf("unsupported remote scheme: %s", u.Scheme)
	}
}

func parseSSHURL(u *url.URL, opts SSHOptions) (Launcher, error) {
	if u.User != nil {
		opts.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
			opts.AllowPassword = true
		}
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("SSH host is required")
	}
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		opts.Port = port
	}

	q := u.Query()
	if key := q.Get("key"); key != "" {
		opts.KeyFile = key
	}
	if passphrase := q.Get("passphrase"); passphrase != "" {
		opts.KeyPassphrase = passphrase
	}
	if knownHosts := q.Get("known_hosts"); knownHosts != "" {
		opts.KnownHostsFile = knownHosts
	}
	if isTrue(q.Get("insecure")) {
		opts.InsecureIgnoreHost = true
	}
	if agent := q.Get("agent"); agent == "false" || agent == "0" {
		opts.Agent = false
	}
	if isTrue(q.Get("sudo")) {
		opts.Elevate = true
	}

	return NewSSH(host, opts)
}

func parseSSHHost(target string, opts SSHOptions) (Launcher, error) {
	// LastIndex: usernames can contain @
	if idx := strings.LastIndex(target, "@"); idx != -1 {
		opts.User = target[:idx]
		target = target[idx+1:]
	}

	host := target
	if idx := strings.LastIndex(target, ":"); idx != -1 {
		if port, err := strconv.Atoi(target[idx+1:]); err == nil {
			opts.Port = port
			host = target[:idx]
		}
	}
	if host == "" {
		return nil, fmt.Errorf("SSH host is required")
	}
	return NewSSH(host, opts)
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

// IsLocal returns true if target refers to a local launch.
func IsLocal(target string) bool {
	return target == "" || target == "local" || target == "local://"
}
