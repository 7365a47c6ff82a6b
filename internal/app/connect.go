package app

import (
	"context"
	"fmt"
	"time"

	lserrors "github.com/tonylturner/linkshim/internal/errors"
	"github.com/tonylturner/linkshim/internal/radio"
	"github.com/tonylturner/linkshim/internal/remote"
	"github.com/tonylturner/linkshim/internal/sequencer"
)

// sessionGrace is how long a shim gets to exit after its stdin closes.
const sessionGrace = 3 * time.Second

// ConnectOptions configures a controller-side session with a launched shim.
type ConnectOptions struct {
	// Target overrides remote.target ("local", "ssh://user@host:port", ...).
	Target string
	// Deploy copies this local binary to the target's remote.command path
	// before launching it.
	Deploy string
	// Iface bridges a local radio to the remote shim. Without it the harness
	// runs over the session.
	Iface      string
	RemoteArgs []string
	NoProgress bool
	Stdio      Stdio
}

// RunConnect launches the shim through a Launcher and uses the process's
// stdio as the frame tunnel. The result is nil when bridging.
func RunConnect(ctx context.Context, rt *Runtime, opts ConnectOptions) (*sequencer.Result, error) {
	if len(opts.RemoteArgs) == 0 {
		return nil, fmt.Errorf("remote shim arguments are required after --")
	}
	rc := rt.Config.Remote
	target := opts.Target
	if target == "" {
		target = rc.Target
	}

	sshOpts := remote.DefaultSSHOptions()
	if rc.Timeout > 0 {
		sshOpts.Timeout = rc.Timeout
		sshOpts.ConnectTimeout = rc.Timeout
	}
	sshOpts.KeyFile = rc.KeyFile
	sshOpts.KnownHostsFile = rc.KnownHosts
	sshOpts.InsecureIgnoreHost = rc.Insecure
	sshOpts.Stderr = rt.Logger.LineWriter("shim")

	launcher, err := remote.Parse(target, sshOpts)
	if err != nil {
		return nil, lserrors.WrapRemoteError(err, target)
	}
	defer launcher.Close()

	deploy := opts.Deploy
	if deploy == "" {
		deploy = rc.DeployFrom
	}
	cmd := append([]string{rc.Command}, opts.RemoteArgs...)
	if deploy != "" {
		deployCtx, cancel := context.WithTimeout(ctx, sshOpts.Timeout)
		cmd, err = remote.Deploy(deployCtx, launcher, deploy, rc.Command, opts.RemoteArgs)
		cancel()
		if err != nil {
			return nil, lserrors.WrapRemoteError(err, launcher.String())
		}
		rt.Logger.Info("deployed %s to %s:%s", deploy, launcher, rc.Command)
	}

	sess, err := launcher.Start(ctx, cmd)
	if err != nil {
		return nil, lserrors.WrapRemoteError(err, launcher.String())
	}
	rt.Logger.Info("shim started on %s: %v", launcher, cmd)

	ch := sess.Channel(rt.Limits()).WithCounters(rt.Metrics)
	ep := radio.NewStreamEndpoint(launcher.String(), ch, rt.Config.Tunnel.PollInterval)
	defer endSession(rt, sess, ep)

	if opts.Iface != "" {
		rec, err := rt.openRecorder()
		if err != nil {
			return nil, err
		}
		defer rt.closeRecorder(rec)
		rf, err := rt.openMonitor(opts.Iface, rec)
		if err != nil {
			return nil, err
		}
		defer rf.Close()
		return nil, runStreamBridge(ctx, rt, rf, ep)
	}

	return runHarness(ctx, rt, ep, harnessRun{
		Mode:       "connect",
		Progress:   progressOutput(opts.NoProgress, opts.Stdio.Err),
		TextReport: opts.Stdio.Err,
	})
}

// endSession closes the tunnel and gives the shim a grace period to exit on
// end-of-stream before killing it.
func endSession(rt *Runtime, sess *remote.Session, ep radio.Endpoint) {
	_ = ep.Close()
	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			rt.Logger.Verbose("shim exit: %v", err)
		}
	case <-time.After(sessionGrace):
		rt.Logger.Info("shim did not exit within %s, killing it", sessionGrace)
		_ = sess.Kill()
		<-done
	}
}
