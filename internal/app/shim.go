package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonylturner/linkshim/internal/bridge"
	"github.com/tonylturner/linkshim/internal/dot11"
	lserrors "github.com/tonylturner/linkshim/internal/errors"
	"github.com/tonylturner/linkshim/internal/radio"
	"github.com/tonylturner/linkshim/internal/tunnel"
)

// ShimOptions configures the stdio shim.
type ShimOptions struct {
	// Iface captures network traffic and injects the tunnel's frames.
	// DeviceIface, when set, is a second radio facing the device whose
	// captures pass the device policy and join the tunnel too.
	Iface       string
	DeviceIface string
	Stdio       Stdio
}

// RunShim bridges one or two monitor interfaces to the length-prefixed tunnel
// on stdin/stdout. The controller closing stdin is a normal exit.
func RunShim(ctx context.Context, rt *Runtime, opts ShimOptions) error {
	if opts.Iface == "" {
		return fmt.Errorf("an interface is required")
	}
	rec, err := rt.openRecorder()
	if err != nil {
		return err
	}
	defer rt.closeRecorder(rec)

	network, err := rt.openMonitor(opts.Iface, rec)
	if err != nil {
		return err
	}
	defer network.Close()
	radios := []shimRadio{{ep: network, policy: rt.Config.Bridge.NetworkPolicy}}

	if opts.DeviceIface != "" && opts.DeviceIface != opts.Iface {
		device, err := rt.openMonitor(opts.DeviceIface, rec)
		if err != nil {
			return err
		}
		defer device.Close()
		radios = append(radios, shimRadio{ep: device, policy: rt.Config.Bridge.DevicePolicy})
	}

	stream := rt.stdioEndpoint(opts.Stdio.In, opts.Stdio.Out)
	defer stream.Close()

	return runShimBridge(ctx, rt, stream, radios...)
}

// shimRadio is a capture endpoint and the policy applied to its frames.
type shimRadio struct {
	ep     radio.Endpoint
	policy string
}

// runStreamBridge forwards between one radio and a tunnel side.
func runStreamBridge(ctx context.Context, rt *Runtime, rf radio.Endpoint, stream radio.Endpoint) error {
	return runShimBridge(ctx, rt, stream, shimRadio{ep: rf, policy: rt.Config.Bridge.NetworkPolicy})
}

// runShimBridge sends what each radio's policy accepts into the tunnel and
// injects the tunnel's frames on the first radio.
func runShimBridge(ctx context.Context, rt *Runtime, stream radio.Endpoint, radios ...shimRadio) error {
	n := len(radios)
	sides := make([]bridge.Side, 0, n+1)
	routes := make([]int, 0, n+1)
	policies := make([]string, 0, n+1)
	endpoints := make([]radio.Endpoint, 0, n)
	for _, r := range radios {
		sides = append(sides, bridge.Side{Name: r.ep.Name(), Endpoint: r.ep})
		routes = append(routes, n)
		policies = append(policies, r.policy)
		endpoints = append(endpoints, r.ep)
	}
	sides = append(sides, bridge.Side{Name: stream.Name(), Endpoint: stream, Stream: true})
	routes = append(routes, 0)
	policies = append(policies, rt.Config.Bridge.StreamPolicy)

	br, err := rt.newBridge(sides, routes, policies)
	if err != nil {
		return err
	}
	err = br.Run(ctx)
	logBridgeStats(rt, br, endpoints...)
	return shimExit(err, stream, endpoints...)
}

// newBridge parses the identity and each side's policy and builds the bridge.
func (rt *Runtime) newBridge(sides []bridge.Side, routes []int, policies []string) (*bridge.Bridge, error) {
	identity, err := dot11.ParseMAC(rt.Config.Identity.Shim)
	if err != nil {
		return nil, fmt.Errorf("identity.shim: %w", err)
	}
	if len(policies) != len(sides) {
		return nil, fmt.Errorf("%d sides but %d policies", len(sides), len(policies))
	}
	for i := range sides {
		if sides[i].Policy, err = bridge.ParsePolicy(policies[i]); err != nil {
			return nil, err
		}
	}
	return bridge.NewRouted(sides, routes, bridge.Options{
		Identity:   identity,
		EchoWindow: rt.Config.Bridge.EchoWindow,
		Logger:     rt.Logger,
		Metrics:    rt.Metrics,
	})
}

// shimExit maps the bridge's exit. Cancellation and the controller closing
// the stream are clean; other stream failures are transport errors and a
// failed radio is a capture error. stream may be nil.
func shimExit(err error, stream radio.Endpoint, radios ...radio.Endpoint) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if stream != nil {
		if cause := radio.Cause(stream); cause != nil {
			if cause == tunnel.ErrClosed {
				return nil
			}
			return lserrors.WrapTransportError(err, stream.Name())
		}
		if errors.Is(err, tunnel.ErrClosed) || errors.Is(err, tunnel.ErrFrameTooLarge) {
			return lserrors.WrapTransportError(err, stream.Name())
		}
	}
	for _, rf := range radios {
		if radio.Cause(rf) != nil {
			return lserrors.WrapCaptureError(err, rf.Name())
		}
	}
	return err
}

// logBridgeStats logs each side's verdict counters and the losses the radios
// counted on their own.
func logBridgeStats(rt *Runtime, br *bridge.Bridge, radios ...radio.Endpoint) {
	for _, s := range br.Stats() {
		rt.Logger.Info("%s (%s): received %d, forwarded %d, dropped %d (echo %d, self %d, spoofed %d, filtered %d, decode %d, tx errors %d)",
			s.Name, s.Policy, s.Received, s.Forwarded, s.Dropped(), s.Echo, s.Self, s.Spoofed, s.Filtered, s.Decode, s.TxError)
	}
	for _, rf := range radios {
		if c, ok := radio.CountersOf(rf); ok {
			rt.Logger.Info("%s: %d captured frames lost to a full queue, %d injections rate limited, %d recording failures",
				rf.Name(), c.Overflow, c.RateLimited, c.RecordErrors)
		}
	}
}
