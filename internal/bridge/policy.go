package bridge

import (
	"fmt"
	"net"
	"strings"

	"github.com/tonylturner/linkshim/internal/dot11"
)

// Policy decides whether a frame received on one side may cross to the other.
type Policy int

const (
	// PolicyNetwork guards the network-facing side: no self-sourced frames and
	// no action frames whose source differs from the network identifier.
	PolicyNetwork Policy = iota
	// PolicyDevice guards the device-facing radio: no self-sourced frames,
	// only action frames, and frames for other stations only when they come
	// from the infrastructure.
	PolicyDevice
	// PolicyPassthrough forwards everything that decodes. It is meant for the
	// tunnel side, whose frames are the controller's own and carry any
	// source it chooses.
	PolicyPassthrough
)

// Verdict is the outcome of applying a policy to one frame.
type Verdict string

const (
	VerdictForward  Verdict = "forwarded"
	VerdictEcho     Verdict = "echo"
	VerdictSelf     Verdict = "self"
	VerdictSpoofed  Verdict = "spoofed"
	VerdictFiltered Verdict = "filtered"
	VerdictDecode   Verdict = "decode"
	VerdictTxError  Verdict = "tx_error"
)

// ParsePolicy maps a config name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "network":
		return PolicyNetwork, nil
	case "device":
		return PolicyDevice, nil
	case "passthrough", "none":
		return PolicyPassthrough, nil
	default:
		return PolicyPassthrough, fmt.Errorf("unknown bridge policy %q", name)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyNetwork:
		return "network"
	case PolicyDevice:
		return "device"
	case PolicyPassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Decide applies the policy. identity is this bridge's own hardware address.
func (p Policy) Decide(f dot11.Frame, identity net.HardwareAddr) Verdict {
	switch p {
	case PolicyNetwork:
		if dot11.SameAddr(f.Src, identity) {
			return VerdictSelf
		}
		if f.IsAction() && !dot11.SameAddr(f.Src, f.BSSID) {
			return VerdictSpoofed
		}
		return VerdictForward
	case PolicyDevice:
		if dot11.SameAddr(f.Src, identity) {
			return VerdictSelf
		}
		if !f.IsAction() {
			return VerdictFiltered
		}
		if !dot11.SameAddr(f.Dst, identity) && !f.FromDS {
			return VerdictFiltered
		}
		return VerdictForward
	default:
		return VerdictForward
	}
}
