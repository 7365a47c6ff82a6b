package bridge

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonylturner/linkshim/internal/dot11"
	"github.com/tonylturner/linkshim/internal/radio"
)

var (
	shimMAC   = dot11.MustParseMAC("02:00:00:00:01:00")
	deviceMAC = dot11.MustParseMAC("02:00:00:00:00:00")
	otherMAC  = dot11.MustParseMAC("02:00:00:00:02:00")
)

func actionFrame(t *testing.T, dst, src, bssid net.HardwareAddr, fromDS bool) []byte {
	t.Helper()
	raw, err := dot11.BuildAction(dot11.Header{Dst: dst, Src: src, BSSID: bssid, FromDS: fromDS}, []byte{0x17, 0x00, 0x00, 0x00, 1, 2, 3, 4})
	require.NoError(t, err)
	return raw
}

func beaconFrame(t *testing.T, src net.HardwareAddr) []byte {
	t.Helper()
	raw, err := dot11.Build(layers.Dot11TypeMgmtBeacon, dot11.Header{Dst: dot11.MustParseMAC("ff:ff:ff:ff:ff:ff"), Src: src, BSSID: src}, make([]byte, 12))
	require.NoError(t, err)
	return raw
}

type harness struct {
	bridge *Bridge
	air    *radio.PipeEnd // station on the radio side
	ctl    *radio.PipeEnd // controller on the far side
	cancel context.CancelFunc
	done   chan error
}

func startBridge(t *testing.T, radioPolicy, farPolicy Policy) *harness {
	t.Helper()
	return startBridgeOn(t, radio.PipeOptions{}, radioPolicy, farPolicy)
}

func startBridgeOn(t *testing.T, medium radio.PipeOptions, radioPolicy, farPolicy Policy) *harness {
	t.Helper()
	air, radioSide := radio.Pipe("air", "radio", medium)
	ctl, farSide := radio.Pipe("controller", "far", medium)

	br, err := New(
		Side{Name: "radio", Endpoint: radioSide, Policy: radioPolicy},
		Side{Name: "far", Endpoint: farSide, Policy: farPolicy},
		Options{Identity: shimMAC},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{bridge: br, air: air, ctl: ctl, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- br.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

// waitReceived waits until n frames received on side have a verdict.
func (h *harness) waitReceived(t *testing.T, side int, n uint64) SideStats {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.bridge.Stats()[side]
		return s.Forwarded+s.Dropped() >= n
	}, time.Second, 2*time.Millisecond)
	return h.bridge.Stats()[side]
}

func drain(ep radio.Endpoint) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-ep.Frames():
			out = append(out, f)
		case <-time.After(30 * time.Millisecond):
			return out
		}
	}
}

func TestSelfSourcedFramesNeverForwarded(t *testing.T) {
	h := startBridge(t, PolicyNetwork, PolicyPassthrough)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.air.Transmit(actionFrame(t, deviceMAC, shimMAC, shimMAC, false)))
		require.NoError(t, h.air.Transmit(beaconFrame(t, shimMAC)))
	}
	stats := h.waitReceived(t, 0, 10)

	assert.Zero(t, stats.Forwarded)
	assert.Equal(t, uint64(10), stats.Self)
	assert.Empty(t, drain(h.ctl))
}

func TestActionFrameRequiresSourceEqualsNetworkIdentifier(t *testing.T) {
	h := startBridge(t, PolicyNetwork, PolicyPassthrough)

	spoofed := actionFrame(t, shimMAC, deviceMAC, otherMAC, false)
	require.NoError(t, h.air.Transmit(spoofed))
	stats := h.waitReceived(t, 0, 1)
	assert.Zero(t, stats.Forwarded, "mismatched source/network identifier must be discarded")
	assert.Equal(t, uint64(1), stats.Spoofed)

	genuine := actionFrame(t, shimMAC, deviceMAC, deviceMAC, false)
	require.NoError(t, h.air.Transmit(genuine))
	stats = h.waitReceived(t, 0, 2)
	assert.Equal(t, uint64(1), stats.Forwarded)
	assert.Equal(t, [][]byte{genuine}, drain(h.ctl))
}

func TestNetworkPolicyForwardsOtherTraffic(t *testing.T) {
	h := startBridge(t, PolicyNetwork, PolicyPassthrough)

	beacon := beaconFrame(t, otherMAC)
	require.NoError(t, h.air.Transmit(beacon))
	h.waitReceived(t, 0, 1)
	assert.Equal(t, [][]byte{beacon}, drain(h.ctl))
}

func TestUndecodableFramesDropped(t *testing.T) {
	h := startBridge(t, PolicyPassthrough, PolicyPassthrough)

	require.NoError(t, h.air.Transmit([]byte{0xde, 0xad}))
	require.NoError(t, h.ctl.Transmit([]byte{}))
	h.waitReceived(t, 0, 1)
	h.waitReceived(t, 1, 1)

	stats := h.bridge.Stats()
	assert.Equal(t, uint64(1), stats[0].Decode)
	assert.Equal(t, uint64(1), stats[1].Decode)
	assert.Zero(t, stats[0].Forwarded+stats[1].Forwarded)
	assert.Empty(t, drain(h.air))
	assert.Empty(t, drain(h.ctl))
}

func TestDevicePolicy(t *testing.T) {
	h := startBridge(t, PolicyDevice, PolicyPassthrough)

	forUs := actionFrame(t, shimMAC, deviceMAC, deviceMAC, false)
	fromDS := actionFrame(t, otherMAC, deviceMAC, deviceMAC, true)
	require.NoError(t, h.air.Transmit(beaconFrame(t, otherMAC)))
	require.NoError(t, h.air.Transmit(actionFrame(t, otherMAC, deviceMAC, deviceMAC, false)))
	require.NoError(t, h.air.Transmit(actionFrame(t, shimMAC, shimMAC, shimMAC, true)))
	require.NoError(t, h.air.Transmit(forUs))
	require.NoError(t, h.air.Transmit(fromDS))

	stats := h.waitReceived(t, 0, 5)
	assert.Equal(t, uint64(1), stats.Self)
	assert.Equal(t, uint64(2), stats.Filtered)
	assert.Equal(t, uint64(2), stats.Forwarded)
	assert.Equal(t, [][]byte{forUs, fromDS}, drain(h.ctl))
}

func TestOrderPreservedPerSide(t *testing.T) {
	h := startBridge(t, PolicyPassthrough, PolicyPassthrough)

	var sent [][]byte
	for i := 0; i < 20; i++ {
		f, err := dot11.BuildAction(dot11.Header{Dst: deviceMAC, Src: otherMAC, BSSID: otherMAC}, []byte{0x17, 0, byte(i), 0, 0, 0, 0, 0})
		require.NoError(t, err)
		sent = append(sent, f)
		require.NoError(t, h.ctl.Transmit(f))
	}
	h.waitReceived(t, 1, 20)
	assert.Equal(t, sent, drain(h.air))
}

func TestEchoedTransmissionsNotForwardedAgain(t *testing.T) {
	h := startBridgeOn(t, radio.PipeOptions{Echo: true}, PolicyNetwork, PolicyPassthrough)

	beacon := beaconFrame(t, otherMAC)
	require.NoError(t, h.air.Transmit(beacon))
	far := h.waitReceived(t, 1, 1)
	assert.Equal(t, uint64(1), far.Echo)

	request := actionFrame(t, shimMAC, deviceMAC, deviceMAC, false)
	require.NoError(t, h.ctl.Transmit(request))
	near := h.waitReceived(t, 0, 2)
	assert.Equal(t, uint64(1), near.Echo)

	// each station hears its own frame once and the other's frame once
	assert.Equal(t, [][]byte{beacon, request}, drain(h.air))
	assert.Equal(t, [][]byte{beacon, request}, drain(h.ctl))

	stats := h.bridge.Stats()
	assert.Equal(t, uint64(2), stats[0].Received, "a frame bounced between the sides")
	assert.Equal(t, uint64(2), stats[1].Received, "a frame bounced between the sides")
	assert.Equal(t, uint64(1), stats[0].Forwarded)
	assert.Equal(t, uint64(1), stats[1].Forwarded)
}

func TestEchoSuppressionCountsEachTransmission(t *testing.T) {
	h := startBridgeOn(t, radio.PipeOptions{Echo: true}, PolicyNetwork, PolicyPassthrough)

	beacon := beaconFrame(t, otherMAC)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.air.Transmit(beacon))
	}
	h.waitReceived(t, 0, 3)
	far := h.waitReceived(t, 1, 3)
	assert.Equal(t, uint64(3), far.Echo)
	assert.Zero(t, far.Forwarded)
	assert.Len(t, drain(h.ctl), 3)
}

func TestRepeatedFramesFromOneSideAllForwarded(t *testing.T) {
	h := startBridge(t, PolicyNetwork, PolicyPassthrough)

	beacon := beaconFrame(t, otherMAC)
	require.NoError(t, h.air.Transmit(beacon))
	require.NoError(t, h.air.Transmit(beacon))
	stats := h.waitReceived(t, 0, 2)
	assert.Equal(t, uint64(2), stats.Forwarded)
	assert.Zero(t, stats.Echo)
	assert.Len(t, drain(h.ctl), 2)
}

func TestRoutedSidesShareTheStream(t *testing.T) {
	netAir, netSide := radio.Pipe("net-air", "mon1", radio.PipeOptions{Echo: true})
	devAir, devSide := radio.Pipe("dev-air", "mon0", radio.PipeOptions{Echo: true})
	ctl, stream := radio.Pipe("controller", "stdio", radio.PipeOptions{})

	br, err := NewRouted([]Side{
		{Endpoint: netSide, Policy: PolicyNetwork},
		{Endpoint: devSide, Policy: PolicyDevice},
		{Endpoint: stream, Policy: PolicyPassthrough, Stream: true},
	}, []int{2, 2, 0}, Options{Identity: shimMAC})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	beacon := beaconFrame(t, otherMAC)
	deviceBeacon := beaconFrame(t, deviceMAC)
	reply := actionFrame(t, shimMAC, deviceMAC, deviceMAC, false)
	require.NoError(t, netAir.Transmit(beacon))
	require.Eventually(t, func() bool { return br.Stats()[0].Forwarded == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, devAir.Transmit(deviceBeacon))
	require.NoError(t, devAir.Transmit(reply))
	require.Eventually(t, func() bool {
		s := br.Stats()[1]
		return s.Forwarded+s.Dropped() == 2
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, [][]byte{beacon, reply}, drain(ctl))

	request := actionFrame(t, deviceMAC, shimMAC, shimMAC, false)
	require.NoError(t, ctl.Transmit(request))
	require.Eventually(t, func() bool { return br.Stats()[0].Echo == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, [][]byte{beacon, request}, drain(netAir))
	assert.Equal(t, [][]byte{deviceBeacon, reply}, drain(devAir), "tunnel frames go out on the first radio only")

	stats := br.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, "mon1", stats[0].Name)
	assert.Equal(t, uint64(1), stats[1].Filtered)
	assert.Equal(t, uint64(1), stats[2].Forwarded)
}

type failingEndpoint struct {
	frames chan []byte
}

func (f *failingEndpoint) Name() string                { return "stdio" }
func (f *failingEndpoint) Frames() <-chan []byte       { return f.frames }
func (f *failingEndpoint) Transmit(frame []byte) error { return errors.New("broken pipe") }
func (f *failingEndpoint) Close() error                { return nil }

func TestStreamTransmitFailureIsFatal(t *testing.T) {
	air, radioSide := radio.Pipe("air", "radio", radio.PipeOptions{})
	stream := &failingEndpoint{frames: make(chan []byte)}

	br, err := New(
		Side{Name: "radio", Endpoint: radioSide, Policy: PolicyNetwork},
		Side{Name: "stdio", Endpoint: stream, Policy: PolicyPassthrough, Stream: true},
		Options{Identity: shimMAC},
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- br.Run(context.Background()) }()

	require.NoError(t, air.Transmit(beaconFrame(t, otherMAC)))
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken pipe")
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop on stream transmit failure")
	}
	assert.Equal(t, uint64(1), br.Stats()[0].TxError)
}

func TestForwardToClosedStation(t *testing.T) {
	h := startBridge(t, PolicyPassthrough, PolicyPassthrough)
	require.NoError(t, h.air.Close())

	require.NoError(t, h.ctl.Transmit(beaconFrame(t, otherMAC)))
	stats := h.waitReceived(t, 1, 1)
	assert.Zero(t, stats.TxError, "a closed peer station is not a transmit failure")
	assert.Equal(t, uint64(1), stats.Forwarded)
}

func TestSideClosedEndsRun(t *testing.T) {
	_, radioSide := radio.Pipe("air", "radio", radio.PipeOptions{})
	_, farSide := radio.Pipe("controller", "far", radio.PipeOptions{})
	br, err := New(Side{Endpoint: radioSide}, Side{Endpoint: farSide}, Options{Identity: shimMAC})
	require.NoError(t, err)

	require.NoError(t, farSide.Close())
	err = br.Run(context.Background())
	assert.True(t, errors.Is(err, ErrSideClosed))
	assert.Contains(t, err.Error(), "far side stopped")
}

func TestRunCancelled(t *testing.T) {
	_, radioSide := radio.Pipe("air", "radio", radio.PipeOptions{})
	_, farSide := radio.Pipe("controller", "far", radio.PipeOptions{})
	br, err := New(Side{Endpoint: radioSide}, Side{Endpoint: farSide}, Options{Identity: shimMAC})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(br.Run(ctx), context.Canceled))
}

func TestNewValidation(t *testing.T) {
	_, ep := radio.Pipe("a", "b", radio.PipeOptions{})
	_, err := New(Side{Endpoint: ep}, Side{Endpoint: ep}, Options{Identity: net.HardwareAddr{1, 2}})
	assert.Error(t, err)
	_, err = New(Side{Endpoint: ep}, Side{}, Options{Identity: shimMAC})
	assert.Error(t, err)

	sides := []Side{{Endpoint: ep}, {Endpoint: ep}}
	_, err = NewRouted(sides[:1], []int{0}, Options{Identity: shimMAC})
	assert.Error(t, err)
	_, err = NewRouted(sides, []int{1}, Options{Identity: shimMAC})
	assert.Error(t, err)
	_, err = NewRouted(sides, []int{1, 1}, Options{Identity: shimMAC})
	assert.Error(t, err, "a side cannot route to itself")
	_, err = NewRouted(sides, []int{1, 2}, Options{Identity: shimMAC})
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"network", PolicyNetwork, false},
		{"Device", PolicyDevice, false},
		{"passthrough", PolicyPassthrough, false},
		{"open", PolicyPassthrough, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, name string) Policy {
	t.Helper()
	p, err := ParsePolicy(name)
	require.NoError(t, err)
	return p
}
