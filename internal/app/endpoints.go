package app

import (
	"errors"
	"io"
	"sync"

	"github.com/tonylturner/linkshim/internal/capture"
	lserrors "github.com/tonylturner/linkshim/internal/errors"
	"github.com/tonylturner/linkshim/internal/radio"
	"github.com/tonylturner/linkshim/internal/tunnel"
)

// openMonitor opens iface with the radio section's settings, taps it into rec
// when recording, and wraps failures for the operator.
func (rt *Runtime) openMonitor(iface string, rec *capture.Recorder) (radio.Endpoint, error) {
	rc := rt.Config.Radio
	mon, err := radio.OpenMonitor(iface, radio.MonitorOptions{
		SnapLen:     rc.SnapLen,
		ReadTimeout: rc.ReadTimeout,
		QueueDepth:  rc.QueueDepth,
		Filter:      rc.CaptureFilter,
		InjectRate:  rc.InjectRate,
		InjectBurst: rc.InjectBurst,
		Observer:    rt.Metrics,
		Logger:      rt.Logger,
	})
	if err != nil {
		return nil, lserrors.WrapCaptureError(err, iface)
	}
	if rec != nil {
		return radio.Tap(mon, rec, rt.Logger), nil
	}
	return mon, nil
}

// openRadio opens rx for capture. When tx names a different interface,
// frames are injected there instead.
func (rt *Runtime) openRadio(rx, tx string, rec *capture.Recorder) (radio.Endpoint, error) {
	in, err := rt.openMonitor(rx, rec)
	if err != nil {
		return nil, err
	}
	if tx == "" || tx == rx {
		return in, nil
	}
	out, err := rt.openMonitor(tx, rec)
	if err != nil {
		in.Close()
		return nil, err
	}
	return newSplitEndpoint(in, out), nil
}

// stdioEndpoint frames the process's stdin/stdout.
func (rt *Runtime) stdioEndpoint(r io.Reader, w io.Writer) *radio.StreamEndpoint {
	return rt.streamEndpoint("stdio", r, w)
}

func (rt *Runtime) streamEndpoint(name string, r io.Reader, w io.Writer) *radio.StreamEndpoint {
	ch := tunnel.NewChannel(r, w, rt.Limits()).WithCounters(rt.Metrics)
	return radio.NewStreamEndpoint(name, ch, rt.Config.Tunnel.PollInterval)
}

// splitEndpoint receives on one endpoint and transmits on another. Frames
// the transmit side captures are discarded.
type splitEndpoint struct {
	rx, tx radio.Endpoint
	drain  sync.WaitGroup
}

func newSplitEndpoint(rx, tx radio.Endpoint) *splitEndpoint {
	s := &splitEndpoint{rx: rx, tx: tx}
	s.drain.Add(1)
	go func() {
		defer s.drain.Done()
		for range tx.Frames() {
		}
	}()
	return s
}

func (s *splitEndpoint) Name() string                { return s.rx.Name() + "/" + s.tx.Name() }
func (s *splitEndpoint) Frames() <-chan []byte       { return s.rx.Frames() }
func (s *splitEndpoint) Transmit(frame []byte) error { return s.tx.Transmit(frame) }

func (s *splitEndpoint) Err() error {
	if err := radio.Cause(s.rx); err != nil {
		return err
	}
	return radio.Cause(s.tx)
}

func (s *splitEndpoint) Close() error {
	err := errors.Join(s.rx.Close(), s.tx.Close())
	s.drain.Wait()
	return err
}
