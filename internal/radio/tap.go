package radio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonylturner/linkshim/internal/capture"
	"github.com/tonylturner/linkshim/internal/logging"
)

// Tapped records every frame an endpoint observes or transmits. Recording
// failures are logged and counted; they never affect the frames themselves.
type Tapped struct {
	inner  Endpoint
	rec    *capture.Recorder
	log    *logging.Logger
	frames chan []byte
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	recordErrors atomic.Uint64
}

// Tap wraps ep so that captured and transmitted frames are written to rec.
// Closing the returned endpoint closes ep but not rec.
func Tap(ep Endpoint, rec *capture.Recorder, log *logging.Logger) *Tapped {
	if log == nil {
		log = logging.Nop()
	}
	t := &Tapped{
		inner:  ep,
		rec:    rec,
		log:    log.Named("record"),
		frames: make(chan []byte),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Tapped) run() {
	defer close(t.done)
	defer close(t.frames)
	for {
		select {
		case <-t.stop:
			return
		case frame, ok := <-t.inner.Frames():
			if !ok {
				return
			}
			t.record(frame)
			select {
			case t.frames <- frame:
			case <-t.stop:
				return
			}
		}
	}
}

// Name returns the wrapped endpoint's name.
func (t *Tapped) Name() string { return t.inner.Name() }

// Frames returns the wrapped endpoint's frames after recording.
func (t *Tapped) Frames() <-chan []byte { return t.frames }

// Transmit sends frame and records it once the medium accepted it.
func (t *Tapped) Transmit(frame []byte) error {
	if err := t.inner.Transmit(frame); err != nil {
		return err
	}
	t.record(frame)
	return nil
}

func (t *Tapped) record(frame []byte) {
	err := t.rec.Write(frame, time.Now())
	if err == nil {
		return
	}
	if t.recordErrors.Add(1) == 1 {
		t.log.Error("%s: recording failed, later failures are logged at debug: %v", t.inner.Name(), err)
		return
	}
	t.log.Debug("%s: %v", t.inner.Name(), err)
}

// RecordErrors returns the number of frames that could not be recorded.
func (t *Tapped) RecordErrors() uint64 { return t.recordErrors.Load() }

// Counters adds recording failures to the wrapped endpoint's counters.
func (t *Tapped) Counters() Counters {
	c, _ := CountersOf(t.inner)
	c.RecordErrors += t.RecordErrors()
	return c
}

// Err forwards the wrapped endpoint's failure cause.
func (t *Tapped) Err() error { return Cause(t.inner) }

// Close closes the wrapped endpoint.
func (t *Tapped) Close() error {
	var err error
	t.once.Do(func() {
		close(t.stop)
		err = t.inner.Close()
		<-t.done
	})
	return err
}
