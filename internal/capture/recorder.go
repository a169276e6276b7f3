// Package capture buffers audio from a Device and tracks how long the
// clinician actually recorded, excluding pauses.
package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

const chunkSize = 4096

// Recorder is safe for concurrent use. A background reader drains the
// device stream into an in-memory buffer until Stop or Reset.
type Recorder struct {
	dev Device
	now func() time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	stream io.Closer
	done   chan struct{}
	buf    bytes.Buffer
	err    error

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	final       time.Duration
}

func NewRecorder(dev Device) *Recorder {
	r := &Recorder{dev: dev, now: time.Now, state: StateIdle}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start opens the device and begins buffering. A device failure is kept in
// Err and reported as false.
func (r *Recorder) Start(ctx context.Context) bool {
	r.mu.Lock()
	if r.state == StateRecording || r.state == StatePaused {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	stream, err := r.dev.Open(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.err = err
		return false
	}
	r.buf.Reset()
	r.err = nil
	r.state = StateRecording
	r.stream = stream
	r.startedAt = r.now()
	r.pausedAt = time.Time{}
	r.pausedTotal = 0
	r.final = 0
	r.done = make(chan struct{})
	go r.drain(stream, r.done)
	return true
}

func (r *Recorder) drain(src io.Reader, done chan struct{}) {
	defer close(done)
	chunk := make([]byte, chunkSize)
	for {
		r.mu.Lock()
		for r.state == StatePaused {
			r.cond.Wait()
		}
		if r.state != StateRecording {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		n, err := src.Read(chunk)

		r.mu.Lock()
		// a read that completes after Pause belongs to the paused interval
		if n > 0 && (r.state == StateRecording || r.state == StateStopped) {
			r.buf.Write(chunk[:n])
		}
		r.mu.Unlock()

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				r.mu.Lock()
				if r.state == StateRecording || r.state == StatePaused {
					r.err = err
				}
				r.mu.Unlock()
			}
			return
		}
	}
}

// Pause suspends buffering. It is a no-op returning false unless recording.
func (r *Recorder) Pause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return false
	}
	r.state = StatePaused
	r.pausedAt = r.now()
	return true
}

func (r *Recorder) Resume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return false
	}
	r.pausedTotal += r.now().Sub(r.pausedAt)
	r.pausedAt = time.Time{}
	r.state = StateRecording
	r.cond.Broadcast()
	return true
}

// Stop ends capture, releases the device and freezes the duration.
func (r *Recorder) Stop() time.Duration {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		d := r.final
		r.mu.Unlock()
		return d
	}
	r.final = r.durationLocked()
	r.state = StateStopped
	stream, done := r.stream, r.done
	r.stream = nil
	r.cond.Broadcast()
	r.mu.Unlock()

	r.release(stream, done)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// Duration is elapsed wall time minus every paused interval.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.durationLocked()
}

func (r *Recorder) durationLocked() time.Duration {
	switch r.state {
	case StateRecording:
		return r.now().Sub(r.startedAt) - r.pausedTotal
	case StatePaused:
		return r.pausedAt.Sub(r.startedAt) - r.pausedTotal
	case StateStopped:
		return r.final
	}
	return 0
}

// Blob returns a copy of the buffered audio, or nil when nothing was captured.
func (r *Recorder) Blob() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf.Len() == 0 {
		return nil
	}
	return bytes.Clone(r.buf.Bytes())
}

// Reset releases the device and clears the buffer and all counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	stream, done := r.stream, r.done
	r.stream = nil
	r.done = nil
	r.state = StateIdle
	r.cond.Broadcast()
	r.mu.Unlock()

	r.release(stream, done)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Reset()
	r.err = nil
	r.startedAt = time.Time{}
	r.pausedAt = time.Time{}
	r.pausedTotal = 0
	r.final = 0
}

func (r *Recorder) release(stream io.Closer, done chan struct{}) {
	if stream != nil {
		_ = stream.Close()
	}
	if done != nil {
		<-done
	}
}

// Done is closed once the device stream is exhausted or released. It is
// nil before Start.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
