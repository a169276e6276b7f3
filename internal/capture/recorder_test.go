package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// pipeDevice hands out the read side of a pipe the test writes into.
type pipeDevice struct {
	pr      *io.PipeReader
	pw      *io.PipeWriter
	openErr error
	closed  bool
}

func newPipeDevice() *pipeDevice {
	pr, pw := io.Pipe()
	return &pipeDevice{pr: pr, pw: pw}
}

func (d *pipeDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return closeTracker{d.pr, &d.closed}, nil
}

type closeTracker struct {
	*io.PipeReader
	closed *bool
}

func (c closeTracker) Close() error {
	*c.closed = true
	return c.PipeReader.Close()
}

func newTestRecorder(dev Device) (*Recorder, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRecorder(dev)
	r.now = clk.Now
	return r, clk
}

func TestRecorder_DurationExcludesPauses(t *testing.T) {
	dev := newPipeDevice()
	r, clk := newTestRecorder(dev)

	assert.Zero(t, r.Duration())
	require.True(t, r.Start(context.Background()))
	assert.Equal(t, StateRecording, r.State())

	clk.Advance(10 * time.Second)
	assert.Equal(t, 10*time.Second, r.Duration())

	require.True(t, r.Pause())
	clk.Advance(30 * time.Second)
	assert.Equal(t, 10*time.Second, r.Duration())

	require.True(t, r.Resume())
	clk.Advance(5 * time.Second)
	assert.Equal(t, 15*time.Second, r.Duration())

	require.True(t, r.Pause())
	clk.Advance(time.Minute)
	require.True(t, r.Resume())
	clk.Advance(2 * time.Second)

	assert.Equal(t, 17*time.Second, r.Stop())
	clk.Advance(time.Hour)
	assert.Equal(t, 17*time.Second, r.Duration())
	assert.Equal(t, StateStopped, r.State())
	assert.True(t, dev.closed)
}

func TestRecorder_PauseIsNoopUnlessRecording(t *testing.T) {
	r, _ := newTestRecorder(newPipeDevice())

	assert.False(t, r.Pause())
	assert.False(t, r.Resume())

	require.True(t, r.Start(context.Background()))
	assert.True(t, r.Pause())
	assert.False(t, r.Pause())
	assert.True(t, r.Resume())
	assert.False(t, r.Resume())
	r.Stop()
	assert.False(t, r.Pause())
}

func TestRecorder_BuffersChunks(t *testing.T) {
	dev := newPipeDevice()
	r, _ := newTestRecorder(dev)
	require.True(t, r.Start(context.Background()))

	_, err := dev.pw.Write([]byte("opus-"))
	require.NoError(t, err)
	_, err = dev.pw.Write([]byte("frames"))
	require.NoError(t, err)

	r.Stop()
	assert.Equal(t, []byte("opus-frames"), r.Blob())
	require.NoError(t, r.Err())
}

func TestRecorder_BlobNilWhenNothingRecorded(t *testing.T) {
	r, _ := newTestRecorder(newPipeDevice())
	assert.Nil(t, r.Blob())

	require.True(t, r.Start(context.Background()))
	r.Stop()
	assert.Nil(t, r.Blob())
}

func TestRecorder_PermissionDeniedIsReported(t *testing.T) {
	dev := newPipeDevice()
	dev.openErr = ErrPermissionDenied
	r, _ := newTestRecorder(dev)

	assert.False(t, r.Start(context.Background()))
	assert.True(t, errors.Is(r.Err(), ErrPermissionDenied))
	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, r.Duration())
}

func TestRecorder_ResetClearsEverything(t *testing.T) {
	dev := newPipeDevice()
	r, clk := newTestRecorder(dev)
	require.True(t, r.Start(context.Background()))
	_, err := dev.pw.Write([]byte("abc"))
	require.NoError(t, err)
	clk.Advance(3 * time.Second)
	r.Stop()
	require.NotNil(t, r.Blob())

	r.Reset()
	assert.Nil(t, r.Blob())
	assert.Zero(t, r.Duration())
	assert.Equal(t, StateIdle, r.State())
	assert.NoError(t, r.Err())
}

func TestRecorder_ResetWhileRecordingReleasesDevice(t *testing.T) {
	dev := newPipeDevice()
	r, _ := newTestRecorder(dev)
	require.True(t, r.Start(context.Background()))
	require.True(t, r.Pause())

	r.Reset()
	assert.True(t, dev.closed)
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_StartTwiceFails(t *testing.T) {
	r, _ := newTestRecorder(newPipeDevice())
	require.True(t, r.Start(context.Background()))
	assert.False(t, r.Start(context.Background()))
	r.Stop()
}

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visit.webm")
	require.NoError(t, os.WriteFile(path, []byte("webm-payload"), 0o600))

	r := NewRecorder(FileDevice{Path: path})
	assert.Nil(t, r.Done())
	require.True(t, r.Start(context.Background()))
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("file device was not drained")
	}
	r.Stop()
	assert.Equal(t, []byte("webm-payload"), r.Blob())
	assert.NoError(t, r.Err())
}

func TestFileDevice_Missing(t *testing.T) {
	r := NewRecorder(FileDevice{Path: filepath.Join(t.TempDir(), "nope.webm")})
	assert.False(t, r.Start(context.Background()))
	assert.Error(t, r.Err())
}
