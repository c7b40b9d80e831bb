package capture

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDevice serves a fixed sequence of blocks, then either blocks until
// closed or returns a terminal error.
type fakeDevice struct {
	blocks   [][]int16
	channels int
	finalErr error

	mu     sync.Mutex
	next   int
	closed chan struct{}
	once   sync.Once
}

func newFakeDevice(channels int, blocks ...[]int16) *fakeDevice {
	return &fakeDevice{
		blocks:   blocks,
		channels: channels,
		closed:   make(chan struct{}),
	}
}

func (d *fakeDevice) ReadBlock() (Block, error) {
	d.mu.Lock()
	if d.next < len(d.blocks) {
		samples := d.blocks[d.next]
		d.next++
		d.mu.Unlock()
		return Block{Samples: samples, Frames: len(samples) / d.channels}, nil
	}
	d.mu.Unlock()

	if d.finalErr != nil {
		return Block{}, d.finalErr
	}

	// Emulate a live device: keep producing silence until closed.
	select {
	case <-d.closed:
		return Block{}, io.EOF
	case <-time.After(time.Millisecond):
		return Block{Samples: make([]int16, 160*d.channels), Frames: 160}, nil
	}
}

func (d *fakeDevice) SampleRate() int { return 16000 }
func (d *fakeDevice) Channels() int   { return d.channels }
func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

// fakeSink records written samples and can fail on demand.
type fakeSink struct {
	mu       sync.Mutex
	samples  []int16
	writeErr error
	closeErr error
	closed   bool
}

func (s *fakeSink) WriteSamples(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *fakeSink) Path() string { return "/tmp/fake.wav" }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func loudBlock(channels int) []int16 {
	samples := make([]int16, 160*channels)
	for i := range samples {
		samples[i] = 8000
	}
	return samples
}

func TestCaptureCountsFramesAndStops(t *testing.T) {
	device := newFakeDevice(1, make([]int16, 160), make([]int16, 160))
	sink := &fakeSink{}

	c := Start(RoleLoopback, device, sink, testLogger())

	// Wait until the pre-seeded blocks have been consumed.
	deadline := time.Now().Add(2 * time.Second)
	for c.Frames() < 320 {
		if time.Now().After(deadline) {
			t.Fatal("Capture never consumed the seeded blocks")
		}
		time.Sleep(time.Millisecond)
	}

	c.RequestStop()
	c.RequestStop() // idempotent
	c.Wait()

	if c.Frames() < 320 {
		t.Errorf("Expected at least 320 frames, got %d", c.Frames())
	}
	if !sink.isClosed() {
		t.Error("Sink should be closed after stop")
	}
	if c.Err() != nil {
		t.Errorf("Clean stop should carry no error, got %v", c.Err())
	}
}

func TestCaptureAudioDetectionIsSticky(t *testing.T) {
	device := newFakeDevice(1, make([]int16, 160), loudBlock(1), make([]int16, 160))
	sink := &fakeSink{}

	c := Start(RoleMicrophone, device, sink, testLogger())

	deadline := time.Now().Add(2 * time.Second)
	for !c.HasAudio() {
		if time.Now().After(deadline) {
			t.Fatal("Audio was never detected")
		}
		time.Sleep(time.Millisecond)
	}

	c.RequestStop()
	c.Wait()

	// Silence after the loud block must not reset the flag.
	if !c.HasAudio() {
		t.Error("HasAudio must stay true once set")
	}
}

func TestCaptureSilentStreamReportsNoAudio(t *testing.T) {
	device := newFakeDevice(1, make([]int16, 160))
	sink := &fakeSink{}

	c := Start(RoleLoopback, device, sink, testLogger())
	c.RequestStop()
	c.Wait()

	if c.HasAudio() {
		t.Error("Silent blocks must not register as audio")
	}
}

func TestCaptureDeviceEOFEndsCleanly(t *testing.T) {
	device := newFakeDevice(1, make([]int16, 160))
	device.finalErr = io.EOF
	sink := &fakeSink{}

	c := Start(RoleLoopback, device, sink, testLogger())
	c.Wait()

	if c.Err() != nil {
		t.Errorf("EOF should end the capture without error, got %v", c.Err())
	}
	if c.Frames() != 160 {
		t.Errorf("Expected 160 frames before EOF, got %d", c.Frames())
	}
	if !sink.isClosed() {
		t.Error("Sink should be closed after EOF")
	}
}

func TestCaptureDeviceErrorIsRecorded(t *testing.T) {
	readErr := errors.New("device gone")
	device := newFakeDevice(1, make([]int16, 160))
	device.finalErr = readErr
	sink := &fakeSink{}

	c := Start(RoleMicrophone, device, sink, testLogger())
	c.Wait()

	if c.Err() == nil {
		t.Fatal("Expected a device read error")
	}
	if !errors.Is(c.Err(), readErr) {
		t.Errorf("Error should wrap the device failure, got %v", c.Err())
	}
	if c.Frames() != 160 {
		t.Errorf("Frames before the failure must be preserved, got %d", c.Frames())
	}
}

func TestCaptureSinkErrorStopsStream(t *testing.T) {
	device := newFakeDevice(1, make([]int16, 160))
	sink := &fakeSink{writeErr: errors.New("disk full")}

	c := Start(RoleLoopback, device, sink, testLogger())
	c.Wait()

	var ioErr *IOError
	if !errors.As(c.Err(), &ioErr) {
		t.Fatalf("Expected an IOError, got %v", c.Err())
	}
	if ioErr.Role != RoleLoopback {
		t.Errorf("Expected loopback role in error, got %s", ioErr.Role)
	}
	if !sink.isClosed() {
		t.Error("Sink should be closed even after a write failure")
	}
}
