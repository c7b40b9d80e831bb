package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
)

// IOError reports a sink write failure during capture. The stream that hit
// it stops; the sibling stream keeps running and the partial raw file stays
// on disk for recovery.
type IOError struct {
	Role Role
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("capture %s: sink write to %s failed: %v", e.Role, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Capture pulls PCM blocks from one device and appends them to one sink.
// It runs in its own goroutine; all exported readers are safe to call from
// any goroutine at any rate.
type Capture struct {
	role   Role
	device Device
	sink   Sink
	logger *slog.Logger

	// Single-writer counters, read lock-free by the status publisher and
	// the coordinator. hasAudio is sticky: once a block exceeds the silence
	// threshold it never resets, because the channel-layout decision is
	// made once at merge time.
	frames   atomic.Uint64
	hasAudio atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Start begins capturing from an already-open device into the sink and
// returns immediately. The capture goroutine owns both the device and the
// sink from this point and closes them on exit.
func Start(role Role, device Device, sink Sink, logger *slog.Logger) *Capture {
	c := &Capture{
		role:   role,
		device: device,
		sink:   sink,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go c.run()

	return c
}

// Role returns the stream role.
func (c *Capture) Role() Role { return c.role }

// SampleRate returns the device sample rate.
func (c *Capture) SampleRate() int { return c.device.SampleRate() }

// Channels returns the device channel count.
func (c *Capture) Channels() int { return c.device.Channels() }

// SinkPath returns the raw file the capture writes to.
func (c *Capture) SinkPath() string { return c.sink.Path() }

// Frames returns the monotonically increasing count of captured frames.
func (c *Capture) Frames() uint64 { return c.frames.Load() }

// HasAudio reports whether any analyzed block exceeded the silence
// threshold. Sticky for the lifetime of the capture.
func (c *Capture) HasAudio() bool { return c.hasAudio.Load() }

// Err returns the error that terminated the capture, if any. Meaningful
// after Wait returns.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// RequestStop asks the capture loop to finish its in-flight block, flush
// the sink and exit. Cooperative, idempotent, never truncates a block.
func (c *Capture) RequestStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Wait blocks until the capture goroutine has flushed and exited.
func (c *Capture) Wait() {
	<-c.done
}

func (c *Capture) run() {
	defer close(c.done)
	defer c.device.Close()

	c.logger.Info("Capture started",
		slog.String("role", c.role.String()),
		slog.Int("sample_rate", c.device.SampleRate()),
		slog.Int("channels", c.device.Channels()),
		slog.String("sink", c.sink.Path()),
	)

	for {
		block, err := c.device.ReadBlock()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.setErr(fmt.Errorf("capture %s: device read failed: %w", c.role, err))
				c.logger.Error("Device read failed, stopping capture",
					slog.String("role", c.role.String()),
					slog.Uint64("frames_captured", c.frames.Load()),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		if block.Frames > 0 {
			if err := c.sink.WriteSamples(block.Samples); err != nil {
				c.setErr(&IOError{Role: c.role, Path: c.sink.Path(), Err: err})
				c.logger.Error("Sink write failed, stopping capture",
					slog.String("role", c.role.String()),
					slog.Uint64("frames_captured", c.frames.Load()),
					slog.String("error", err.Error()),
				)
				break
			}

			c.frames.Add(uint64(block.Frames))

			if !c.hasAudio.Load() {
				if level := audio.RMSLevel(block.Samples); level > audio.SilenceThreshold {
					c.hasAudio.Store(true)
					c.logger.Info("Audio detected",
						slog.String("role", c.role.String()),
						slog.Float64("level", level),
					)
				}
			}
		}

		select {
		case <-c.stop:
			c.logger.Info("Stop requested, flushing capture",
				slog.String("role", c.role.String()),
				slog.Uint64("frames_captured", c.frames.Load()),
			)
			c.finish()
			return
		default:
		}
	}

	c.finish()
}

// finish flushes and closes the sink. A close error is only recorded when
// no earlier error terminated the loop, so the root cause is preserved.
func (c *Capture) finish() {
	if err := c.sink.Close(); err != nil {
		c.mu.Lock()
		if c.err == nil {
			c.err = &IOError{Role: c.role, Path: c.sink.Path(), Err: err}
		}
		c.mu.Unlock()
		c.logger.Error("Sink close failed",
			slog.String("role", c.role.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("Capture finished",
		slog.String("role", c.role.String()),
		slog.Uint64("frames_captured", c.frames.Load()),
		slog.Bool("has_audio", c.hasAudio.Load()),
	)
}

func (c *Capture) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}
