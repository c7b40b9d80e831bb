package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/capture"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/merge"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/metrics"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/status"
)

// Merger produces the final deliverable from finished raw sinks.
// *merge.Encoder satisfies it; tests substitute a fake.
type Merger interface {
	Merge(ctx context.Context, in merge.Inputs, opts merge.Options) (*merge.Result, error)
}

// Coordinator orchestrates capture streams and the merge encoder through the
// session state machine. It is the only component other subsystems talk to.
type Coordinator struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	opener        capture.Opener
	encoder       Merger
	publisher     *status.Publisher
	recordingsDir string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[ID]*active
	wg       sync.WaitGroup

	// pollInterval drives the duration/stop check loop; shortened in tests.
	pollInterval time.Duration
}

// active is one live session owned by its coordinator goroutine.
type active struct {
	id    ID
	cfg   Config
	start time.Time

	loopback *capture.Capture
	mic      *capture.Capture

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu        sync.RWMutex
	state     State
	finalPath string
	finalSize int64
	failKind  string
	failMsg   string
}

// NewCoordinator wires the coordinator's collaborators. The metrics handle
// may be nil.
func NewCoordinator(logger *slog.Logger, m *metrics.Metrics, opener capture.Opener, encoder Merger, publisher *status.Publisher, recordingsDir string) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:        logger,
		metrics:       m,
		opener:        opener,
		encoder:       encoder,
		publisher:     publisher,
		recordingsDir: recordingsDir,
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[ID]*active),
		pollInterval:  250 * time.Millisecond,
	}
}

// Start opens the capture devices and begins recording. A microphone failure
// degrades the session to a single stream; the session only fails to start
// when no stream at all can be opened.
func (c *Coordinator) Start(cfg Config) (ID, error) {
	id := NewID()

	loopback, loopErr := c.openStream(capture.RoleLoopback, id)
	mic, micErr := c.openStream(capture.RoleMicrophone, id)

	if loopback == nil && mic == nil {
		c.logger.Error("No capture stream could be opened",
			slog.String("session_id", id.String()),
			slog.String("loopback_error", errString(loopErr)),
			slog.String("mic_error", errString(micErr)),
		)
		return "", fmt.Errorf("failed to open any capture stream: loopback: %v, mic: %v", loopErr, micErr)
	}

	if mic == nil {
		c.logger.Warn("Microphone unavailable, recording system audio only",
			slog.String("session_id", id.String()),
			slog.String("error", errString(micErr)),
		)
		if c.metrics != nil {
			c.metrics.DegradedStarts.Inc()
		}
	}
	if loopback == nil {
		c.logger.Warn("System loopback unavailable, recording microphone only",
			slog.String("session_id", id.String()),
			slog.String("error", errString(loopErr)),
		)
		if c.metrics != nil {
			c.metrics.DegradedStarts.Inc()
		}
	}

	sess := &active{
		id:       id,
		cfg:      cfg,
		start:    time.Now(),
		loopback: loopback,
		mic:      mic,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateRecording,
	}

	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
		c.metrics.ActiveSessions.Inc()
	}

	c.logger.Info("Recording session started",
		slog.String("session_id", id.String()),
		slog.String("quality", cfg.Quality.Name),
		slog.String("format", cfg.Format.String()),
		slog.Bool("manual", cfg.Manual()),
		slog.Duration("target_duration", cfg.Duration),
		slog.Bool("dual_stream", loopback != nil && mic != nil),
	)

	publishCtx, stopPublish := context.WithCancel(c.ctx)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.publisher.Run(publishCtx, sess)
	}()
	go func() {
		defer c.wg.Done()
		defer stopPublish()
		c.runSession(sess)
	}()

	return id, nil
}

// openStream opens one role's device and wires it to a raw WAV sink. Returns
// nil (with the cause) when the stream cannot be brought up; the caller
// decides whether that degrades or fails the session.
func (c *Coordinator) openStream(role capture.Role, id ID) (*capture.Capture, error) {
	device, err := c.opener.Open(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrDeviceUnavailable, role, err)
	}

	sinkPath := filepath.Join(c.recordingsDir, role.SinkName(id.String()))
	sink, err := audio.NewWriter(sinkPath, device.SampleRate(), device.Channels())
	if err != nil {
		device.Close()
		return nil, fmt.Errorf("failed to create sink for %s: %w", role, err)
	}

	return capture.Start(role, device, sink, c.logger), nil
}

// Stop requests a cooperative stop. Returns false when the id is unknown or
// the session is already past Recording; both are no-ops, not errors. A stop
// arriving during Merging has no effect: the merge either completes or
// fails.
func (c *Coordinator) Stop(id ID) bool {
	c.mu.RLock()
	sess, ok := c.sessions[id]
	c.mu.RUnlock()

	if !ok {
		c.logger.Info("Stop requested for unknown session", slog.String("session_id", id.String()))
		return false
	}

	sess.mu.RLock()
	state := sess.state
	sess.mu.RUnlock()

	if state != StateRecording {
		c.logger.Info("Stop requested in non-recording state, ignoring",
			slog.String("session_id", id.String()),
			slog.String("state", state.String()),
		)
		return false
	}

	sess.stopOnce.Do(func() { close(sess.stop) })
	return true
}

// Status returns the latest snapshot for a session.
func (c *Coordinator) Status(id ID) (status.Document, bool) {
	c.mu.RLock()
	sess, ok := c.sessions[id]
	c.mu.RUnlock()

	if !ok {
		return status.Document{}, false
	}

	return sess.Snapshot(), true
}

// Sessions returns snapshots of all known sessions, for the observability
// server.
func (c *Coordinator) Sessions() []status.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs := make([]status.Document, 0, len(c.sessions))
	for _, sess := range c.sessions {
		docs = append(docs, sess.Snapshot())
	}

	return docs
}

// Wait blocks until the session has reached a terminal state. Unknown ids
// return immediately.
func (c *Coordinator) Wait(id ID) {
	c.mu.RLock()
	sess, ok := c.sessions[id]
	c.mu.RUnlock()

	if !ok {
		return
	}

	<-sess.done
}

// Shutdown stops every live session and waits for all of them to resolve to
// a terminal state. No session is ever silently abandoned.
func (c *Coordinator) Shutdown() {
	c.mu.RLock()
	ids := make([]ID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		c.Stop(id)
	}
	for _, id := range ids {
		c.Wait(id)
	}

	c.cancel()
	c.wg.Wait()

	c.logger.Info("Coordinator shut down", slog.Int("sessions", len(ids)))
}

// runSession drives one session through Recording -> Stopping -> Merging ->
// Completed/Failed. It is the only goroutine that mutates the session state.
func (c *Coordinator) runSession(sess *active) {
	defer close(sess.done)
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveSessions.Dec()
			c.metrics.SessionDuration.Observe(time.Since(sess.start).Seconds())
		}
	}()

	c.watchRecording(sess)

	sess.setState(StateStopping)
	c.logger.Info("Stopping capture streams", slog.String("session_id", sess.id.String()))

	inputs := merge.Inputs{}
	for _, strm := range []*capture.Capture{sess.loopback, sess.mic} {
		if strm == nil {
			continue
		}
		strm.RequestStop()
		strm.Wait()
		c.accountCapture(sess, strm)

		stream := &merge.Stream{
			Path:       strm.SinkPath(),
			HasAudio:   strm.HasAudio(),
			SampleRate: strm.SampleRate(),
			Channels:   strm.Channels(),
		}
		if strm.Role() == capture.RoleLoopback {
			inputs.Loopback = stream
		} else {
			inputs.Mic = stream
		}
	}

	// A capture that died before writing anything leaves a header-only
	// file. Skip those inputs; if none survive, the session failed to
	// capture any audio at all.
	inputs.Loopback = pruneEmpty(inputs.Loopback)
	inputs.Mic = pruneEmpty(inputs.Mic)
	if inputs.Loopback == nil && inputs.Mic == nil {
		c.fail(sess, "capture_failure", "no usable audio was captured")
		return
	}

	sess.setState(StateMerging)

	opts := merge.Options{
		OutputPath:  filepath.Join(c.recordingsDir, sess.cfg.OutputFilename(sess.id)),
		Format:      sess.cfg.Format,
		Quality:     sess.cfg.Quality,
		BitrateKbps: sess.cfg.BitrateKbps,
	}

	mergeStart := time.Now()
	result, err := c.encoder.Merge(c.ctx, inputs, opts)
	if c.metrics != nil {
		c.metrics.MergeDuration.Observe(time.Since(mergeStart).Seconds())
	}
	if err != nil {
		kind := "merge_process_failure"
		var mergeErr *merge.Error
		if errors.As(err, &mergeErr) {
			kind = string(mergeErr.Kind)
		}
		if c.metrics != nil {
			c.metrics.MergesTotal.WithLabelValues("failure").Inc()
		}
		// Raw files stay on disk; a later recover run can finish the job.
		c.fail(sess, kind, err.Error())
		return
	}

	if c.metrics != nil {
		c.metrics.MergesTotal.WithLabelValues("success").Inc()
		c.metrics.SessionsCompleted.Inc()
	}

	sess.mu.Lock()
	sess.finalPath = result.Path
	sess.finalSize = result.SizeBytes
	sess.state = StateCompleted
	sess.mu.Unlock()

	c.logger.Info("Session completed",
		slog.String("session_id", sess.id.String()),
		slog.String("output", result.Path),
		slog.Int64("size_bytes", result.SizeBytes),
		slog.String("policy", result.Policy),
	)
}

// watchRecording blocks until an explicit stop, the duration bound, or
// coordinator shutdown ends the recording phase.
func (c *Coordinator) watchRecording(sess *active) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !sess.cfg.Manual() && time.Since(sess.start) >= sess.cfg.Duration {
				c.logger.Info("Target duration reached",
					slog.String("session_id", sess.id.String()),
					slog.Duration("target", sess.cfg.Duration),
				)
				return
			}
		}
	}
}

// accountCapture records per-stream metrics and logs a capture that
// terminated on its own error. The error never fails the session here; the
// sibling stream may still carry the recording.
func (c *Coordinator) accountCapture(sess *active, strm *capture.Capture) {
	if c.metrics != nil {
		c.metrics.FramesCaptured.WithLabelValues(strm.Role().String()).Add(float64(strm.Frames()))
		if strm.HasAudio() {
			c.metrics.AudioDetections.WithLabelValues(strm.Role().String()).Inc()
		}
	}

	if err := strm.Err(); err != nil {
		if c.metrics != nil {
			c.metrics.CaptureErrors.WithLabelValues(strm.Role().String()).Inc()
		}
		c.logger.Warn("Capture stream ended with error",
			slog.String("session_id", sess.id.String()),
			slog.String("role", strm.Role().String()),
			slog.Uint64("frames_preserved", strm.Frames()),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) fail(sess *active, kind, msg string) {
	sess.mu.Lock()
	sess.state = StateFailed
	sess.failKind = kind
	sess.failMsg = msg
	sess.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionsFailed.Inc()
	}

	c.logger.Error("Session failed",
		slog.String("session_id", sess.id.String()),
		slog.String("kind", kind),
		slog.String("error", msg),
	)
}

// pruneEmpty drops a stream whose sink holds no PCM data beyond the header.
func pruneEmpty(s *merge.Stream) *merge.Stream {
	if s == nil {
		return nil
	}
	info, err := os.Stat(s.Path)
	if err != nil || info.Size() <= 44 {
		return nil
	}
	return s
}

func (s *active) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Snapshot assembles the session status document. Read-only: it polls the
// capture atomics and copies coordinator state, never blocking the capture
// path.
func (s *active) Snapshot() status.Document {
	s.mu.RLock()
	state := s.state
	finalPath := s.finalPath
	finalSize := s.finalSize
	failKind := s.failKind
	failMsg := s.failMsg
	s.mu.RUnlock()

	elapsed := int64(time.Since(s.start).Seconds())
	targetSecs := int64(s.cfg.Duration.Seconds())

	progress := status.ManualProgress
	if !s.cfg.Manual() {
		pct := int(float64(elapsed) / s.cfg.Duration.Seconds() * 100)
		if pct > 100 {
			pct = 100
		}
		progress = pct
	}

	doc := status.Document{
		SessionID:  s.id.String(),
		Status:     state.String(),
		Filename:   s.cfg.OutputFilename(s.id),
		Duration:   targetSecs,
		Elapsed:    elapsed,
		Progress:   progress,
		Quality:    s.cfg.Quality.Name,
		SampleRate: s.cfg.Quality.SampleRate,
		Channels:   2, // the deliverable is always stereo
	}

	if s.loopback != nil {
		doc.LoopbackFrames = s.loopback.Frames()
		doc.LoopbackHasAudio = s.loopback.HasAudio()
	}
	if s.mic != nil {
		frames := s.mic.Frames()
		hasAudio := s.mic.HasAudio()
		doc.MicFrames = &frames
		doc.MicHasAudio = &hasAudio
	}

	switch state {
	case StateCompleted:
		doc.FilePath = finalPath
		doc.FileSizeMB = fmt.Sprintf("%.2f", float64(finalSize)/(1024*1024))
		doc.Progress = 100
	case StateFailed:
		doc.ErrorKind = failKind
		doc.Error = failMsg
	}

	return doc
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
