package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/metrics"
)

// ManualProgress marks an unbounded session's progress field, which has no
// percentage to report.
const ManualProgress = -1

// Document is a point-in-time snapshot of one recording session, persisted
// as <status_dir>/<session_id>.json. Each publish tick rewrites the whole
// document; a snapshot is immutable once written.
type Document struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Filename  string `json:"filename"`

	// Duration is the target in seconds; zero for manual sessions.
	Duration int64 `json:"duration"`
	Elapsed  int64 `json:"elapsed"`
	// Progress is a 0-100 percentage, or ManualProgress for unbounded
	// sessions.
	Progress int `json:"progress"`

	Quality    string `json:"quality"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`

	LoopbackFrames   uint64  `json:"loopback_frames"`
	LoopbackHasAudio bool    `json:"loopback_has_audio"`
	MicFrames        *uint64 `json:"mic_frames,omitempty"`
	MicHasAudio      *bool   `json:"mic_has_audio,omitempty"`

	// Terminal-state fields.
	FilePath   string `json:"file_path,omitempty"`
	FileSizeMB string `json:"file_size_mb,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Snapshotter produces the current session snapshot. Implementations must be
// read-only: polling atomics and copying values, never blocking the capture
// path.
type Snapshotter interface {
	Snapshot() Document
}

// Publisher writes session status documents on a fixed interval. It runs on
// its own timer-driven goroutine; a missed or delayed tick is not an error.
type Publisher struct {
	dir      string
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPublisher creates a publisher writing into dir every interval. The
// metrics handle may be nil.
func NewPublisher(dir string, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{dir: dir, interval: interval, logger: logger, metrics: m}
}

// Run publishes snapshots from src until ctx is cancelled. It writes one
// final snapshot on exit so terminal states always reach the document.
func (p *Publisher) Run(ctx context.Context, src Snapshotter) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.publish(src.Snapshot())
			return
		case <-ticker.C:
			p.publish(src.Snapshot())
		}
	}
}

// Publish writes a single snapshot immediately.
func (p *Publisher) Publish(doc Document) error {
	return p.write(doc)
}

func (p *Publisher) publish(doc Document) {
	if err := p.write(doc); err != nil {
		if p.metrics != nil {
			p.metrics.StatusWriteErrors.Inc()
		}
		p.logger.Warn("Failed to publish status document",
			slog.String("session_id", doc.SessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if p.metrics != nil {
		p.metrics.StatusWrites.Inc()
	}
}

// write serializes the document and replaces the per-session status file
// atomically (write to temp, then rename) so readers never observe partial
// JSON.
func (p *Publisher) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status document: %w", err)
	}

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create status directory %s: %w", p.dir, err)
	}

	final := filepath.Join(p.dir, doc.SessionID+".json")
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write status file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace status file %s: %w", final, err)
	}

	return nil
}

// Path returns the status file location for a session id.
func (p *Publisher) Path(sessionID string) string {
	return filepath.Join(p.dir, sessionID+".json")
}
