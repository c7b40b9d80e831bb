package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishWritesDocument(t *testing.T) {
	dir := t.TempDir()
	p := NewPublisher(dir, time.Second, testLogger(), nil)

	micFrames := uint64(4800)
	micHasAudio := true
	doc := Document{
		SessionID:        "rec-20260830_120000-abcd1234",
		Status:           "recording",
		Filename:         "recording_20260830_120000.wav",
		Duration:         60,
		Elapsed:          10,
		Progress:         16,
		Quality:          "professional",
		SampleRate:       48000,
		Channels:         2,
		LoopbackFrames:   9600,
		LoopbackHasAudio: true,
		MicFrames:        &micFrames,
		MicHasAudio:      &micHasAudio,
	}

	if err := p.Publish(doc); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	data, err := os.ReadFile(p.Path(doc.SessionID))
	if err != nil {
		t.Fatalf("Failed to read status file: %v", err)
	}

	var got Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Status file is not valid JSON: %v", err)
	}

	if got.SessionID != doc.SessionID {
		t.Errorf("Expected session id %s, got %s", doc.SessionID, got.SessionID)
	}
	if got.Status != "recording" {
		t.Errorf("Expected status recording, got %s", got.Status)
	}
	if got.MicFrames == nil || *got.MicFrames != micFrames {
		t.Errorf("Expected mic frames %d, got %v", micFrames, got.MicFrames)
	}
}

func TestPublishLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	p := NewPublisher(dir, time.Second, testLogger(), nil)

	doc := Document{SessionID: "rec-20260830_120001-00000000", Status: "recording"}
	if err := p.Publish(doc); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Errorf("Temp file left behind: %s", entry.Name())
		}
	}
}

func TestPublishOverwritesPreviousDocument(t *testing.T) {
	dir := t.TempDir()
	p := NewPublisher(dir, time.Second, testLogger(), nil)

	id := "rec-20260830_120002-00000000"
	if err := p.Publish(Document{SessionID: id, Status: "recording"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := p.Publish(Document{SessionID: id, Status: "completed", FilePath: "/out.wav"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	data, err := os.ReadFile(p.Path(id))
	if err != nil {
		t.Fatalf("Failed to read status file: %v", err)
	}

	var got Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Status file is not valid JSON: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Expected latest status completed, got %s", got.Status)
	}
}

// countingSource returns snapshots and counts how often it was polled.
type countingSource struct {
	mu    sync.Mutex
	count int
	doc   Document
}

func (s *countingSource) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.doc
}

func (s *countingSource) polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func TestRunPublishesFinalSnapshotOnCancel(t *testing.T) {
	dir := t.TempDir()
	p := NewPublisher(dir, 10*time.Millisecond, testLogger(), nil)

	src := &countingSource{doc: Document{SessionID: "rec-20260830_120003-00000000", Status: "completed"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, src)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for src.polls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Publisher never polled the source")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done

	// The final snapshot must be on disk even if no tick fired after cancel.
	data, err := os.ReadFile(p.Path(src.doc.SessionID))
	if err != nil {
		t.Fatalf("Final status document missing: %v", err)
	}

	var got Document
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Status file is not valid JSON: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("Expected final status completed, got %s", got.Status)
	}
}
