package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/merge"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMerger records merge calls and produces the output file on success.
type fakeMerger struct {
	calls []merge.Inputs
	opts  []merge.Options
	fail  bool
}

func (m *fakeMerger) Merge(ctx context.Context, in merge.Inputs, opts merge.Options) (*merge.Result, error) {
	m.calls = append(m.calls, in)
	m.opts = append(m.opts, opts)
	if m.fail {
		return nil, &merge.Error{Kind: merge.KindExit, Detail: "ffmpeg exited"}
	}
	if err := os.WriteFile(opts.OutputPath, []byte("output"), 0o644); err != nil {
		return nil, err
	}
	for _, s := range []*merge.Stream{in.Loopback, in.Mic} {
		if s != nil {
			os.Remove(s.Path)
		}
	}
	return &merge.Result{Path: opts.OutputPath, SizeBytes: 6, Policy: "dual-mono"}, nil
}

func timeAt(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatalf("Bad test time: %v", err)
	}
	return ts
}

func testConfig() session.Config {
	return session.Config{Format: audio.FormatWAV, Quality: audio.QualityProfessional()}
}

// writeRaw drops a valid raw WAV for a session role into dir.
func writeRaw(t *testing.T, dir string, id session.ID, suffix string) string {
	t.Helper()
	data, err := audio.EncodeWAV(make([]int16, 1600), 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(dir, id.String()+suffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write raw file: %v", err)
	}
	return path
}

func TestScanGroupsRawFilesBySession(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	loopback := writeRaw(t, dir, id, "_loopback.wav")
	mic := writeRaw(t, dir, id, "_mic.wav")

	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write decoy: %v", err)
	}

	s := NewScanner(dir, &fakeMerger{}, testConfig(), testLogger(), nil)
	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].ID != id {
		t.Errorf("Expected candidate id %s, got %s", id, candidates[0].ID)
	}
	if candidates[0].Loopback != loopback {
		t.Errorf("Expected loopback path %s, got %s", loopback, candidates[0].Loopback)
	}
	if candidates[0].Mic != mic {
		t.Errorf("Expected mic path %s, got %s", mic, candidates[0].Mic)
	}
}

func TestScanSkipsSessionsWithFinalOutput(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	writeRaw(t, dir, id, "_loopback.wav")

	// The crash happened after the merge: the deliverable exists.
	cfg := testConfig()
	out := filepath.Join(dir, cfg.OutputFilename(id))
	if err := os.WriteFile(out, []byte("done"), 0o644); err != nil {
		t.Fatalf("Failed to write output: %v", err)
	}

	s := NewScanner(dir, &fakeMerger{}, cfg, testLogger(), nil)
	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(candidates) != 0 {
		t.Errorf("Expected no candidates, got %d", len(candidates))
	}
}

func TestScanMissingDirectoryYieldsNothing(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "nope"), &fakeMerger{}, testConfig(), testLogger(), nil)

	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan of a missing directory must not fail: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Expected no candidates, got %d", len(candidates))
	}
}

func TestRecoverMergesAndAssumesAudio(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	writeRaw(t, dir, id, "_loopback.wav")
	writeRaw(t, dir, id, "_mic.wav")

	m := &fakeMerger{}
	s := NewScanner(dir, m, testConfig(), testLogger(), nil)

	candidates, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(candidates))
	}

	result, err := s.Recover(context.Background(), candidates[0])
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	if result.Path == "" {
		t.Error("Expected a recovered output path")
	}
	if len(m.calls) != 1 {
		t.Fatalf("Expected 1 merge call, got %d", len(m.calls))
	}

	in := m.calls[0]
	if in.Loopback == nil || !in.Loopback.HasAudio {
		t.Error("A surviving loopback raw file must be treated as carrying audio")
	}
	if in.Mic == nil || !in.Mic.HasAudio {
		t.Error("A surviving mic raw file must be treated as carrying audio")
	}
}

func TestRecoverAllIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	writeRaw(t, dir, id, "_loopback.wav")

	s := NewScanner(dir, &fakeMerger{}, testConfig(), testLogger(), nil)

	recovered, err := s.RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("Expected 1 recovered session, got %d", recovered)
	}

	// Second pass finds nothing: raws are gone, the output exists.
	recovered, err = s.RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("Second RecoverAll failed: %v", err)
	}
	if recovered != 0 {
		t.Errorf("Expected second pass to recover nothing, got %d", recovered)
	}
}

func TestRecoverAllIsolatesCorruptCandidates(t *testing.T) {
	dir := t.TempDir()

	goodID := session.NewIDAt(timeAt(t, "2026-08-30 10:00:00"))
	writeRaw(t, dir, goodID, "_loopback.wav")

	badID := session.NewIDAt(timeAt(t, "2026-08-30 11:00:00"))
	badPath := filepath.Join(dir, badID.String()+"_loopback.wav")
	if err := os.WriteFile(badPath, []byte("this is not a wav file at all, but long enough"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	m := &fakeMerger{}
	s := NewScanner(dir, m, testConfig(), testLogger(), nil)

	recovered, err := s.RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}

	if recovered != 1 {
		t.Errorf("Expected the good session to be recovered, got %d", recovered)
	}

	// The corrupt raw file is skipped, never deleted.
	if _, err := os.Stat(badPath); err != nil {
		t.Error("Corrupt raw file must be left on disk")
	}
}

func TestRecoverCorruptCandidateReturnsTypedError(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	badPath := filepath.Join(dir, id.String()+"_mic.wav")
	if err := os.WriteFile(badPath, []byte("garbage data well beyond the header size limit here"), 0o644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	s := NewScanner(dir, &fakeMerger{}, testConfig(), testLogger(), nil)

	_, err := s.Recover(context.Background(), Candidate{ID: id, Mic: badPath})
	if !errors.Is(err, ErrOrphanCorrupt) {
		t.Errorf("Expected ErrOrphanCorrupt, got %v", err)
	}
}

func TestRecoverAllContinuesAfterMergeFailure(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	raw := writeRaw(t, dir, id, "_loopback.wav")

	s := NewScanner(dir, &fakeMerger{fail: true}, testConfig(), testLogger(), nil)

	recovered, err := s.RecoverAll(context.Background())
	if err != nil {
		t.Fatalf("RecoverAll must not fail on a bad candidate: %v", err)
	}
	if recovered != 0 {
		t.Errorf("Expected no recoveries, got %d", recovered)
	}

	if _, err := os.Stat(raw); err != nil {
		t.Error("Raw file must survive a failed recovery merge")
	}
}

func TestRecoverUsesConfiguredEncoding(t *testing.T) {
	dir := t.TempDir()
	id := session.NewID()
	writeRaw(t, dir, id, "_loopback.wav")

	cfg := session.Config{
		Format:      audio.FormatM4A,
		Quality:     audio.QualityProfessional(),
		BitrateKbps: 256,
	}
	m := &fakeMerger{}
	s := NewScanner(dir, m, cfg, testLogger(), nil)

	if _, err := s.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}

	if len(m.opts) != 1 {
		t.Fatalf("Expected 1 merge call, got %d", len(m.opts))
	}
	if m.opts[0].Format != audio.FormatM4A {
		t.Errorf("Expected m4a format to reach the merge, got %s", m.opts[0].Format)
	}
	if m.opts[0].BitrateKbps != 256 {
		t.Errorf("Expected configured bitrate 256 to reach the merge, got %d", m.opts[0].BitrateKbps)
	}
}
