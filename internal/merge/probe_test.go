package merge

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
)

func TestProbeDurationFromWAVHeader(t *testing.T) {
	dir := t.TempDir()
	// Half a second of mono audio at 16kHz.
	data, err := audio.EncodeWAV(make([]int16, 8000), 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	path := filepath.Join(dir, "probe.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	d, err := ProbeDuration(context.Background(), path)
	if err != nil {
		t.Fatalf("ProbeDuration failed: %v", err)
	}

	if math.Abs(d.Seconds()-0.5) > 0.001 {
		t.Errorf("Expected 0.5s, got %s", d)
	}
}

func TestProbeDurationMissingFile(t *testing.T) {
	if _, err := ProbeDuration(context.Background(), filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
