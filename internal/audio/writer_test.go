package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriterStreamsSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.wav")

	w, err := NewWriter(path, 16000, 1)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	first := sineWave(16000, 1, 0.05, 440.0)
	second := sineWave(16000, 1, 0.05, 880.0)

	if err := w.WriteSamples(first); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}
	if err := w.WriteSamples(second); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}

	expectedBytes := uint32((len(first) + len(second)) * 2)
	if w.BytesWritten() != expectedBytes {
		t.Errorf("Expected %d data bytes, got %d", expectedBytes, w.BytesWritten())
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read written file: %v", err)
	}

	samples, rate, channels, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed on written file: %v", err)
	}

	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if channels != 1 {
		t.Errorf("Expected 1 channel, got %d", channels)
	}
	if len(samples) != len(first)+len(second) {
		t.Errorf("Expected %d samples, got %d", len(first)+len(second), len(samples))
	}
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotent.wav")

	w, err := NewWriter(path, 8000, 1)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	if err := w.WriteSamples([]int16{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("First Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got: %v", err)
	}

	if err := w.WriteSamples([]int16{5, 6}); err == nil {
		t.Error("Expected error writing to a closed writer")
	}
}

func TestWriterAbandonedFileIsDecodable(t *testing.T) {
	// Simulate a crash: never call Close. The placeholder header has a zero
	// data size but the PCM bytes must still be on disk.
	path := filepath.Join(t.TempDir(), "abandoned.wav")

	w, err := NewWriter(path, 8000, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	samples := sineWave(8000, 2, 0.1, 440.0)
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}
	if err := w.file.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	expectedSize := int64(44 + len(samples)*2)
	if info.Size() != expectedSize {
		t.Errorf("Expected file size %d, got %d", expectedSize, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read abandoned file: %v", err)
	}
	if err := ValidateWAV(data); err != nil {
		t.Errorf("Abandoned file header should still validate: %v", err)
	}
}

func TestNewWriterRejectsBadParams(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewWriter(filepath.Join(dir, "bad.wav"), 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := NewWriter(filepath.Join(dir, "bad.wav"), 8000, 3); err == nil {
		t.Error("Expected error for 3 channels")
	}
}
