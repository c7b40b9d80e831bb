package merge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
)

// ProbeDuration returns the playable duration of an audio file. WAV files
// are answered from the header without spawning a process; anything else
// falls back to ffprobe.
func ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	if strings.HasSuffix(strings.ToLower(path), ".wav") {
		if d, err := wavHeaderDuration(path); err == nil {
			return d, nil
		}
	}
	return ffprobeDuration(ctx, path)
}

// wavHeaderDuration reads just the 44-byte header.
func wavHeaderDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 44)
	if _, err := io.ReadFull(f, head); err != nil {
		return 0, fmt.Errorf("failed to read WAV header from %s: %w", path, err)
	}

	secs, err := audio.GetWAVDuration(head)
	if err != nil {
		return 0, err
	}

	return time.Duration(secs * float64(time.Second)), nil
}

// ffprobeDuration asks ffprobe for the container duration.
func ffprobeDuration(ctx context.Context, path string) (time.Duration, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	secs, err := strconv.ParseFloat(string(bytes.TrimSpace(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q for %s: %w", out, path, err)
	}

	return time.Duration(secs * float64(time.Second)), nil
}
