package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
)

// ErrorKind classifies merge failures for the status document.
type ErrorKind string

const (
	// KindSpawn means the external tool could not be started.
	KindSpawn ErrorKind = "merge_spawn_failure"
	// KindExit means the external tool ran and exited non-zero.
	KindExit ErrorKind = "merge_process_failure"
	// KindTimeout means the external tool exceeded its deadline.
	KindTimeout ErrorKind = "merge_timeout"
	// KindVerification means the produced file was empty or unreadable.
	KindVerification ErrorKind = "output_verification_failure"
)

// Error is a merge failure. The raw input files are always left intact when
// a merge returns one.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Stream describes one finished raw input.
type Stream struct {
	Path       string
	HasAudio   bool
	SampleRate int
	Channels   int
}

// Inputs carries the finished raw sinks of a session. Either stream may be
// absent (nil) after a degraded recording.
type Inputs struct {
	Loopback *Stream
	Mic      *Stream
}

// Options controls the deliverable.
type Options struct {
	OutputPath string
	Format     audio.Format
	Quality    audio.Quality
	// BitrateKbps applies to compressed output formats; zero uses the
	// encoder default.
	BitrateKbps int
	// KeepRawFiles skips raw cleanup after a verified merge.
	KeepRawFiles bool
}

// Result reports a verified deliverable.
type Result struct {
	Path      string
	SizeBytes int64
	Policy    string
}

// runner executes the external tool; swapped out in tests.
type runner interface {
	run(ctx context.Context, name string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Encoder merges raw capture files via ffmpeg. The subprocess call is the
// only blocking operation and is bounded by a hard timeout.
type Encoder struct {
	ffmpegPath string
	timeout    time.Duration
	logger     *slog.Logger
	run        runner
}

// NewEncoder creates an encoder invoking ffmpegPath with the given timeout
// per merge.
func NewEncoder(ffmpegPath string, timeout time.Duration, logger *slog.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Encoder{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		logger:     logger,
		run:        execRunner{},
	}
}

// Merge produces the final deliverable from the session's raw inputs. On any
// error the raw files remain on disk; they are removed only after the output
// has been verified.
func (e *Encoder) Merge(ctx context.Context, in Inputs, opts Options) (*Result, error) {
	args, policy, err := e.buildArgs(in, opts)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Starting merge",
		slog.String("policy", policy),
		slog.String("output", opts.OutputPath),
		slog.String("format", opts.Format.String()),
		slog.Int("sample_rate", opts.Quality.SampleRate),
		slog.Duration("input_duration", e.longestInput(ctx, in)),
	)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	output, runErr := e.run.run(runCtx, e.ffmpegPath, args)
	if runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Kind:   KindTimeout,
				Detail: fmt.Sprintf("ffmpeg exceeded %s deadline", e.timeout),
				Err:    runErr,
			}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &Error{
				Kind:   KindExit,
				Detail: fmt.Sprintf("ffmpeg exited with %d: %s", exitErr.ExitCode(), tail(output, 512)),
				Err:    runErr,
			}
		}
		return nil, &Error{
			Kind:   KindSpawn,
			Detail: fmt.Sprintf("failed to run %s", e.ffmpegPath),
			Err:    runErr,
		}
	}

	size, err := verifyOutput(opts.OutputPath, opts.Format)
	if err != nil {
		return nil, &Error{Kind: KindVerification, Detail: opts.OutputPath, Err: err}
	}

	if !opts.KeepRawFiles {
		e.cleanupRaw(in)
	}

	e.logger.Info("Merge completed",
		slog.String("policy", policy),
		slog.String("output", opts.OutputPath),
		slog.Int64("size_bytes", size),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Result{Path: opts.OutputPath, SizeBytes: size, Policy: policy}, nil
}

// longestInput probes both raw files and returns the longer duration. The
// two streams may differ when one capture died early; the merge keeps the
// full length of the longer one. Best effort, zero on probe failure.
func (e *Encoder) longestInput(ctx context.Context, in Inputs) time.Duration {
	var longest time.Duration
	for _, s := range []*Stream{in.Loopback, in.Mic} {
		if s == nil {
			continue
		}
		if d, err := ProbeDuration(ctx, s.Path); err == nil && d > longest {
			longest = d
		}
	}
	return longest
}

// buildArgs selects the channel-layout policy from audio presence and
// returns the full ffmpeg argument list.
//
//	loopback audio + mic audio  -> dual-mono stereo (c0=loopback, c1=mic)
//	loopback audio only         -> duplicate loopback to both channels
//	mic audio only              -> duplicate mic to both channels
//	neither                     -> valid silent stereo from whichever exists
func (e *Encoder) buildArgs(in Inputs, opts Options) ([]string, string, error) {
	loopback := in.Loopback
	mic := in.Mic

	if loopback == nil && mic == nil {
		return nil, "", &Error{Kind: KindSpawn, Detail: "no raw input files to merge"}
	}

	targetRate := strconv.Itoa(opts.Quality.SampleRate)
	args := []string{"-hide_banner", "-loglevel", "error"}

	var policy string
	switch {
	case loopback != nil && mic != nil && loopback.HasAudio && mic.HasAudio:
		policy = "dual-mono"
		// amerge needs equal input rates; resample both to the target when
		// the raw streams disagree instead of dropping one.
		filter := "[0:a]aformat=channel_layouts=stereo[left];[1:a]aformat=channel_layouts=mono,asplit=2[ml][mr];[left][ml][mr]amerge=inputs=3,pan=stereo|c0<c0+c2|c1<c1+c2[aout]"
		if loopback.SampleRate != mic.SampleRate {
			filter = fmt.Sprintf(
				"[0:a]aresample=%s,aformat=channel_layouts=stereo[left];[1:a]aresample=%s,aformat=channel_layouts=mono,asplit=2[ml][mr];[left][ml][mr]amerge=inputs=3,pan=stereo|c0<c0+c2|c1<c1+c2[aout]",
				targetRate, targetRate,
			)
		}
		args = append(args,
			"-i", loopback.Path,
			"-i", mic.Path,
			"-filter_complex", filter,
			"-filter_threads", "auto",
			"-map", "[aout]",
			"-ar", targetRate,
		)

	case loopback != nil && loopback.HasAudio:
		// A silent or absent microphone falls back to system audio alone.
		if remuxable(loopback, opts) {
			return append(args, "-i", loopback.Path, "-c", "copy", "-y", opts.OutputPath), "remux-loopback", nil
		}
		policy = "loopback-only"
		args = append(args,
			"-i", loopback.Path,
			"-ac", "2",
			"-ar", targetRate,
		)

	case mic != nil && mic.HasAudio:
		if remuxable(mic, opts) {
			return append(args, "-i", mic.Path, "-c", "copy", "-y", opts.OutputPath), "remux-mic", nil
		}
		policy = "mic-only"
		args = append(args,
			"-i", mic.Path,
			"-filter_complex",
			"[0:a]aformat=channel_layouts=mono,asplit=2[l][r];[l][r]amerge=inputs=2,pan=stereo|c0=c0|c1=c1[aout]",
			"-filter_threads", "auto",
			"-map", "[aout]",
			"-ar", targetRate,
		)

	default:
		// Neither stream detected audio. The deliverable must still be a
		// valid stereo file, never a failure.
		policy = "silent"
		src := loopback
		if src == nil {
			src = mic
		}
		args = append(args,
			"-i", src.Path,
			"-filter_complex", "[0:a]aformat=channel_layouts=stereo[aout]",
			"-map", "[aout]",
			"-ar", targetRate,
		)
	}

	args = append(args, encodingArgs(opts)...)
	args = append(args, "-y", opts.OutputPath)

	return args, policy, nil
}

// encodingArgs returns the codec parameters for the output format. WAV is a
// PCM passthrough and needs none.
func encodingArgs(opts Options) []string {
	if opts.Format != audio.FormatM4A {
		return nil
	}
	bitrate := opts.BitrateKbps
	if bitrate <= 0 {
		bitrate = 192
	}
	return []string{
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", bitrate),
		"-movflags", "faststart",
		"-threads", "auto",
	}
}

// remuxable reports whether a single input can be repackaged without
// re-encoding: same container as the target, already stereo, already at the
// target sample rate.
func remuxable(s *Stream, opts Options) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(s.Path)), ".")
	return ext == opts.Format.Extension() &&
		s.Channels == 2 &&
		s.SampleRate == opts.Quality.SampleRate
}

// verifyOutput checks that the deliverable exists, is non-empty and its
// container is readable. Returns the file size.
func verifyOutput(path string, format audio.Format) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("output file missing: %w", err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("output file %s is empty", path)
	}

	head := make([]byte, 64)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("output file unreadable: %w", err)
	}
	defer f.Close()
	n, err := f.Read(head)
	if err != nil {
		return 0, fmt.Errorf("output file unreadable: %w", err)
	}
	head = head[:n]

	switch format {
	case audio.FormatWAV:
		if len(head) < 44 {
			return 0, fmt.Errorf("output file %s too short for a WAV header", path)
		}
		if err := audio.ValidateWAV(head[:44]); err != nil {
			return 0, err
		}
	case audio.FormatM4A:
		if len(head) < 12 || string(head[4:8]) != "ftyp" {
			return 0, fmt.Errorf("output file %s is not a valid MP4 container", path)
		}
	}

	return info.Size(), nil
}

// cleanupRaw removes the raw input files. Only called after the output has
// been verified; a failed removal is logged, never escalated.
func (e *Encoder) cleanupRaw(in Inputs) {
	for _, s := range []*Stream{in.Loopback, in.Mic} {
		if s == nil {
			continue
		}
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("Failed to remove raw file after merge",
				slog.String("path", s.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// tail returns the last max bytes of subprocess output as a string.
func tail(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
