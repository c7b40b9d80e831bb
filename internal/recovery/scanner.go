package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/capture"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/merge"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/metrics"
	"github.com/dougfernando/audio-recorder-manager-sub000/internal/session"
)

// ErrOrphanCorrupt marks an orphan whose raw file is not a readable WAV.
// Such candidates are skipped, never deleted.
var ErrOrphanCorrupt = errors.New("orphaned raw file is corrupt")

// Merger is the slice of the encoder the scanner needs.
type Merger interface {
	Merge(ctx context.Context, in merge.Inputs, opts merge.Options) (*merge.Result, error)
}

// Candidate is one crashed session reconstructed from raw files on disk.
type Candidate struct {
	ID       session.ID
	Loopback string // path to the loopback raw file, empty if absent
	Mic      string // path to the mic raw file, empty if absent
}

// Scanner locates and finalizes orphaned sessions in the recordings
// directory.
type Scanner struct {
	dir     string
	encoder Merger
	cfg     session.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewScanner builds a scanner over the recordings directory. The session
// config supplies the output format and quality for recovered deliverables.
// The metrics handle may be nil.
func NewScanner(dir string, encoder Merger, cfg session.Config, logger *slog.Logger, m *metrics.Metrics) *Scanner {
	return &Scanner{
		dir:     dir,
		encoder: encoder,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Scan walks the recordings directory and groups raw stream files by session
// identifier. Sessions whose final output already exists are not candidates,
// which makes repeated recovery runs converge to nothing. Candidates are
// returned newest first.
func (s *Scanner) Scan() ([]Candidate, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	byID := make(map[session.ID]*Candidate)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, role := range []capture.Role{capture.RoleLoopback, capture.RoleMicrophone} {
			id, ok := session.ParseIDFromFile(name, role.SinkSuffix())
			if !ok {
				continue
			}
			cand := byID[id]
			if cand == nil {
				cand = &Candidate{ID: id}
				byID[id] = cand
			}
			path := filepath.Join(s.dir, name)
			if role == capture.RoleLoopback {
				cand.Loopback = path
			} else {
				cand.Mic = path
			}
		}
	}

	candidates := make([]Candidate, 0, len(byID))
	for _, cand := range byID {
		if s.outputExists(*cand) {
			continue
		}
		candidates = append(candidates, *cand)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.Timestamp() > candidates[j].ID.Timestamp()
	})

	if s.metrics != nil {
		s.metrics.RecoveryCandidates.Set(float64(len(candidates)))
	}

	s.logger.Info("Recovery scan finished",
		slog.String("dir", s.dir),
		slog.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

// outputExists reports whether the candidate's deliverable is already on
// disk, meaning the crash happened after the merge succeeded.
func (s *Scanner) outputExists(cand Candidate) bool {
	out := filepath.Join(s.dir, s.cfg.OutputFilename(cand.ID))
	_, err := os.Stat(out)
	return err == nil
}

// Recover finalizes a single candidate: validates the raw files, merges them
// and removes the raws on success. A raw file that survived to disk is
// assumed to carry audio; the silence heuristic only applies to live
// captures.
func (s *Scanner) Recover(ctx context.Context, cand Candidate) (*merge.Result, error) {
	inputs := merge.Inputs{}
	if stream, err := s.validateRaw(cand.Loopback); err != nil {
		return nil, err
	} else if stream != nil {
		inputs.Loopback = stream
	}
	if stream, err := s.validateRaw(cand.Mic); err != nil {
		return nil, err
	} else if stream != nil {
		inputs.Mic = stream
	}

	if inputs.Loopback == nil && inputs.Mic == nil {
		return nil, fmt.Errorf("%w: session %s has no usable raw files", ErrOrphanCorrupt, cand.ID)
	}

	opts := merge.Options{
		OutputPath:  filepath.Join(s.dir, s.cfg.OutputFilename(cand.ID)),
		Format:      s.cfg.Format,
		Quality:     s.cfg.Quality,
		BitrateKbps: s.cfg.BitrateKbps,
	}

	result, err := s.encoder.Merge(ctx, inputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to recover session %s: %w", cand.ID, err)
	}

	s.logger.Info("Recovered orphaned session",
		slog.String("session_id", cand.ID.String()),
		slog.String("output", result.Path),
		slog.Int64("size_bytes", result.SizeBytes),
	)

	return result, nil
}

// validateRaw checks that an orphaned raw file is a readable WAV with sample
// data. An empty path (stream never opened) is not an error.
func (s *Scanner) validateRaw(path string) (*merge.Stream, error) {
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOrphanCorrupt, path, err)
	}
	if info.Size() <= 44 {
		// Header only, nothing recorded. Treat as absent.
		return nil, nil
	}

	wavInfo, err := readHeader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOrphanCorrupt, path, err)
	}

	return &merge.Stream{
		Path:       path,
		HasAudio:   true,
		SampleRate: int(wavInfo.SampleRate),
		Channels:   int(wavInfo.Channels),
	}, nil
}

func readHeader(path string) (*audio.WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, 44)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}

	return audio.GetWAVInfo(header)
}

// RecoverAll scans and recovers every candidate. One corrupt or failing
// candidate never blocks the others; each outcome is logged and counted
// individually. Returns the number of sessions recovered.
func (s *Scanner) RecoverAll(ctx context.Context) (int, error) {
	candidates, err := s.Scan()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, cand := range candidates {
		if _, err := s.Recover(ctx, cand); err != nil {
			if s.metrics != nil {
				s.metrics.RecoveriesTotal.WithLabelValues("failure").Inc()
			}
			s.logger.Warn("Skipping unrecoverable session",
				slog.String("session_id", cand.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecoveriesTotal.WithLabelValues("success").Inc()
		}
		recovered++
	}

	return recovered, nil
}
