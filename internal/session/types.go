package session

import (
	"fmt"
	"time"

	"github.com/dougfernando/audio-recorder-manager-sub000/internal/audio"
)

// State represents the lifecycle state of a recording session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateMerging
	StateCompleted
	StateFailed
)

// String returns the lowercase name used in status documents.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateMerging:
		return "merging"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether the state is final. Completed and Failed sessions
// never transition again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Config describes one recording session request.
type Config struct {
	// Duration bounds the session; zero means manual mode, stopped only by
	// an explicit Stop call.
	Duration time.Duration
	Format   audio.Format
	Quality  audio.Quality
	// BitrateKbps applies to compressed output formats; zero uses the
	// encoder default.
	BitrateKbps int
}

// Manual reports whether the session is unbounded.
func (c Config) Manual() bool { return c.Duration <= 0 }

// OutputFilename returns the deliverable name for a session id, derived from
// the time portion of the identifier.
func (c Config) OutputFilename(id ID) string {
	return fmt.Sprintf("recording_%s.%s", id.Timestamp(), c.Format.Extension())
}
