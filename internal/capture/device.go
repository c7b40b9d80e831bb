package capture

import (
	"errors"
	"fmt"
)

// Role identifies which endpoint a stream captures.
type Role int

const (
	// RoleLoopback captures the system output (what would go to speakers).
	RoleLoopback Role = iota
	// RoleMicrophone captures the default input device.
	RoleMicrophone
)

// String returns the short role name used in filenames and logs.
func (r Role) String() string {
	if r == RoleMicrophone {
		return "mic"
	}
	return "loopback"
}

// SinkSuffix returns the raw file suffix for the role, including the
// extension. Recovery groups orphan files by stripping this suffix.
func (r Role) SinkSuffix() string {
	return fmt.Sprintf("_%s.wav", r)
}

// SinkName returns the raw sink file name for a session id string.
func (r Role) SinkName(sessionID string) string {
	return sessionID + r.SinkSuffix()
}

// ErrDeviceUnavailable is returned by an Opener when the endpoint for a role
// cannot be opened. A microphone failure degrades the session to a single
// stream instead of aborting it.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Block is one fixed-size chunk of interleaved PCM-16 audio pulled from a
// device.
type Block struct {
	Samples []int16
	// Frames is the number of sample frames in the block
	// (len(Samples) / channel count).
	Frames int
}

// Device is an open capture endpoint. ReadBlock blocks the calling goroutine
// until a block is available or the device fails; it is the only call in the
// capture path allowed to block.
type Device interface {
	ReadBlock() (Block, error)
	SampleRate() int
	Channels() int
	Close() error
}

// Opener binds roles to platform devices. Provided by the embedding
// application; the engine never enumerates hardware itself.
type Opener interface {
	Open(role Role) (Device, error)
}

// Sink receives captured sample blocks. *audio.Writer satisfies it.
type Sink interface {
	WriteSamples(samples []int16) error
	Path() string
	Close() error
}
