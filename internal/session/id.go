package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idPrefix marks every session identifier so raw files can be told apart
// from unrelated files in the recordings directory.
const idPrefix = "rec-"

// ID uniquely identifies one recording session. It is derived from the
// session start time plus a random fragment, so two sessions started within
// the same second still get distinct identifiers. The ID is the join key
// across raw sink files, status documents and the final output name.
type ID string

// NewID creates a session identifier for a session starting now.
func NewID() ID {
	return NewIDAt(time.Now())
}

// NewIDAt creates a session identifier for the given start time.
func NewIDAt(t time.Time) ID {
	frag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ID(fmt.Sprintf("%s%s-%s", idPrefix, t.Format("20060102_150405"), frag))
}

// String returns the identifier as a plain string.
func (id ID) String() string {
	return string(id)
}

// Timestamp returns the time-derived portion of the identifier
// (YYYYMMDD_HHMMSS). Used for final output naming.
func (id ID) Timestamp() string {
	s := strings.TrimPrefix(string(id), idPrefix)
	if i := strings.LastIndex(s, "-"); i > 0 {
		return s[:i]
	}
	return s
}

// Valid reports whether the identifier carries the expected prefix and a
// non-empty body.
func (id ID) Valid() bool {
	return strings.HasPrefix(string(id), idPrefix) && len(id) > len(idPrefix)
}

// ParseIDFromFile extracts the session identifier from a raw sink file name
// by stripping a known role suffix. It returns false when the name does not
// look like a session raw file. Parsing a structured ID from the name avoids
// ad hoc string matching if files get renamed by the user.
func ParseIDFromFile(filename string, roleSuffix string) (ID, bool) {
	if !strings.HasSuffix(filename, roleSuffix) {
		return "", false
	}
	id := ID(strings.TrimSuffix(filename, roleSuffix))
	if !id.Valid() {
		return "", false
	}
	return id, true
}
