// Package ids generates identifiers for temporary audio and lecture records.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

const (
	TempPrefix    = "tmp-"
	LecturePrefix = "lec-"
	SessionPrefix = "rec-"
)

// NewTempID returns an identifier for audio that has no lecture yet.
func NewTempID() string { return TempPrefix + short() }

// NewLectureID returns a permanent lecture identifier.
func NewLectureID() string { return LecturePrefix + short() }

// NewSessionID returns a recording session identifier.
func NewSessionID() string { return SessionPrefix + short() }

// IsTemp reports whether id was produced by NewTempID.
func IsTemp(id string) bool { return strings.HasPrefix(id, TempPrefix) }

// Valid reports whether id is safe to embed in a storage path.
func Valid(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func short() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
