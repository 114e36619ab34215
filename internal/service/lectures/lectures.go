// Package lectures stores the lecture records created by the notes pipeline.
package lectures

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no lecture has the requested id.
	ErrNotFound = errors.New("lecture not found")
	// ErrExists is returned when creating a lecture whose id is taken.
	ErrExists = errors.New("lecture already exists")
)

// Status tracks how far the pipeline got for a lecture.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusNotesFailed Status = "notes_failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusNotesFailed:
		return true
	default:
		return false
	}
}

// Lecture is a persisted lecture record.
type Lecture struct {
	LectureID           string    `gorm:"primaryKey;size:128" json:"lectureId"`
	UserID              string    `gorm:"index;size:128;not null" json:"userId"`
	AudioURL            string    `json:"audioUrl"`
	TranscriptionStatus Status    `gorm:"size:32;not null" json:"transcriptionStatus"`
	Transcript          string    `json:"transcript,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// TableName pins the table name.
func (Lecture) TableName() string { return "lectures" }

// Store persists lecture records.
type Store interface {
	Create(ctx context.Context, l *Lecture) error
	Get(ctx context.Context, lectureID string) (*Lecture, error)
	UpdateAudioURL(ctx context.Context, lectureID, audioURL string) error
	UpdateStatus(ctx context.Context, lectureID string, status Status) error
}
