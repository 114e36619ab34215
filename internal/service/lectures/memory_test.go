package lectures

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	l := &Lecture{LectureID: "lec-123", UserID: "user-1", AudioURL: "https://cdn/x/tmp-abc.webm", TranscriptionStatus: StatusPending}
	if err := s.Create(ctx, l); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, l); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := s.UpdateAudioURL(ctx, "lec-123", "https://cdn/x/lec-123.webm"); err != nil {
		t.Fatalf("update url: %v", err)
	}
	if err := s.UpdateStatus(ctx, "lec-123", StatusCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := s.Get(ctx, "lec-123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AudioURL != "https://cdn/x/lec-123.webm" {
		t.Errorf("unexpected audio url %s", got.AudioURL)
	}
	if got.TranscriptionStatus != StatusCompleted {
		t.Errorf("expected completed, got %s", got.TranscriptionStatus)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("expected updatedAt after createdAt")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateStatus(ctx, "missing", StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusCompleted, StatusFailed, StatusNotesFailed} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
