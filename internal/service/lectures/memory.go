package lectures

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	lectures map[string]Lecture
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lectures: make(map[string]Lecture), now: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, l *Lecture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lectures[l.LectureID]; ok {
		return fmt.Errorf("create %s: %w", l.LectureID, ErrExists)
	}
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	s.lectures[l.LectureID] = *l
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, lectureID string) (*Lecture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lectures[lectureID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", lectureID, ErrNotFound)
	}
	return &l, nil
}

func (s *MemoryStore) UpdateAudioURL(ctx context.Context, lectureID, audioURL string) error {
	return s.update(ctx, lectureID, func(l *Lecture) { l.AudioURL = audioURL })
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, lectureID string, status Status) error {
	return s.update(ctx, lectureID, func(l *Lecture) { l.TranscriptionStatus = status })
}

func (s *MemoryStore) update(ctx context.Context, lectureID string, fn func(*Lecture)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lectures[lectureID]
	if !ok {
		return fmt.Errorf("update %s: %w", lectureID, ErrNotFound)
	}
	fn(&l)
	l.UpdatedAt = s.now()
	s.lectures[lectureID] = l
	return nil
}
