// Package memory provides an in-process ObjectStore for development and tests.
package memory

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"lecture-capture-service/internal/service/storage"
)

type object struct {
	data        []byte
	contentType string
}

// Store keeps objects in a map. Thread-safe.
type Store struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]object
}

// New creates an empty store whose public URLs are rooted at baseURL.
func New(baseURL string) *Store {
	if baseURL == "" {
		baseURL = "memory://audio"
	}
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
}

// Put stores a copy of data at path.
func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[path] = object{data: buf, contentType: contentType}
	s.mu.Unlock()
	return s.PublicURL(path), nil
}

// Get returns a copy of the object at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Delete removes the object at path. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
	return nil
}

// PublicURL returns the URL an object at path is served from.
func (s *Store) PublicURL(path string) string {
	return s.baseURL + "/" + (&url.URL{Path: path}).EscapedPath()
}

// ContentType returns the stored content type for path.
func (s *Store) ContentType(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj.contentType, ok
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
