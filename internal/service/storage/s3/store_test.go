package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"lecture-capture-service/internal/service/storage"
)

// fakeS3 is a minimal path-style S3 endpoint.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), Config{
		Bucket:          "lectures",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, fake
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	url, err := s.Put(ctx, "user-1/tmp-abc.webm", []byte("audio"), "audio/webm")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if !strings.HasSuffix(url, "/lectures/user-1/tmp-abc.webm") {
		t.Errorf("unexpected url %s", url)
	}
	if string(fake.objects["lectures/user-1/tmp-abc.webm"]) != "audio" {
		t.Errorf("expected object stored in bucket, got %v", fake.objects)
	}

	data, err := s.Get(ctx, "user-1/tmp-abc.webm")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != "audio" {
		t.Errorf("expected 'audio', got %q", data)
	}

	if err := s.Delete(ctx, "user-1/tmp-abc.webm"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "user-1/tmp-abc.webm"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_PublicURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{
			name:     "public base url",
			cfg:      Config{Bucket: "b", Region: "eu-west-1", PublicBaseURL: "https://cdn.example.com/"},
			expected: "https://cdn.example.com/u/lec-1.m4a",
		},
		{
			name:     "path style endpoint",
			cfg:      Config{Bucket: "b", Endpoint: "http://minio:9000", UsePathStyle: true},
			expected: "http://minio:9000/b/u/lec-1.m4a",
		},
		{
			name:     "virtual host endpoint",
			cfg:      Config{Bucket: "b", Endpoint: "https://storage.example.com"},
			expected: "https://b.storage.example.com/u/lec-1.m4a",
		},
		{
			name:     "aws default",
			cfg:      Config{Bucket: "b", Region: "eu-west-1"},
			expected: "https://b.s3.eu-west-1.amazonaws.com/u/lec-1.m4a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Store{cfg: tt.cfg}
			if got := s.PublicURL("u/lec-1.m4a"); got != tt.expected {
				t.Errorf("PublicURL() = %s, want %s", got, tt.expected)
			}
		})
	}
}
