package browser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/capture"
)

type fakeDevices struct {
	stream *fakeStream
	err    error
	calls  int
}

func (d *fakeDevices) GetUserMedia(context.Context) (MediaStream, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fakeStream struct {
	mu            sync.Mutex
	nativePause   bool
	mimeType      string
	recorders     []*fakeRecorder
	tracksStopped int
	startErr      error
}

func (s *fakeStream) NewRecorder(_ context.Context, onData func([]byte)) (MediaRecorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &fakeRecorder{onData: onData, nativePause: s.nativePause, mimeType: s.mimeType, startErr: s.startErr}
	s.recorders = append(s.recorders, r)
	return r, nil
}

func (s *fakeStream) StopTracks(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracksStopped++
	return nil
}

func (s *fakeStream) last() *fakeRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorders[len(s.recorders)-1]
}

// fakeRecorder emits pending data when Stop is called, like a browser MediaRecorder.
type fakeRecorder struct {
	onData      func([]byte)
	nativePause bool
	mimeType    string
	startErr    error
	pending     []byte
	started     bool
	paused      bool
	stopped     bool
}

func (r *fakeRecorder) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *fakeRecorder) Pause(context.Context) error  { r.paused = true; return nil }
func (r *fakeRecorder) Resume(context.Context) error { r.paused = false; return nil }

func (r *fakeRecorder) Stop(context.Context) error {
	r.stopped = true
	if len(r.pending) > 0 {
		r.onData(r.pending)
		r.pending = nil
	}
	return nil
}

func (r *fakeRecorder) SupportsPause() bool { return r.nativePause }
func (r *fakeRecorder) MimeType() string    { return r.mimeType }

func (r *fakeRecorder) emit(b string) { r.onData([]byte(b)) }

func newCapture(stream *fakeStream, opts ...Option) (*Capture, *fakeDevices) {
	devices := &fakeDevices{stream: stream}
	opts = append([]Option{WithMetrics(metrics.NewUnregistered())}, opts...)
	return New(devices, opts...), devices
}

func TestCapture_StartStop(t *testing.T) {
	stream := &fakeStream{nativePause: true, mimeType: "audio/webm;codecs=opus"}
	c, _ := newCapture(stream)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := stream.last()
	rec.emit("aa")
	rec.emit("bb")
	rec.pending = []byte("cc")

	artifact, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact == nil {
		t.Fatal("expected artifact")
	}
	if string(artifact.Data) != "aabbcc" {
		t.Errorf("expected concatenated chunks including final flush, got %q", artifact.Data)
	}
	if artifact.MimeType != "audio/webm;codecs=opus" {
		t.Errorf("expected recorder mime type, got %s", artifact.MimeType)
	}
	if artifact.SizeBytes != 6 {
		t.Errorf("expected size 6, got %d", artifact.SizeBytes)
	}
	if stream.tracksStopped != 1 {
		t.Errorf("expected tracks released once, got %d", stream.tracksStopped)
	}
	if !c.TracksReleased() {
		t.Error("expected TracksReleased to be true")
	}
}

func TestCapture_StopWithoutAudio(t *testing.T) {
	stream := &fakeStream{nativePause: true}
	c, _ := newCapture(stream)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	artifact, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact != nil {
		t.Errorf("expected nil artifact for empty capture, got %d bytes", artifact.SizeBytes)
	}
}

func TestCapture_DefaultMimeType(t *testing.T) {
	stream := &fakeStream{nativePause: true}
	c, _ := newCapture(stream)
	ctx := context.Background()

	_ = c.Start(ctx)
	stream.last().emit("x")
	artifact, _ := c.Stop(ctx)
	if artifact.MimeType != DefaultMimeType {
		t.Errorf("expected %s, got %s", DefaultMimeType, artifact.MimeType)
	}
}

func TestCapture_PermissionDenied(t *testing.T) {
	devices := &fakeDevices{err: capture.ErrPermissionDenied}
	c := New(devices, WithMetrics(metrics.NewUnregistered()))

	err := c.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := c.Stop(context.Background()); !errors.Is(err, capture.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted after failed start, got %v", err)
	}
}

func TestCapture_RecorderStartFailureReleasesTracks(t *testing.T) {
	stream := &fakeStream{startErr: errors.New("encoder unavailable")}
	c, _ := newCapture(stream)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if stream.tracksStopped != 1 {
		t.Errorf("expected tracks released after failed start, got %d", stream.tracksStopped)
	}
}

func TestCapture_NativePause(t *testing.T) {
	stream := &fakeStream{nativePause: true}
	c, _ := newCapture(stream)
	ctx := context.Background()

	_ = c.Start(ctx)
	rec := stream.last()
	rec.emit("one")

	if err := c.Pause(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.paused {
		t.Error("expected recorder paused")
	}
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.emit("two")

	artifact, _ := c.Stop(ctx)
	if string(artifact.Data) != "onetwo" {
		t.Errorf("expected onetwo, got %q", artifact.Data)
	}
	if len(stream.recorders) != 1 {
		t.Errorf("expected a single recorder with native pause, got %d", len(stream.recorders))
	}
}

func TestCapture_PauseFallbackKeepsSegments(t *testing.T) {
	stream := &fakeStream{}
	c, _ := newCapture(stream)
	ctx := context.Background()

	_ = c.Start(ctx)
	first := stream.last()
	first.emit("seg1")
	first.pending = []byte("-tail")

	if err := c.Pause(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.stopped {
		t.Error("expected first segment stopped on pause")
	}
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stream.recorders) != 2 {
		t.Fatalf("expected a new recorder after resume, got %d", len(stream.recorders))
	}
	stream.last().emit("seg2")

	artifact, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(artifact.Data) != "seg1-tailseg2" {
		t.Errorf("expected both segments, got %q", artifact.Data)
	}
}

func TestCapture_PauseResumeIdempotent(t *testing.T) {
	stream := &fakeStream{}
	c, _ := newCapture(stream)
	ctx := context.Background()

	_ = c.Start(ctx)
	_ = c.Pause(ctx)
	_ = c.Pause(ctx)
	_ = c.Resume(ctx)
	_ = c.Resume(ctx)

	if len(stream.recorders) != 2 {
		t.Errorf("expected 2 recorders, got %d", len(stream.recorders))
	}
}

func TestCapture_StopWhilePausedWithoutNativePause(t *testing.T) {
	stream := &fakeStream{}
	c, _ := newCapture(stream)
	ctx := context.Background()

	_ = c.Start(ctx)
	stream.last().emit("before")
	_ = c.Pause(ctx)

	artifact, err := c.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(artifact.Data) != "before" {
		t.Errorf("expected buffered audio, got %q", artifact.Data)
	}
}

func TestCapture_Cancel(t *testing.T) {
	stream := &fakeStream{nativePause: true}
	c, _ := newCapture(stream)
	ctx := context.Background()

	_ = c.Start(ctx)
	rec := stream.last()
	rec.emit("discard me")
	rec.pending = []byte("and me")

	if err := c.Cancel(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Cancel(ctx); err != nil {
		t.Fatalf("expected idempotent cancel, got %v", err)
	}
	if stream.tracksStopped != 1 {
		t.Errorf("expected tracks released once, got %d", stream.tracksStopped)
	}
	if _, err := c.Stop(ctx); !errors.Is(err, capture.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted after cancel, got %v", err)
	}
}

func TestCapture_Tap(t *testing.T) {
	stream := &fakeStream{nativePause: true}
	var tapped []string
	c, _ := newCapture(stream, WithTap(func(b []byte) { tapped = append(tapped, string(b)) }))
	ctx := context.Background()

	_ = c.Start(ctx)
	stream.last().emit("a")
	stream.last().emit("")
	stream.last().emit("b")

	if len(tapped) != 2 || tapped[0] != "a" || tapped[1] != "b" {
		t.Errorf("expected tap to see non-empty chunks, got %v", tapped)
	}
}

func TestCapture_PauseBeforeStart(t *testing.T) {
	c, _ := newCapture(&fakeStream{})
	if err := c.Pause(context.Background()); !errors.Is(err, capture.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if c.Platform() != capture.PlatformBrowser {
		t.Errorf("expected browser platform, got %s", c.Platform())
	}
}
