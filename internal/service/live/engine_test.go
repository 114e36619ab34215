package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/notify"
	"lecture-capture-service/internal/service/stt"
)

type fakeAdapter struct {
	mu       sync.Mutex
	cb       stt.Callback
	audio    [][]byte
	closed   bool
	startErr error
}

func (a *fakeAdapter) Start(_ context.Context, cb stt.Callback) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) SendAudio(_ context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio = append(a.audio, audio)
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAdapter) callback() stt.Callback {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cb
}

func (a *fakeAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type fakeFactory struct {
	mu       sync.Mutex
	adapters []*fakeAdapter
	startErr error
}

func (f *fakeFactory) New(context.Context) (stt.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAdapter{startErr: f.startErr}
	f.adapters = append(f.adapters, a)
	return a, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adapters)
}

func (f *fakeFactory) at(i int) *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type harness struct {
	engine    *Engine
	factory   *fakeFactory
	recording atomic.Bool
	notices   *notify.Recorder
}

func newHarness(opts ...Option) *harness {
	h := &harness{factory: &fakeFactory{}, notices: &notify.Recorder{}}
	h.recording.Store(true)
	opts = append([]Option{
		WithMetrics(metrics.NewUnregistered()),
		WithNotifier(h.notices),
	}, opts...)
	h.engine = New(h.factory.New, h.recording.Load, opts...)
	return h
}

// started waits until the i-th adapter is running with a callback.
func (h *harness) started(t *testing.T, i int) stt.Callback {
	t.Helper()
	waitFor(t, "adapter start", func() bool {
		return h.factory.count() > i && h.factory.at(i).callback() != nil
	})
	return h.factory.at(i).callback()
}

func TestEngine_InterimReplacedFinalAppended(t *testing.T) {
	h := newHarness()
	h.engine.Start(context.Background())
	defer h.engine.Stop()

	cb := h.started(t, 0)
	cb.OnPartial("the")
	cb.OnPartial("the matrix")
	if got := h.engine.Transcript().InterimText; got != "the matrix" {
		t.Errorf("expected interim to be replaced, got %q", got)
	}

	cb.OnFinal("the matrix", 0.9)
	cb.OnFinal("is square", 0.9)
	tr := h.engine.Transcript()
	if tr.FinalizedText != "the matrix is square " {
		t.Errorf("expected boundary-separated segments, got %q", tr.FinalizedText)
	}
	if tr.InterimText != "" {
		t.Errorf("expected interim cleared by final, got %q", tr.InterimText)
	}
	if tr.Text() != "the matrix is square" {
		t.Errorf("unexpected text %q", tr.Text())
	}
}

func TestEngine_RestartsWhileRecording(t *testing.T) {
	h := newHarness()
	h.engine.Start(context.Background())
	defer h.engine.Stop()

	cb := h.started(t, 0)
	cb.OnFinal("first", 1)
	cb.OnEnd()

	second := h.started(t, 1)
	if !h.factory.at(0).isClosed() {
		t.Error("expected ended recognizer to be closed")
	}
	second.OnFinal("second", 1)
	if got := h.engine.Transcript().FinalizedText; got != "first second " {
		t.Errorf("expected transcript to span restarts, got %q", got)
	}
}

func TestEngine_NoRestartWhenNotRecording(t *testing.T) {
	h := newHarness()
	h.engine.Start(context.Background())

	cb := h.started(t, 0)
	h.recording.Store(false)
	cb.OnEnd()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.engine.Wait(ctx); err != nil {
		t.Fatalf("expected loop to exit: %v", err)
	}
	if h.factory.count() != 1 {
		t.Errorf("expected no restart, got %d recognizers", h.factory.count())
	}
}

func TestEngine_StopDropsStaleCallbacks(t *testing.T) {
	h := newHarness()
	h.engine.Start(context.Background())

	cb := h.started(t, 0)
	cb.OnFinal("kept", 1)
	h.engine.Stop()

	cb.OnFinal("late", 1)
	cb.OnPartial("late interim")
	cb.OnEnd()

	tr := h.engine.Transcript()
	if tr.FinalizedText != "kept " || tr.InterimText != "" {
		t.Errorf("expected stale callbacks ignored, got %+v", tr)
	}
	waitFor(t, "adapter close", h.factory.at(0).isClosed)
	if h.factory.count() != 1 {
		t.Errorf("expected no restart after stop, got %d", h.factory.count())
	}
}

func TestEngine_RestartFreshAfterStop(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.engine.Start(ctx)
	h.started(t, 0).OnFinal("before pause", 1)
	h.engine.Stop()

	h.engine.Start(ctx)
	h.started(t, 1).OnFinal("after resume", 1)
	defer h.engine.Stop()

	if got := h.engine.Transcript().FinalizedText; got != "before pause after resume " {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestEngine_GivesUpAfterMaxRestarts(t *testing.T) {
	h := newHarness(WithMaxRestarts(2))
	h.factory.startErr = errors.New("not-allowed")
	h.engine.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.engine.Wait(ctx); err != nil {
		t.Fatalf("expected loop to exit: %v", err)
	}

	if h.factory.count() != 3 {
		t.Errorf("expected 3 attempts, got %d", h.factory.count())
	}
	if h.engine.Available() {
		t.Error("expected engine unavailable")
	}
	notices := h.notices.Notices()
	if len(notices) != 1 || notices[0].Message != UnavailableMessage {
		t.Errorf("expected one unavailable notice, got %v", notices)
	}

	// Start is a no-op once the engine has given up.
	h.engine.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	if h.factory.count() != 3 {
		t.Errorf("expected no further attempts, got %d", h.factory.count())
	}
}

func TestEngine_ProgressResetsFailureCount(t *testing.T) {
	h := newHarness(WithMaxRestarts(1))
	h.engine.Start(context.Background())
	defer h.engine.Stop()

	for i := 0; i < 4; i++ {
		cb := h.started(t, i)
		cb.OnFinal("segment", 1)
		cb.OnEnd()
	}
	h.started(t, 4)
	if !h.engine.Available() {
		t.Error("expected productive runs to keep the engine available")
	}
}

func TestEngine_Feed(t *testing.T) {
	h := newHarness()
	h.engine.Feed([]byte("ignored"))

	h.engine.Start(context.Background())
	defer h.engine.Stop()
	h.started(t, 0)

	waitFor(t, "adapter registration", func() bool {
		h.engine.Feed([]byte("chunk"))
		a := h.factory.at(0)
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.audio) > 0
	})
}

func TestEngine_Discard(t *testing.T) {
	h := newHarness()
	h.engine.Start(context.Background())
	h.started(t, 0).OnFinal("gone", 1)

	h.engine.Discard()
	if got := h.engine.Transcript(); got.FinalizedText != "" || got.InterimText != "" {
		t.Errorf("expected empty transcript, got %+v", got)
	}
}
