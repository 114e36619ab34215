package mock

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu       sync.Mutex
	partials []string
	finals   []finalResult
	errors   []error
	ends     int
}

type finalResult struct {
	text       string
	confidence float64
}

func (c *testCallback) OnPartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, text)
}

func (c *testCallback) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, finalResult{text, confidence})
}

func (c *testCallback) OnEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ends++
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) getPartials() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.partials...)
}

func (c *testCallback) getFinals() []finalResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]finalResult{}, c.finals...)
}

func (c *testCallback) getEnds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ends
}

var testUtterance = SimulatedUtterance{
	Partials:   []string{"Today", "Today we"},
	Final:      "Today we start",
	Confidence: 0.9,
}

func newTestAdapter() *Adapter {
	a := NewWithUtterance(testUtterance)
	a.Delay = 5 * time.Millisecond
	return a
}

func TestAdapter_New(t *testing.T) {
	adapter := New()
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.closed {
		t.Error("expected adapter to not be closed initially")
	}
	if adapter.finalSent {
		t.Error("expected finalSent to be false initially")
	}
	if adapter.Delay != DefaultDelay {
		t.Errorf("expected default delay, got %v", adapter.Delay)
	}
}

func TestAdapter_Start(t *testing.T) {
	adapter := newTestAdapter()
	cb := &testCallback{}

	if err := adapter.Start(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.cb != cb {
		t.Error("expected callback to be set")
	}
}

func TestAdapter_SendAudio_TriggersPartials(t *testing.T) {
	adapter := newTestAdapter()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	for i := 0; i < 2; i++ {
		if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)

	if got := cb.getPartials(); len(got) != 2 {
		t.Errorf("expected 2 partials, got %v", got)
	}
	if adapter.AudioReceived() != 2 {
		t.Errorf("expected 2 frames received, got %d", adapter.AudioReceived())
	}
}

func TestAdapter_SendAudio_TriggersSingleFinal(t *testing.T) {
	adapter := newTestAdapter()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	for i := 0; i < 5; i++ {
		adapter.SendAudio(context.Background(), []byte("audio"))
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	finals := cb.getFinals()
	if len(finals) != 1 {
		t.Fatalf("expected 1 final, got %d", len(finals))
	}
	if finals[0].text != "Today we start" {
		t.Errorf("expected final text, got %q", finals[0].text)
	}
	if cb.getEnds() != 0 {
		t.Errorf("expected no end without EndAfterUtterance, got %d", cb.getEnds())
	}
}

func TestAdapter_EndAfterUtterance(t *testing.T) {
	adapter := newTestAdapter()
	adapter.EndAfterUtterance = true
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	for i := 0; i < 3; i++ {
		adapter.SendAudio(context.Background(), []byte("audio"))
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if cb.getEnds() != 1 {
		t.Errorf("expected 1 end, got %d", cb.getEnds())
	}

	// Adapter is finished; more audio is ignored.
	adapter.SendAudio(context.Background(), []byte("audio"))
	if adapter.AudioReceived() != 3 {
		t.Errorf("expected audio ignored after end, got %d frames", adapter.AudioReceived())
	}
}

func TestAdapter_Close_DropsPendingCallbacks(t *testing.T) {
	adapter := newTestAdapter()
	cb := &testCallback{}
	adapter.Start(context.Background(), cb)

	adapter.SendAudio(context.Background(), []byte("audio"))
	adapter.Close()
	time.Sleep(30 * time.Millisecond)

	if got := cb.getPartials(); len(got) != 0 {
		t.Errorf("expected no partials after close, got %v", got)
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	adapter := newTestAdapter()
	adapter.Start(context.Background(), &testCallback{})

	adapter.Close()
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}

func TestAdapter_NoCallbackSet(t *testing.T) {
	adapter := newTestAdapter()

	if err := adapter.SendAudio(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}

func TestFactory(t *testing.T) {
	f := Factory(true)
	a, err := f(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.(*Adapter).EndAfterUtterance {
		t.Error("expected EndAfterUtterance to be set")
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	adapter := newTestAdapter()
	adapter.Start(context.Background(), &testCallback{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				adapter.SendAudio(context.Background(), []byte("audio"))
				time.Sleep(time.Millisecond)
			}
		}()
	}

	wg.Wait()
	adapter.Close()
}
