// Package live runs best-effort live transcription alongside a recording session.
//
// A recognizer run ends on its own (silence timeout, stream limit, provider error).
// The engine's loop restarts it only while the owning session still reports that it
// is recording; once the session pauses, stops or fails the loop exits. Callbacks
// from a superseded run are dropped by comparing generations.
package live

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/notify"
	"lecture-capture-service/internal/service/stt"
)

const (
	// DefaultMaxRestarts bounds consecutive recognizer runs that produce nothing.
	DefaultMaxRestarts = 3

	// UnavailableMessage is the only way engine failures reach the user.
	UnavailableMessage = "live transcript unavailable"

	segmentBoundary = " "
)

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the notifier used for the unavailable notice.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMaxRestarts overrides DefaultMaxRestarts.
func WithMaxRestarts(n int) Option {
	return func(e *Engine) { e.maxRestarts = n }
}

// WithRestartDelay waits d between recognizer runs.
func WithRestartDelay(d time.Duration) Option {
	return func(e *Engine) { e.restartDelay = d }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine maintains a LiveTranscript from a sequence of recognizer runs.
type Engine struct {
	factory      stt.Factory
	isRecording  func() bool
	notifier     notify.Notifier
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	maxRestarts  int
	restartDelay time.Duration

	mu          sync.Mutex
	generation  uint64
	cancel      context.CancelFunc
	done        chan struct{}
	adapter     stt.Adapter
	runCtx      context.Context
	segments    []string
	interim     string
	progressed  bool
	unavailable bool
}

// New creates an engine. isRecording must report whether the owning session is
// currently in the Recording state; it is called without holding engine locks.
func New(factory stt.Factory, isRecording func() bool, opts ...Option) *Engine {
	e := &Engine{
		factory:     factory,
		isRecording: isRecording,
		notifier:    notify.Nop{},
		metrics:     metrics.DefaultMetrics,
		logger:      logging.WithComponent("live"),
		maxRestarts: DefaultMaxRestarts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a fresh recognizer loop. It is a no-op when a loop is already
// running or when the engine has given up for this session.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil || e.unavailable {
		return
	}
	e.generation++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.runCtx = runCtx
	e.done = make(chan struct{})
	e.interim = ""

	go e.loop(runCtx, e.generation, e.done)
}

// Stop ends the current loop and closes its recognizer. The transcript is kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	adapter := e.adapter
	e.cancel = nil
	e.adapter = nil
	e.generation++
	e.interim = ""
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if adapter != nil {
		_ = adapter.Close()
	}
}

// Discard stops the engine and clears the transcript.
func (e *Engine) Discard() {
	e.Stop()
	e.mu.Lock()
	e.segments = nil
	e.mu.Unlock()
}

// Wait blocks until the current loop has exited or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed forwards captured audio to the active recognizer, if any.
func (e *Engine) Feed(chunk []byte) {
	e.mu.Lock()
	adapter, ctx := e.adapter, e.runCtx
	e.mu.Unlock()
	if adapter == nil {
		return
	}
	if err := adapter.SendAudio(ctx, chunk); err != nil {
		e.logger.Debug().Err(err).Msg("Live recognizer rejected audio")
	}
}

// Transcript returns the current live transcript.
func (e *Engine) Transcript() models.LiveTranscript {
	e.mu.Lock()
	defer e.mu.Unlock()
	var b strings.Builder
	for _, s := range e.segments {
		b.WriteString(s)
		b.WriteString(segmentBoundary)
	}
	return models.LiveTranscript{FinalizedText: b.String(), InterimText: e.interim}
}

// Available reports whether the engine is still willing to transcribe.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unavailable
}

// loop is the guarded restart loop. Each iteration runs one recognizer to its end.
func (e *Engine) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		if e.generation == gen && e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.mu.Unlock()
		close(done)
	}()

	failures := 0
	for {
		if ctx.Err() != nil || !e.isRecording() {
			return
		}

		err := e.runOnce(ctx, gen)
		if err != nil {
			e.logger.Debug().Err(err).Msg("Live recognizer run ended with error")
		}

		if ctx.Err() != nil || !e.isRecording() {
			return
		}

		if e.takeProgress() {
			failures = 0
		} else {
			failures++
		}
		if failures > e.maxRestarts {
			e.giveUp(ctx, gen)
			return
		}

		e.metrics.RecordLiveRestart()
		if e.restartDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.restartDelay):
			}
		}
	}
}

// runOnce starts one recognizer and blocks until it ends or ctx is cancelled.
func (e *Engine) runOnce(ctx context.Context, gen uint64) error {
	adapter, err := e.factory(ctx)
	if err != nil {
		return err
	}

	ended := make(chan error, 1)
	if err := adapter.Start(ctx, &runCallback{engine: e, gen: gen, ended: ended}); err != nil {
		_ = adapter.Close()
		return err
	}

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		_ = adapter.Close()
		return nil
	}
	e.adapter = adapter
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-ended:
	}

	e.mu.Lock()
	if e.adapter == adapter {
		e.adapter = nil
	}
	e.mu.Unlock()
	_ = adapter.Close()
	return err
}

func (e *Engine) takeProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.progressed
	e.progressed = false
	return p
}

func (e *Engine) giveUp(ctx context.Context, gen uint64) {
	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	e.unavailable = true
	e.interim = ""
	e.mu.Unlock()

	e.metrics.RecordLiveUnavailable()
	e.logger.Warn().Int("maxRestarts", e.maxRestarts).Msg("Live transcription gave up")
	e.notifier.Notify(ctx, notify.Notice{Level: notify.LevelWarning, Message: UnavailableMessage})
}

func (e *Engine) onPartial(gen uint64, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	e.interim = text
	e.progressed = true
}

func (e *Engine) onFinal(gen uint64, text string) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.interim = ""
	e.progressed = true
	text = strings.TrimSpace(text)
	if text == "" {
		e.mu.Unlock()
		return
	}
	e.segments = append(e.segments, text)
	e.mu.Unlock()
	e.metrics.RecordLiveSegment()
}

// errRecognizerEnded marks a run that ended without an error.
var errRecognizerEnded = errors.New("recognizer ended")

type runCallback struct {
	engine *Engine
	gen    uint64
	once   sync.Once
	ended  chan error
}

func (c *runCallback) OnPartial(text string) { c.engine.onPartial(c.gen, text) }

func (c *runCallback) OnFinal(text string, _ float64) { c.engine.onFinal(c.gen, text) }

func (c *runCallback) OnEnd() { c.finish(nil) }

func (c *runCallback) OnError(err error) {
	if err == nil {
		err = errRecognizerEnded
	}
	c.finish(err)
}

func (c *runCallback) finish(err error) {
	c.once.Do(func() { c.ended <- err })
}
