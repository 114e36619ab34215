// Package session implements the recording session state machine.
//
// State transitions:
//
//	IDLE → REQUESTING → RECORDING ⇄ PAUSED
//	                        │         │
//	                        └─ Stop ──┴──→ STOPPING → FINALIZED
//
//	REQUESTING, RECORDING, PAUSED, STOPPING ──(backend failure)──→ FAILED
//	any active state ──Cancel──→ IDLE
//
// Rules:
//   - One session per device: Start fails fast with ErrDeviceBusy.
//   - Calls are serialized: a call made while another is in flight returns
//     ErrOperationInFlight; a call invalid for the state returns ErrInvalidTransition.
//   - Duration is (now - startedAt) - pausedTotal and is owned by the session,
//     never by a backend.
//   - Stop yields exactly one artifact or a FAILED state with a kind.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/capture"
	"lecture-capture-service/internal/service/live"
	"lecture-capture-service/internal/service/notify"
	"lecture-capture-service/internal/service/stt"
)

// Errors for rejected calls. None of them change the session state.
var (
	ErrOperationInFlight = errors.New("another session operation is in flight")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrCancelled         = errors.New("session cancelled")
)

// Clock returns the current time.
type Clock func() time.Time

// Observer is told about every state change.
type Observer interface {
	OnStateChange(ctx context.Context, snap Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, snap Snapshot)

// OnStateChange calls f.
func (f ObserverFunc) OnStateChange(ctx context.Context, snap Snapshot) { f(ctx, snap) }

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID  string                `json:"sessionId"`
	DeviceID   string                `json:"deviceId"`
	UserID     string                `json:"userId,omitempty"`
	Platform   capture.Platform      `json:"platform"`
	State      State                 `json:"-"`
	StateName  string                `json:"state"`
	ErrorKind  models.ErrorKind      `json:"errorKind,omitempty"`
	Duration   time.Duration         `json:"-"`
	DurationMs int64                 `json:"durationMs"`
	Live       models.LiveTranscript `json:"live"`
	LiveReady  bool                  `json:"liveAvailable"`
}

// Result is the outcome of a successful Stop.
type Result struct {
	Artifact       *models.AudioArtifact
	Duration       time.Duration
	LiveTranscript models.LiveTranscript
}

// Config identifies a session.
type Config struct {
	ID       string
	DeviceID string
	UserID   string
	Platform capture.Platform
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides time.Now.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithDeviceLock sets the device lock. Defaults to a lock private to the session.
func WithDeviceLock(l DeviceLock) Option {
	return func(s *Session) { s.lock = l }
}

// WithLive enables live transcription for browser sessions. Each recognizer run
// gets a fresh adapter from factory.
func WithLive(factory stt.Factory, opts ...live.Option) Option {
	return func(s *Session) {
		s.liveFactory = factory
		s.liveOpts = opts
	}
}

// WithNotifier sets the user notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithObserver sets the state-change observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one recording on one device.
type Session struct {
	cfg         Config
	backends    capture.Table
	lock        DeviceLock
	liveFactory stt.Factory
	liveOpts    []live.Option
	live        *live.Engine
	notifier    notify.Notifier
	observer    Observer
	clock       Clock
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu          sync.RWMutex
	state       State
	busy        bool
	generation  uint64 // bumped by Cancel so in-flight calls can tell they were superseded
	backend     capture.Backend
	opCancel    context.CancelFunc
	lockHeld    bool
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	stoppedAt   time.Time
	failure     models.ErrorKind
	failureErr  error
	transcript  models.LiveTranscript
}

// New creates an idle session. Backends are resolved through the table on Start.
func New(cfg Config, backends capture.Table, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		backends: backends,
		notifier: notify.Nop{},
		clock:    time.Now,
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithSession(cfg.ID, cfg.DeviceID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lock == nil {
		s.lock = NewMemoryLock()
	}
	if s.liveFactory != nil && cfg.Platform == capture.PlatformBrowser {
		opts := append([]live.Option{live.WithNotifier(s.notifier), live.WithMetrics(s.metrics)}, s.liveOpts...)
		s.live = live.New(s.liveFactory, s.IsRecording, opts...)
	}
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.cfg.ID }

// DeviceID returns the device the session records on.
func (s *Session) DeviceID() string { return s.cfg.DeviceID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRecording reports whether the session is in RECORDING with no transition in
// flight. The live engine's restart loop is keyed off this.
func (s *Session) IsRecording() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRecording && !s.busy
}

// Failure returns the error kind and cause of a FAILED session.
func (s *Session) Failure() (models.ErrorKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure, s.failureErr
}

// Duration returns the recorded time excluding pauses.
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durationLocked(s.clock())
}

func (s *Session) durationLocked(now time.Time) time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	var end time.Time
	switch s.state {
	case StateRecording:
		end = now
	case StatePaused:
		end = s.pausedAt
	case StateStopping, StateFinalized, StateFailed:
		end = s.stoppedAt
	default:
		return 0
	}
	d := end.Sub(s.startedAt) - s.pausedTotal
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snapshotLocked()
	s.mu.RUnlock()
	if s.live != nil && snap.State.IsActive() {
		snap.Live = s.live.Transcript()
		snap.LiveReady = s.live.Available()
	}
	return snap
}

func (s *Session) snapshotLocked() Snapshot {
	d := s.durationLocked(s.clock())
	return Snapshot{
		SessionID:  s.cfg.ID,
		DeviceID:   s.cfg.DeviceID,
		UserID:     s.cfg.UserID,
		Platform:   s.cfg.Platform,
		State:      s.state,
		StateName:  s.state.String(),
		ErrorKind:  s.failure,
		Duration:   d,
		DurationMs: d.Milliseconds(),
		Live:       s.transcript,
		LiveReady:  s.live != nil && s.live.Available(),
	}
}

// begin marks an operation in flight if the state is one of allowed.
func (s *Session) begin(ctx context.Context, allowed ...State) (capture.Backend, context.Context, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, nil, 0, ErrOperationInFlight
	}
	ok := false
	for _, st := range allowed {
		if s.state == st {
			ok = true
			break
		}
	}
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrInvalidTransition, s.state)
	}
	s.busy = true
	opCtx, cancel := context.WithCancel(ctx)
	s.opCancel = cancel
	return s.backend, opCtx, s.generation, nil
}

// end clears the in-flight marker. It reports false when Cancel superseded the call.
func (s *Session) end(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.busy = false
	if s.opCancel != nil {
		s.opCancel()
		s.opCancel = nil
	}
	return true
}

// guard runs a backend call, converting panics into errors.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture backend panic: %v", r)
		}
	}()
	return fn()
}

// Start acquires the device, binds a backend and begins recording.
func (s *Session) Start(ctx context.Context) error {
	_, opCtx, gen, err := s.begin(ctx, StateIdle)
	if err != nil {
		return err
	}

	if err := s.lock.Acquire(opCtx, LockKey(s.cfg.UserID, s.cfg.DeviceID), s.cfg.ID); err != nil {
		s.end(gen)
		if errors.Is(err, ErrDeviceBusy) {
			s.metrics.RecordDeviceBusy()
			s.logger.Warn().Msg("Device busy, start rejected")
		}
		return err
	}

	s.mu.Lock()
	s.lockHeld = true
	s.failure = models.KindNone
	s.failureErr = nil
	s.startedAt = time.Time{}
	s.pausedTotal = 0
	s.transcript = models.LiveTranscript{}
	s.mu.Unlock()
	s.transition(ctx, StateRequesting)

	var tap capture.Tap
	if s.live != nil {
		tap = s.live.Feed
	}
	var backend capture.Backend
	err = guard(func() error {
		var err error
		backend, err = s.backends.New(opCtx, s.cfg.Platform, tap)
		return err
	})
	if err != nil {
		return s.failStart(ctx, gen, models.KindBackendUnavailable, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		_ = guard(func() error { return backend.Cancel(context.WithoutCancel(ctx)) })
		return ErrCancelled
	}
	s.backend = backend
	s.mu.Unlock()

	if err := guard(func() error { return backend.Start(opCtx) }); err != nil {
		kind := models.KindBackendUnavailable
		if errors.Is(err, capture.ErrPermissionDenied) {
			kind = models.KindPermissionDenied
		}
		return s.failStart(ctx, gen, kind, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.startedAt = s.clock()
	s.state = StateRecording
	s.mu.Unlock()

	s.metrics.RecordSessionStart(string(s.cfg.Platform))
	s.logger.Info().Str("platform", string(s.cfg.Platform)).Msg("Recording started")
	s.end(gen)
	s.emit(ctx)

	if s.live != nil {
		s.live.Start(ctx)
	}
	return nil
}

func (s *Session) failStart(ctx context.Context, gen uint64, kind models.ErrorKind, err error) error {
	if !s.fail(ctx, gen, kind, err) {
		return ErrCancelled
	}
	return models.NewError(kind, "recording could not start", err)
}

// Pause pauses capture and freezes the duration.
func (s *Session) Pause(ctx context.Context) error {
	backend, opCtx, gen, err := s.begin(ctx, StateRecording)
	if err != nil {
		return err
	}
	if s.live != nil {
		s.live.Stop()
	}

	if err := guard(func() error { return backend.Pause(opCtx) }); err != nil {
		if !s.fail(ctx, gen, models.KindBackendUnavailable, err) {
			return ErrCancelled
		}
		return models.NewError(models.KindBackendUnavailable, "pause failed", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.pausedAt = s.clock()
	s.state = StatePaused
	s.mu.Unlock()

	s.end(gen)
	s.emit(ctx)
	return nil
}

// Resume resumes capture. Live transcription restarts fresh.
func (s *Session) Resume(ctx context.Context) error {
	backend, opCtx, gen, err := s.begin(ctx, StatePaused)
	if err != nil {
		return err
	}

	if err := guard(func() error { return backend.Resume(opCtx) }); err != nil {
		if !s.fail(ctx, gen, models.KindBackendUnavailable, err) {
			return ErrCancelled
		}
		return models.NewError(models.KindBackendUnavailable, "resume failed", err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return ErrCancelled
	}
	s.pausedTotal += s.clock().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	s.state = StateRecording
	s.mu.Unlock()

	s.end(gen)
	s.emit(ctx)

	if s.live != nil {
		s.live.Start(ctx)
	}
	return nil
}

// Stop finalizes the backend and returns the artifact. A zero-byte capture fails
// the session with EmptyCapture.
func (s *Session) Stop(ctx context.Context) (*Result, error) {
	backend, opCtx, gen, err := s.begin(ctx, StateRecording, StatePaused)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.freezeLocked(s.clock())
	s.state = StateStopping
	s.mu.Unlock()
	s.emit(ctx)

	var transcript models.LiveTranscript
	if s.live != nil {
		s.live.Stop()
		transcript = s.live.Transcript()
	}

	var artifact *models.AudioArtifact
	err = guard(func() error {
		var err error
		artifact, err = backend.Stop(opCtx)
		return err
	})
	if err != nil {
		if !s.fail(ctx, gen, models.KindBackendUnavailable, err) {
			return nil, ErrCancelled
		}
		return nil, models.NewError(models.KindBackendUnavailable, "recording could not be finalized", err)
	}
	if artifact.Empty() {
		if !s.fail(ctx, gen, models.KindEmptyCapture, nil) {
			return nil, ErrCancelled
		}
		return nil, models.NewError(models.KindEmptyCapture, "nothing was recorded", nil)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	s.state = StateFinalized
	s.transcript = transcript
	duration := s.durationLocked(s.stoppedAt)
	s.backend = nil
	s.mu.Unlock()

	s.releaseDevice(ctx)
	s.metrics.RecordSessionFinalized(duration.Seconds(), artifact.SizeBytes)
	s.logger.Info().
		Int64("bytes", artifact.SizeBytes).
		Str("mimeType", artifact.MimeType).
		Dur("duration", duration).
		Msg("Recording finalized")
	s.end(gen)
	s.emit(ctx)

	return &Result{Artifact: artifact, Duration: duration, LiveTranscript: transcript}, nil
}

// Cancel tears down the backend and returns the session to IDLE without an
// artifact. It is a no-op in IDLE and in terminal states.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.IsActive() {
		s.mu.Unlock()
		return nil
	}
	wasRecording := !s.startedAt.IsZero()
	s.generation++
	s.busy = false
	backend := s.backend
	opCancel := s.opCancel
	s.backend = nil
	s.opCancel = nil
	s.state = StateIdle
	s.startedAt = time.Time{}
	s.pausedAt = time.Time{}
	s.pausedTotal = 0
	s.transcript = models.LiveTranscript{}
	s.mu.Unlock()

	if opCancel != nil {
		opCancel()
	}
	if s.live != nil {
		s.live.Discard()
	}
	teardownCtx := context.WithoutCancel(ctx)
	if backend != nil {
		if err := guard(func() error { return backend.Cancel(teardownCtx) }); err != nil {
			s.logger.Warn().Err(err).Msg("Backend cancel failed")
		}
	}
	s.releaseDevice(teardownCtx)

	s.metrics.RecordSessionCancelled(wasRecording)
	s.logger.Info().Msg("Recording cancelled")
	s.emit(ctx)
	return nil
}

// fail moves the session to FAILED, releasing the backend and device. It reports
// false when Cancel already superseded generation gen.
func (s *Session) fail(ctx context.Context, gen uint64, kind models.ErrorKind, cause error) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	wasRecording := !s.startedAt.IsZero()
	if wasRecording && s.state != StateStopping {
		s.freezeLocked(s.clock())
	}
	s.state = StateFailed
	s.failure = kind
	s.failureErr = cause
	backend := s.backend
	s.backend = nil
	s.mu.Unlock()

	if s.live != nil {
		s.live.Discard()
	}
	teardownCtx := context.WithoutCancel(ctx)
	if backend != nil && kind != models.KindEmptyCapture {
		if err := guard(func() error { return backend.Cancel(teardownCtx) }); err != nil {
			s.logger.Debug().Err(err).Msg("Backend cancel after failure failed")
		}
	}
	s.releaseDevice(teardownCtx)

	s.metrics.RecordSessionFailed(string(kind), wasRecording)
	s.logger.Error().Err(cause).Str("errorKind", string(kind)).Msg("Recording failed")
	s.notifier.Notify(ctx, notify.Notice{Level: notify.LevelError, Message: failureMessage(kind)})
	s.end(gen)
	s.emit(ctx)
	return true
}

// freezeLocked stops the duration clock at now.
func (s *Session) freezeLocked(now time.Time) {
	if s.state == StatePaused && !s.pausedAt.IsZero() {
		s.pausedTotal += now.Sub(s.pausedAt)
		s.pausedAt = time.Time{}
	}
	s.stoppedAt = now
}

func (s *Session) releaseDevice(ctx context.Context) {
	s.mu.Lock()
	held := s.lockHeld
	s.lockHeld = false
	s.mu.Unlock()
	if !held {
		return
	}
	if err := s.lock.Release(ctx, LockKey(s.cfg.UserID, s.cfg.DeviceID), s.cfg.ID); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to release device lock")
	}
}

func (s *Session) transition(ctx context.Context, to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	s.emit(ctx)
}

func (s *Session) emit(ctx context.Context) {
	if s.observer == nil {
		return
	}
	s.observer.OnStateChange(ctx, s.Snapshot())
}

func failureMessage(kind models.ErrorKind) string {
	switch kind {
	case models.KindPermissionDenied:
		return "Microphone permission was denied"
	case models.KindEmptyCapture:
		return "Nothing was recorded"
	default:
		return "Recording failed"
	}
}
