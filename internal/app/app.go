package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lecture-capture-service/internal/config"
	"lecture-capture-service/internal/events"
	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/bridge"
	"lecture-capture-service/internal/service/lectures"
	"lecture-capture-service/internal/service/live"
	"lecture-capture-service/internal/service/notes"
	anthropicnotes "lecture-capture-service/internal/service/notes/anthropic"
	mocknotes "lecture-capture-service/internal/service/notes/mock"
	openainotes "lecture-capture-service/internal/service/notes/openai"
	"lecture-capture-service/internal/service/persistence"
	"lecture-capture-service/internal/service/pipeline"
	"lecture-capture-service/internal/service/session"
	"lecture-capture-service/internal/service/storage"
	memorystore "lecture-capture-service/internal/service/storage/memory"
	s3store "lecture-capture-service/internal/service/storage/s3"
	"lecture-capture-service/internal/service/stt"
	googlestt "lecture-capture-service/internal/service/stt/google"
	mockstt "lecture-capture-service/internal/service/stt/mock"
	"lecture-capture-service/internal/service/transcription"
	googletranscription "lecture-capture-service/internal/service/transcription/google"
	openaitranscription "lecture-capture-service/internal/service/transcription/openai"
)

// MockTranscript is returned by the mock transcription provider.
const MockTranscript = "Today we cover the first law of thermodynamics. Energy is conserved in a closed system. " +
	"Heat added to a system equals the change in internal energy plus the work done by the system."

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Metrics     *metrics.Metrics

	Objects       storage.ObjectStore
	Audio         *persistence.Service
	Transcription *transcription.Service
	Notes         *notes.Service
	Lectures      lectures.Store
	Pipeline      *pipeline.Orchestrator
	Publisher     *events.Publisher
	DeviceLock    session.DeviceLock
	LiveFactory   stt.Factory
	ClientSpeech  *bridge.SpeechConfig

	checks  []func(ctx context.Context) error
	closers []func() error
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Lecture capture service application created")
	return a
}

// setupLogger configures zerolog for the service. ZEROLOG_LOG_LEVEL and ENV=dev
// override the configured level and format.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	lc.Format = a.Cfg.Observability.LogFormat
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(envLevel)); err == nil {
			lc.Level = strings.ToLower(envLevel)
		}
	}
	if os.Getenv("ENV") == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", lc.Format).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

// Start builds every service from the configuration. Nothing is served until it
// returns successfully.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"storage", a.initStorage},
		{"transcription", a.initTranscription},
		{"notes", a.initNotes},
		{"lectures", a.initLectures},
		{"device lock", a.initDeviceLock},
		{"live transcription", a.initLive},
		{"events", a.initEvents},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			a.Shutdown()
			return fmt.Errorf("init %s: %w", step.name, err)
		}
	}

	a.Pipeline = pipeline.New(a.Audio, a.Transcription, a.Notes, a.Lectures,
		pipeline.WithPublisher(a.Publisher),
		pipeline.WithMetrics(a.Metrics),
	)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("storage", a.Cfg.Storage.Provider).
		Str("transcription", a.Cfg.Transcription.Provider).
		Str("notes", a.Cfg.Notes.Provider).
		Str("live", a.Cfg.Live.Provider).
		Bool("database", a.Cfg.Database.DSN != "").
		Bool("redis", a.Cfg.Redis.Addr != "").
		Bool("kafka", a.Cfg.Kafka.Enabled).
		Msg("Lecture capture service starting")

	return nil
}

func (a *Application) initStorage(ctx context.Context) error {
	sc := a.Cfg.Storage
	switch sc.Provider {
	case "s3":
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			PublicBaseURL:   sc.PublicBaseURL,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			UsePathStyle:    sc.UsePathStyle,
		})
		if err != nil {
			return err
		}
		a.Objects = store
	default:
		a.Objects = memorystore.New(sc.PublicBaseURL)
	}
	a.Audio = persistence.New(a.Objects)
	return nil
}

func (a *Application) initTranscription(ctx context.Context) error {
	tc := a.Cfg.Transcription
	var backend transcription.Backend
	switch tc.Provider {
	case "openai":
		backend = openaitranscription.New(openaitranscription.Config{
			APIKey:  tc.APIKey,
			BaseURL: tc.BaseURL,
			Model:   tc.Model,
		})
	case "google":
		b, err := googletranscription.New(ctx, googletranscription.Config{
			LanguageCode:      tc.Language,
			EnablePunctuation: true,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, b.Close)
		backend = b
	default:
		backend = transcription.Static(MockTranscript)
	}
	a.Transcription = transcription.New(withTranscriptionTimeout(backend, tc.Timeout),
		transcription.WithProvider(tc.Provider),
		transcription.WithLanguage(tc.Language),
		transcription.WithMetrics(a.Metrics),
	)
	return nil
}

func withTranscriptionTimeout(b transcription.Backend, d time.Duration) transcription.Backend {
	return transcription.BackendFunc(func(ctx context.Context, req transcription.Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return b.Transcribe(ctx, req)
	})
}

func (a *Application) initNotes(context.Context) error {
	nc := a.Cfg.Notes
	var gen notes.Generator
	switch nc.Provider {
	case "anthropic":
		gen = anthropicnotes.New(anthropicnotes.Config{
			APIKey:    nc.APIKey,
			BaseURL:   nc.BaseURL,
			Model:     nc.Model,
			MaxTokens: nc.MaxTokens,
		})
	case "openai":
		gen = openainotes.New(openainotes.Config{
			APIKey:    nc.APIKey,
			BaseURL:   nc.BaseURL,
			Model:     nc.Model,
			MaxTokens: nc.MaxTokens,
		})
	default:
		gen = mocknotes.New()
	}
	timeout := nc.Timeout
	a.Notes = notes.NewService(notes.GeneratorFunc(func(ctx context.Context, transcript string, opts notes.Options) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return gen.Generate(ctx, transcript, opts)
	}), notes.WithProvider(nc.Provider), notes.WithMetrics(a.Metrics))
	return nil
}

func (a *Application) initLectures(ctx context.Context) error {
	dc := a.Cfg.Database
	if dc.DSN == "" {
		a.Lectures = lectures.NewMemoryStore()
		return nil
	}
	store, err := lectures.Open(dc.DSN)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)
	if dc.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return err
		}
	}
	a.checks = append(a.checks, store.Ping)
	a.Lectures = store
	return nil
}

func (a *Application) initDeviceLock(context.Context) error {
	rc := a.Cfg.Redis
	if rc.Addr == "" {
		a.DeviceLock = session.NewMemoryLock()
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.closers = append(a.closers, client.Close)
	a.checks = append(a.checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
	a.DeviceLock = session.NewRedisLock(client, rc.LockTTL)
	return nil
}

func (a *Application) initLive(ctx context.Context) error {
	lc := a.Cfg.Live
	switch lc.Provider {
	case "google":
		client, err := googlestt.New(ctx, googlestt.Config{
			LanguageCode:   lc.LanguageCode,
			SampleRateHz:   lc.SampleRateHz,
			InterimResults: lc.InterimResults,
			AudioEncoding:  lc.AudioEncoding,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.LiveFactory = client.Factory()
	case "client":
		a.ClientSpeech = &bridge.SpeechConfig{Language: lc.LanguageCode, InterimResults: lc.InterimResults}
	case "mock":
		a.LiveFactory = mockstt.Factory(false)
	}
	return nil
}

func (a *Application) initEvents(context.Context) error {
	kc := a.Cfg.Kafka
	a.Publisher = events.New(&events.Config{
		Brokers:        kc.Brokers,
		TopicRecording: kc.TopicRecording,
		TopicStage:     kc.TopicStage,
		Principal:      kc.Principal,
		Enabled:        kc.Enabled,
	})
	a.closers = append(a.closers, a.Publisher.Close)
	return nil
}

// Controller returns a session controller for one connected client.
func (a *Application) Controller(peer *bridge.Peer, userID string) *bridge.Controller {
	return bridge.NewController(peer, bridge.ControllerConfig{
		UserID:       userID,
		Lock:         a.DeviceLock,
		Observer:     session.ObserverFunc(a.publishRecordingState),
		Pipeline:     a.Pipeline,
		LiveFactory:  a.LiveFactory,
		ClientSpeech: a.ClientSpeech,
		LiveOptions: []live.Option{
			live.WithMaxRestarts(a.Cfg.Live.MaxRestarts),
			live.WithRestartDelay(a.Cfg.Live.RestartDelay),
			live.WithMetrics(a.Metrics),
		},
		Metrics: a.Metrics,
	})
}

func (a *Application) publishRecordingState(ctx context.Context, snap session.Snapshot) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishRecordingState(context.WithoutCancel(ctx), RecordingEvent(snap, time.Now())); err != nil {
		a.Logger.Warn().Err(err).Str("sessionId", snap.SessionID).Msg("Recording state event not published")
	}
}

// RecordingEvent converts a session snapshot to its published form.
func RecordingEvent(snap session.Snapshot, at time.Time) models.RecordingStateEvent {
	return models.RecordingStateEvent{
		EventType:  "recording.state",
		SessionID:  snap.SessionID,
		DeviceID:   snap.DeviceID,
		UserID:     snap.UserID,
		Platform:   string(snap.Platform),
		State:      snap.StateName,
		ErrorKind:  string(snap.ErrorKind),
		DurationMs: snap.DurationMs,
		Timestamp:  at.UnixMilli(),
	}
}

// Ready reports whether every external dependency answers.
func (a *Application) Ready(ctx context.Context) error {
	var errs []error
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil

	shutdownLogger.Info().Msg("Lecture capture service shutting down")
}
