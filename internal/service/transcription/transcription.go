// Package transcription sends finalized recordings to a server-side speech-to-text
// backend and classifies failures into error kinds the UI can act on.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/audiofmt"
)

// Request is a single transcription call.
type Request struct {
	Data     []byte
	Filename string
	MimeType string
	Language string
}

// Backend is a speech-to-text provider. Errors describing a provider response
// should be *BackendError so they can be classified.
type Backend interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

// Transcribe calls f.
func (f BackendFunc) Transcribe(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Static returns a backend that always answers text. Used for credential-free runs.
func Static(text string) Backend {
	return BackendFunc(func(ctx context.Context, _ Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return text, nil
	})
}

// BackendError is a failure reported by the provider. StatusCode is 0 when the
// request never got a response.
type BackendError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transcription backend unreachable: %s", e.Message)
	}
	return fmt.Sprintf("transcription backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// formatHints mark a 4xx message as a container/format problem.
var formatHints = []string{
	"format",
	"file type",
	"unsupported",
	"codec",
	"container",
	"could not be decoded",
	"invalid file",
	"encoding",
}

// Classify maps a backend error to an error kind and the message to surface.
// The provider's own text is returned verbatim whenever there is one.
func Classify(ctx context.Context, err error) (models.ErrorKind, string) {
	if ctx.Err() != nil {
		return models.KindCancelled, "transcription cancelled"
	}

	var be *BackendError
	if !errors.As(err, &be) {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.KindServiceUnavailable, "transcription timed out"
		}
		return models.KindServiceUnavailable, err.Error()
	}

	msg := be.Message
	if msg == "" {
		msg = http.StatusText(be.StatusCode)
	}
	switch {
	case be.StatusCode == 0,
		be.StatusCode >= 500,
		be.StatusCode == http.StatusTooManyRequests,
		be.StatusCode == http.StatusRequestTimeout:
		if msg == "" {
			msg = "transcription service unavailable"
		}
		return models.KindServiceUnavailable, msg
	case be.StatusCode == http.StatusUnsupportedMediaType:
		return models.KindUnsupportedFormat, msg
	case be.StatusCode >= 400:
		lower := strings.ToLower(msg)
		for _, hint := range formatHints {
			if strings.Contains(lower, hint) {
				return models.KindUnsupportedFormat, msg
			}
		}
		return models.KindBackendRejected, msg
	default:
		return models.KindServiceUnavailable, msg
	}
}

// Option configures a Service.
type Option func(*Service)

// WithLanguage sets the language hint sent with every request.
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// WithProvider names the backend in logs and metrics.
func WithProvider(name string) Option {
	return func(s *Service) { s.provider = name }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service transcribes audio artifacts. It never retries.
type Service struct {
	backend  Backend
	provider string
	language string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a transcription service.
func New(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		provider: "custom",
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("transcription"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe sends the artifact once and returns a typed result.
func (s *Service) Transcribe(ctx context.Context, artifact *models.AudioArtifact) models.TranscriptionResult {
	if artifact.Empty() {
		return s.failed(models.KindEmptyAudio, "audio is empty")
	}
	if s.backend == nil {
		return s.failed(models.KindServiceUnavailable, "transcription backend is not configured")
	}

	mimeType, ext := audiofmt.Normalize(artifact.MimeType, artifact.Data)
	req := Request{
		Data:     artifact.Data,
		Filename: "audio." + ext,
		MimeType: mimeType,
		Language: s.language,
	}

	start := time.Now()
	text, err := s.backend.Transcribe(ctx, req)
	latency := time.Since(start)
	if err != nil {
		kind, msg := Classify(ctx, err)
		s.logger.Warn().
			Err(err).
			Str("provider", s.provider).
			Str("errorKind", string(kind)).
			Str("mimeType", mimeType).
			Dur("latency", latency).
			Msg("Transcription failed")
		return s.failed(kind, msg)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return s.failed(models.KindEmptyAudio, "no speech was recognized")
	}

	s.logger.Info().
		Str("provider", s.provider).
		Str("mimeType", mimeType).
		Int("chars", len(text)).
		Dur("latency", latency).
		Msg("Transcription completed")
	return models.TranscriptionOK(text)
}

func (s *Service) failed(kind models.ErrorKind, msg string) models.TranscriptionResult {
	s.metrics.RecordTranscriptionError(s.provider, string(kind))
	return models.TranscriptionFailed(kind, msg)
}
