// Package notes turns lecture transcripts into markdown study notes through an
// external text generation backend.
package notes

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
)

// DefaultSystemPrompt instructs the model how to structure lecture notes.
const DefaultSystemPrompt = `You are a study assistant that turns lecture transcripts into clear, well-structured notes.

Write the notes in Markdown:
- Start with a level-one heading naming the lecture topic.
- Follow with a short "Summary" section of two to four sentences.
- Add a "Key Concepts" section with one bullet per concept and a one-line explanation.
- Add a "Details" section that follows the order of the lecture, using subheadings where the lecturer changes topic.
- Finish with a "Review Questions" section of three to five questions a student could use to test themselves.

Only use information from the transcript. Do not invent facts, formulas or references. If part of the transcript is unclear, leave it out rather than guessing.`

// Options tune a single generation call.
type Options struct {
	// Title is used as the heading when set.
	Title string `json:"title,omitempty"`
	// Subject gives the model context, e.g. "Organic Chemistry".
	Subject string `json:"subject,omitempty"`
	// Language of the notes. Empty means the transcript's language.
	Language string `json:"language,omitempty"`
	// Detail is "brief" or "detailed". Empty means the default structure.
	Detail string `json:"detail,omitempty" validate:"omitempty,oneof=brief detailed"`
}

// UserMessage builds the user turn sent with the transcript.
func UserMessage(transcript string, opts Options) string {
	var b strings.Builder
	if opts.Title != "" {
		fmt.Fprintf(&b, "Lecture title: %s\n", opts.Title)
	}
	if opts.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", opts.Subject)
	}
	if opts.Language != "" {
		fmt.Fprintf(&b, "Write the notes in %s.\n", opts.Language)
	}
	switch opts.Detail {
	case "brief":
		b.WriteString("Keep the notes brief: summary and key concepts only.\n")
	case "detailed":
		b.WriteString("Be thorough in the Details section and keep worked examples.\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("Here is the lecture transcript to turn into notes:\n\n")
	b.WriteString(transcript)
	return b.String()
}

// Generator produces markdown notes from a transcript. Errors describing a
// provider response should be *GeneratorError so they can be classified.
type Generator interface {
	Generate(ctx context.Context, transcript string, opts Options) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, transcript string, opts Options) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, transcript string, opts Options) (string, error) {
	return f(ctx, transcript, opts)
}

// GeneratorError is a failure reported by the provider. StatusCode is 0 when the
// request never got a response.
type GeneratorError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GeneratorError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("notes backend unreachable: %s", e.Message)
	}
	return fmt.Sprintf("notes backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

// Classify maps a generator error to an error kind and message.
func Classify(ctx context.Context, err error) (models.ErrorKind, string) {
	if ctx.Err() != nil {
		return models.KindCancelled, "note generation cancelled"
	}
	var ge *GeneratorError
	if !errors.As(err, &ge) {
		return models.KindServiceUnavailable, err.Error()
	}
	msg := ge.Message
	if msg == "" {
		msg = http.StatusText(ge.StatusCode)
	}
	if ge.StatusCode == 0 || ge.StatusCode >= 500 || ge.StatusCode == http.StatusTooManyRequests {
		if msg == "" {
			msg = "note generation service unavailable"
		}
		return models.KindServiceUnavailable, msg
	}
	return models.KindBackendRejected, msg
}

// Option configures a Service.
type Option func(*Service)

// WithProvider names the generator in logs and metrics.
func WithProvider(name string) Option {
	return func(s *Service) { s.provider = name }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service wraps a Generator and returns typed results.
type Service struct {
	gen      Generator
	provider string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewService creates a notes service.
func NewService(gen Generator, opts ...Option) *Service {
	s := &Service{
		gen:      gen,
		provider: "custom",
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("notes"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate calls the generator once.
func (s *Service) Generate(ctx context.Context, transcript string, opts Options) models.NotesResult {
	if strings.TrimSpace(transcript) == "" {
		return s.failed(models.KindEmptyAudio, "transcript is empty")
	}
	if s.gen == nil {
		return s.failed(models.KindServiceUnavailable, "note generator is not configured")
	}

	start := time.Now()
	text, err := s.gen.Generate(ctx, transcript, opts)
	latency := time.Since(start)
	if err != nil {
		kind, msg := Classify(ctx, err)
		s.logger.Warn().
			Err(err).
			Str("provider", s.provider).
			Str("errorKind", string(kind)).
			Dur("latency", latency).
			Msg("Note generation failed")
		return s.failed(kind, msg)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return s.failed(models.KindServiceUnavailable, "note generator returned no text")
	}

	s.logger.Info().
		Str("provider", s.provider).
		Int("chars", len(text)).
		Dur("latency", latency).
		Msg("Notes generated")
	return models.NotesOK(text)
}

func (s *Service) failed(kind models.ErrorKind, msg string) models.NotesResult {
	s.metrics.RecordNotesError(s.provider, string(kind))
	return models.NotesFailed(kind, msg)
}
