// Package openai transcribes audio with the OpenAI audio transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"lecture-capture-service/internal/service/transcription"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.AudioModelWhisper1

// Config holds OpenAI client settings.
type Config struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible servers
	Model   string
}

// Backend implements transcription.Backend.
type Backend struct {
	client openai.Client
	model  openai.AudioModel
}

var _ transcription.Backend = (*Backend)(nil)

// New creates an OpenAI transcription backend. SDK retries are disabled; the
// caller decides whether to retry.
func New(cfg Config) *Backend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openai.AudioModel(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Backend{client: openai.NewClient(opts...), model: model}
}

// Transcribe uploads the audio and returns the transcript text.
func (b *Backend) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(req.Data), req.Filename, req.MimeType),
		Model: b.model,
	}
	if req.Language != "" {
		params.Language = openai.String(req.Language)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &transcription.BackendError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return "", &transcription.BackendError{Message: err.Error(), Err: err}
	}
	return resp.Text, nil
}
