// Package anthropic generates lecture notes with the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"lecture-capture-service/internal/service/notes"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = anthropic.ModelClaudeHaiku4_5

// DefaultMaxTokens bounds the length of generated notes.
const DefaultMaxTokens = 4096

// Config holds Anthropic client settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// Generator implements notes.Generator.
type Generator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
}

var _ notes.Generator = (*Generator)(nil)

// New creates an Anthropic notes generator. SDK retries are disabled.
func New(cfg Config) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	g := &Generator{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		system:    cfg.SystemPrompt,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.system == "" {
		g.system = notes.DefaultSystemPrompt
	}
	return g
}

// Generate sends the transcript and concatenates the text blocks of the reply.
func (g *Generator) Generate(ctx context.Context, transcript string, opts notes.Options) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: g.system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(notes.UserMessage(transcript, opts))),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &notes.GeneratorError{StatusCode: apiErr.StatusCode, Message: errorMessage(apiErr), Err: err}
		}
		return "", &notes.GeneratorError{Message: err.Error(), Err: err}
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// errorMessage extracts error.message from the API error body.
func errorMessage(e *anthropic.Error) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.RawJSON()), &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return e.RawJSON()
}
