// Package openai generates lecture notes with the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"lecture-capture-service/internal/service/notes"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = openai.ChatModelGPT4oMini

// Config holds OpenAI client settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// Generator implements notes.Generator.
type Generator struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
	system    string
}

var _ notes.Generator = (*Generator)(nil)

// New creates an OpenAI notes generator. SDK retries are disabled.
func New(cfg Config) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	g := &Generator{
		client:    openai.NewClient(opts...),
		model:     openai.ChatModel(cfg.Model),
		maxTokens: cfg.MaxTokens,
		system:    cfg.SystemPrompt,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.system == "" {
		g.system = notes.DefaultSystemPrompt
	}
	return g
}

// Generate sends the transcript and returns the first choice.
func (g *Generator) Generate(ctx context.Context, transcript string, opts notes.Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.system),
			openai.UserMessage(notes.UserMessage(transcript, opts)),
		},
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(g.maxTokens)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &notes.GeneratorError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return "", &notes.GeneratorError{Message: err.Error(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
