// Package mock provides a credential-free notes generator for local runs and tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"lecture-capture-service/internal/service/notes"
)

// Generator builds outline notes from the transcript's sentences.
type Generator struct {
	// Err, when set, is returned instead of notes.
	Err   error
	calls atomic.Int32
}

var _ notes.Generator = (*Generator)(nil)

// New creates a mock generator.
func New() *Generator {
	return &Generator{}
}

// Calls returns how many times Generate ran.
func (g *Generator) Calls() int {
	return int(g.calls.Load())
}

// Generate returns a markdown outline with one bullet per sentence.
func (g *Generator) Generate(ctx context.Context, transcript string, opts notes.Options) (string, error) {
	g.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Err != nil {
		return "", g.Err
	}

	title := opts.Title
	if title == "" {
		title = "Lecture Notes"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Key Points\n\n", title)
	for _, s := range sentences(transcript) {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	return b.String(), nil
}

func sentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '?' || r == '!' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
