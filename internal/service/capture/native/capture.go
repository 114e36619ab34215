// Package native implements capture.Backend over a mobile/desktop recording bridge.
package native

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/service/capture"
)

// DefaultMimeType is assumed when the bridge does not report a container type.
const DefaultMimeType = "audio/aac"

// Recording is what a native recorder hands back on stop.
type Recording struct {
	Base64     string `json:"base64"`
	DurationMs int64  `json:"durationMs"`
	MimeType   string `json:"mimeType"`
}

// Bridge drives the platform recorder.
type Bridge interface {
	// RequestPermission asks for microphone access and reports whether it was granted.
	RequestPermission(ctx context.Context) (bool, error)
	StartRecording(ctx context.Context) error
	PauseRecording(ctx context.Context) error
	ResumeRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*Recording, error)
}

// Capture records through a Bridge.
type Capture struct {
	bridge Bridge
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	paused  bool
}

var _ capture.Backend = (*Capture)(nil)

// New creates a native capture backend.
func New(bridge Bridge) *Capture {
	return &Capture{
		bridge: bridge,
		logger: logging.WithComponent("capture.native"),
	}
}

// Platform returns capture.PlatformNative.
func (c *Capture) Platform() capture.Platform { return capture.PlatformNative }

// Start requests permission and starts the native recorder.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("native capture already started")
	}

	granted, err := c.bridge.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		return capture.ErrPermissionDenied
	}
	if err := c.bridge.StartRecording(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Pause pauses the native recorder.
func (c *Capture) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return capture.ErrNotStarted
	}
	if c.paused {
		return nil
	}
	if err := c.bridge.PauseRecording(ctx); err != nil {
		return err
	}
	c.paused = true
	return nil
}

// Resume resumes the native recorder.
func (c *Capture) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return capture.ErrNotStarted
	}
	if !c.paused {
		return nil
	}
	if err := c.bridge.ResumeRecording(ctx); err != nil {
		return err
	}
	c.paused = false
	return nil
}

// Stop stops the recorder and decodes its payload. It returns nil when the
// recorder produced no audio.
func (c *Capture) Stop(ctx context.Context) (*models.AudioArtifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil, capture.ErrNotStarted
	}
	c.started = false
	c.paused = false

	rec, err := c.bridge.StopRecording(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	data, dataURLType, err := Decode(rec.Base64)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	mimeType := rec.MimeType
	if mimeType == "" {
		mimeType = dataURLType
	}
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	c.logger.Debug().
		Int("bytes", len(data)).
		Int64("durationMs", rec.DurationMs).
		Str("mimeType", mimeType).
		Msg("Native capture finalized")

	return models.NewAudioArtifact(data, mimeType, rec.DurationMs), nil
}

// Cancel stops the recorder and drops its output. Idempotent.
func (c *Capture) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.paused = false
	if _, err := c.bridge.StopRecording(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Native stop failed during cancel")
	}
	return nil
}

// Decode decodes a base64 payload that may carry a data-URL prefix
// ("data:audio/aac;base64,..."). It returns the bytes and the prefix's media type, if any.
func Decode(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	var mediaType string
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, "", errors.New("malformed data URL")
		}
		header := payload[len("data:"):comma]
		payload = payload[comma+1:]
		header = strings.TrimSuffix(header, ";base64")
		mediaType = header
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, mediaType, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, mediaType, fmt.Errorf("decode recording: %w", err)
		}
		data = raw
	}
	return data, mediaType, nil
}
