// Package browser implements capture.Backend over a browser-style media recorder.
//
// The ports mirror the browser primitives (getUserMedia, MediaStream, MediaRecorder)
// so the backend can drive a real page through the WebSocket bridge or an
// in-process fake in tests.
package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/capture"
)

// DefaultMimeType is used when the recorder does not report one.
const DefaultMimeType = "audio/webm"

// MediaDevices grants access to the microphone.
type MediaDevices interface {
	// GetUserMedia returns an audio stream, or capture.ErrPermissionDenied when refused.
	GetUserMedia(ctx context.Context) (MediaStream, error)
}

// MediaStream is a live microphone stream.
type MediaStream interface {
	// NewRecorder creates a recorder that delivers encoded chunks to onData.
	NewRecorder(ctx context.Context, onData func(chunk []byte)) (MediaRecorder, error)
	// StopTracks releases the microphone.
	StopTracks(ctx context.Context) error
}

// MediaRecorder encodes a stream into a compressed container.
// Stop must deliver any remaining buffered data to onData before it returns.
type MediaRecorder interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	SupportsPause() bool
	MimeType() string
}

// Option configures a Capture.
type Option func(*Capture)

// WithTap forwards every recorded chunk to fn, e.g. for a live transcription engine.
// fn is called outside the capture's lock and must not block.
func WithTap(fn func(chunk []byte)) Option {
	return func(c *Capture) { c.tap = fn }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// Capture records audio through MediaDevices. Not reusable after Stop or Cancel.
type Capture struct {
	devices MediaDevices
	tap     func([]byte)
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	stream    MediaStream
	recorder  MediaRecorder // nil while paused without native pause support
	chunks    [][]byte
	mimeType  string
	started   bool
	paused    bool
	segments  int
	released  bool
	discarded bool
}

var _ capture.Backend = (*Capture)(nil)

// New creates a browser capture backend.
func New(devices MediaDevices, opts ...Option) *Capture {
	c := &Capture{
		devices: devices,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("capture.browser"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns capture.PlatformBrowser.
func (c *Capture) Platform() capture.Platform { return capture.PlatformBrowser }

// Start requests the microphone and begins the first recording segment.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("browser capture already started")
	}
	c.mu.Unlock()

	stream, err := c.devices.GetUserMedia(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	if err := c.startSegment(ctx); err != nil {
		c.releaseTracks(ctx)
		return err
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Pause pauses the recorder natively when supported; otherwise the current segment
// is stopped (its flushed chunks are kept) and Resume opens a new one.
func (c *Capture) Pause(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return capture.ErrNotStarted
	}
	if c.paused {
		c.mu.Unlock()
		return nil
	}
	rec := c.recorder
	c.mu.Unlock()

	if rec.SupportsPause() {
		if err := rec.Pause(ctx); err != nil {
			return err
		}
	} else {
		if err := rec.Stop(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		c.recorder = nil
		c.mu.Unlock()
		c.logger.Debug().Msg("Recorder lacks native pause, segment closed")
	}

	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

// Resume continues recording after Pause.
func (c *Capture) Resume(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return capture.ErrNotStarted
	}
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	rec := c.recorder
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Resume(ctx); err != nil {
			return err
		}
	} else if err := c.startSegment(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

// Stop flushes the recorder, releases the microphone and returns the concatenated
// chunks. It returns nil when no audio was recorded.
func (c *Capture) Stop(ctx context.Context) (*models.AudioArtifact, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, capture.ErrNotStarted
	}
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()

	var stopErr error
	if rec != nil {
		stopErr = rec.Stop(ctx)
	}
	c.releaseTracks(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	if stopErr != nil {
		c.chunks = nil
		return nil, stopErr
	}

	size := 0
	for _, ch := range c.chunks {
		size += len(ch)
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, 0, size)
	for _, ch := range c.chunks {
		data = append(data, ch...)
	}
	c.chunks = nil

	mimeType := c.mimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	c.logger.Debug().
		Int("bytes", size).
		Int("segments", c.segments).
		Str("mimeType", mimeType).
		Msg("Browser capture finalized")

	return models.NewAudioArtifact(data, mimeType, 0), nil
}

// Cancel discards buffered audio and releases the microphone. Idempotent.
func (c *Capture) Cancel(ctx context.Context) error {
	c.mu.Lock()
	c.discarded = true
	c.chunks = nil
	rec := c.recorder
	c.recorder = nil
	c.started = false
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Stop(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Recorder stop failed during cancel")
		}
	}
	c.releaseTracks(ctx)

	c.mu.Lock()
	c.chunks = nil
	c.mu.Unlock()
	return nil
}

// TracksReleased reports whether the microphone stream has been released.
func (c *Capture) TracksReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *Capture) startSegment(ctx context.Context) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	rec, err := stream.NewRecorder(ctx, c.onData)
	if err != nil {
		return err
	}
	if err := rec.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.recorder = rec
	c.segments++
	if c.mimeType == "" {
		c.mimeType = rec.MimeType()
	}
	c.mu.Unlock()
	return nil
}

func (c *Capture) onData(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	c.mu.Lock()
	if c.discarded {
		c.mu.Unlock()
		return
	}
	c.chunks = append(c.chunks, buf)
	tap := c.tap
	c.mu.Unlock()

	c.metrics.RecordChunkBuffered()
	if tap != nil {
		tap(buf)
	}
}

func (c *Capture) releaseTracks(ctx context.Context) {
	c.mu.Lock()
	stream := c.stream
	already := c.released
	c.released = true
	c.mu.Unlock()

	if already || stream == nil {
		return
	}
	if err := stream.StopTracks(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to release media tracks")
	}
}
