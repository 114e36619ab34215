// Package capture defines the platform-independent audio capture contract.
//
// Each platform provides one Backend implementation; the session picks one through a
// Table keyed by Platform when it starts and keeps it for the session's lifetime.
package capture

import (
	"context"
	"errors"
	"fmt"

	"lecture-capture-service/internal/models"
)

// Platform identifies the runtime a capture backend drives.
type Platform string

const (
	PlatformBrowser Platform = "browser"
	PlatformNative  Platform = "native"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformBrowser || p == PlatformNative
}

var (
	// ErrPermissionDenied is returned by Start when the user or OS refuses microphone access.
	ErrPermissionDenied = errors.New("recording permission denied")
	// ErrUnsupportedPlatform is returned by a Table with no constructor for the platform.
	ErrUnsupportedPlatform = errors.New("unsupported capture platform")
	// ErrNotStarted is returned when a backend is driven before Start succeeded.
	ErrNotStarted = errors.New("capture not started")
)

// Backend captures audio on one platform.
//
// Stop finalizes the capture and returns the complete artifact, or nil when nothing
// was recorded. Cancel releases every resource without producing an artifact and is
// safe to call at any time.
type Backend interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) (*models.AudioArtifact, error)
	Cancel(ctx context.Context) error
	Platform() Platform
}

// Tap observes recorded chunks as they arrive. Backends that cannot expose chunks
// ignore it.
type Tap func(chunk []byte)

// Constructor builds a backend for one session.
type Constructor func(ctx context.Context, tap Tap) (Backend, error)

// Table maps each platform to its backend constructor.
type Table map[Platform]Constructor

// New builds the backend registered for p.
func (t Table) New(ctx context.Context, p Platform, tap Tap) (Backend, error) {
	ctor, ok := t[p]
	if !ok || ctor == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, p)
	}
	return ctor(ctx, tap)
}
