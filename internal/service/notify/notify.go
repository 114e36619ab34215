// Package notify delivers user-facing notices to whatever surface owns the session.
// Components receive a Notifier explicitly; there is no process-wide instance.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a short message for the user.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier delivers notices. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, n Notice)

// Notify calls f.
func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Log writes notices to a logger.
type Log struct {
	Logger zerolog.Logger
}

// Notify logs the notice at the matching level.
func (l Log) Notify(_ context.Context, n Notice) {
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = l.Logger.Error()
	case LevelWarning:
		ev = l.Logger.Warn()
	default:
		ev = l.Logger.Info()
	}
	ev.Str("notice", n.Message).Msg("User notice")
}

// Nop discards notices.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Notice) {}

// Recorder collects notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records n.
func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice{}, r.notices...)
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify delivers n to every non-nil notifier.
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}
