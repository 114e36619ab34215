// Package stt defines the interface for streaming Speech-to-Text adapters used for
// live transcription while recording.
package stt

import "context"

// Callback receives transcript results from the STT provider.
type Callback interface {
	// OnPartial is called with the latest interim hypothesis. It replaces the previous one.
	OnPartial(text string)

	// OnFinal is called when a segment is confirmed.
	OnFinal(text string, confidence float64)

	// OnEnd is called when the recognizer stops on its own (silence timeout,
	// stream limit). The adapter is unusable afterwards.
	OnEnd()

	// OnError is called when recognition fails. The adapter is unusable afterwards.
	OnError(err error)
}

// Adapter defines the interface for streaming STT providers.
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources. Close does not trigger OnEnd.
	Close() error
}

// Factory creates a fresh adapter for each recognizer run.
type Factory func(ctx context.Context) (Adapter, error)
