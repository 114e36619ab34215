// Package mock provides a mock STT adapter for testing without cloud credentials.
// It simulates a browser recognizer: progressive partial transcripts, exactly one
// final transcript per utterance, and optionally an unprompted end after the
// utterance, like a silence timeout.
package mock

import (
	"context"
	"sync"
	"time"

	"lecture-capture-service/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample lecture utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Today we", "Today we cover", "Today we cover eigenvalues"},
		Final:      "Today we cover eigenvalues and eigenvectors",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Recall that", "Recall that a matrix"},
		Final:      "Recall that a matrix is a linear map",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"The determinant", "The determinant of A minus"},
		Final:      "The determinant of A minus lambda I equals zero",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"For homework"},
		Final:      "For homework read chapter five",
		Confidence: 0.97,
	},
}

// DefaultDelay is the simulated recognition latency.
const DefaultDelay = 50 * time.Millisecond

// Adapter implements stt.Adapter with mock responses.
type Adapter struct {
	// Delay before each callback is delivered.
	Delay time.Duration
	// EndAfterUtterance makes the adapter call OnEnd after the final transcript.
	EndAfterUtterance bool

	cb            stt.Callback
	mu            sync.Mutex
	audioReceived int                // Count of audio frames received
	utterance     SimulatedUtterance // Current utterance being simulated
	partialIndex  int                // Next partial to send
	finalSent     bool               // Ensures only one final per utterance
	closed        bool
}

// utteranceCounter tracks which utterance to use next (cycles through defaults)
var (
	utteranceCounter int
	counterMu        sync.Mutex
)

// New creates a new mock STT adapter.
func New() *Adapter {
	counterMu.Lock()
	idx := utteranceCounter % len(DefaultUtterances)
	utteranceCounter++
	counterMu.Unlock()

	return &Adapter{
		Delay:     DefaultDelay,
		utterance: DefaultUtterances[idx],
	}
}

// NewWithUtterance creates a mock adapter that plays back u.
func NewWithUtterance(u SimulatedUtterance) *Adapter {
	return &Adapter{Delay: DefaultDelay, utterance: u}
}

// Factory returns an stt.Factory producing mock adapters.
func Factory(endAfterUtterance bool) stt.Factory {
	return func(context.Context) (stt.Adapter, error) {
		a := New()
		a.EndAfterUtterance = endAfterUtterance
		return a, nil
	}
}

// Start begins a mock transcription session.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cb = cb
	return nil
}

// SendAudio simulates receiving audio and triggers progressive partial transcripts.
// When all partials are sent, the next frame completes the utterance.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil {
		return nil
	}

	a.audioReceived++

	// One partial per audio frame
	if a.partialIndex < len(a.utterance.Partials) {
		partial := a.utterance.Partials[a.partialIndex]
		a.partialIndex++

		go func(text string) {
			time.Sleep(a.Delay)
			a.mu.Lock()
			cb, closed := a.cb, a.closed
			a.mu.Unlock()
			if !closed && cb != nil {
				cb.OnPartial(text)
			}
		}(partial)
	} else if !a.finalSent {
		a.finalSent = true

		go func() {
			time.Sleep(2 * a.Delay)
			a.mu.Lock()
			cb, closed := a.cb, a.closed
			utt := a.utterance
			end := a.EndAfterUtterance
			if end {
				a.closed = true
			}
			a.mu.Unlock()

			if !closed && cb != nil {
				cb.OnFinal(utt.Final, utt.Confidence)
				if end {
					cb.OnEnd()
				}
			}
		}()
	}

	return nil
}

// AudioReceived returns the number of frames sent to the adapter.
func (a *Adapter) AudioReceived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audioReceived
}

// Close ends the mock session. Pending callbacks are dropped.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
