package bridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lecture-capture-service/internal/service/stt"
)

// SpeechConfig is sent to the client's recognizer on speech.start.
type SpeechConfig struct {
	Language       string `json:"language"`
	InterimResults bool   `json:"interimResults"`
}

// Speech runs the client's own recognizer (the Web Speech API in a browser). The
// recognizer listens to the microphone directly, so SendAudio discards chunks.
type Speech struct {
	peer *Peer
	cfg  SpeechConfig
	id   string

	mu    sync.Mutex
	subs  []func()
	ended bool
}

var _ stt.Adapter = (*Speech)(nil)

var recognizerSeq atomic.Uint64

// SpeechFactory returns an stt.Factory producing one client recognizer per run.
func SpeechFactory(peer *Peer, cfg SpeechConfig) stt.Factory {
	return func(context.Context) (stt.Adapter, error) {
		return &Speech{
			peer: peer,
			cfg:  cfg,
			id:   "sr-" + strconv.FormatUint(recognizerSeq.Add(1), 10),
		}, nil
	}
}

// Start subscribes to the recognizer's events and asks the client to begin.
func (s *Speech) Start(ctx context.Context, cb stt.Callback) error {
	finish := func(fn func()) {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		s.ended = true
		s.mu.Unlock()
		s.unsubscribe()
		fn()
	}

	s.mu.Lock()
	s.subs = []func(){
		s.peer.Subscribe(EvSpeechPartial, s.id, func(env Envelope) {
			var ev speechEvent
			if env.Decode(&ev) == nil {
				cb.OnPartial(ev.Text)
			}
		}),
		s.peer.Subscribe(EvSpeechFinal, s.id, func(env Envelope) {
			var ev speechEvent
			if env.Decode(&ev) == nil {
				cb.OnFinal(ev.Text, ev.Confidence)
			}
		}),
		s.peer.Subscribe(EvSpeechEnd, s.id, func(Envelope) {
			finish(cb.OnEnd)
		}),
		s.peer.Subscribe(EvSpeechError, s.id, func(env Envelope) {
			var ev speechEvent
			_ = env.Decode(&ev)
			msg := ev.Message
			if msg == "" {
				msg = "client recognizer failed"
			}
			finish(func() { cb.OnError(errors.New(msg)) })
		}),
	}
	s.mu.Unlock()

	payload := struct {
		RecognizerID string `json:"recognizerId"`
		SpeechConfig
	}{s.id, s.cfg}
	if err := s.peer.Call(ctx, OpSpeechStart, payload, nil); err != nil {
		s.unsubscribe()
		return err
	}
	return nil
}

// SendAudio is a no-op; the client recognizer has its own audio path.
func (s *Speech) SendAudio(context.Context, []byte) error {
	return nil
}

// Close stops the client recognizer without triggering OnEnd.
func (s *Speech) Close() error {
	s.mu.Lock()
	already := s.ended
	s.ended = true
	s.mu.Unlock()
	s.unsubscribe()
	if already {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.peer.Call(ctx, OpSpeechStop, map[string]string{"recognizerId": s.id}, nil)
	if errors.Is(err, ErrPeerClosed) {
		return nil
	}
	return err
}

func (s *Speech) unsubscribe() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}
