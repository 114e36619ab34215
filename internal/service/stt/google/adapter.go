// Package google provides a Google Cloud Speech-to-Text streaming adapter for live
// transcription.
package google

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"lecture-capture-service/internal/service/stt"
)

// Config holds streaming recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string // LINEAR16, MULAW, FLAC, AMR, AMR_WB, OGG_OPUS, SPEEX_WITH_HEADER_BYTE, WEBM_OPUS
}

// DefaultConfig matches browser recorder output (Opus in WebM at 48 kHz).
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   48000,
		InterimResults: true,
		AudioEncoding:  "WEBM_OPUS",
	}
}

// parseAudioEncoding converts an encoding name to the protobuf enum. Unknown names
// fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type streamOpener func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Client owns the Speech connection and hands out one Adapter per recognizer run.
type Client struct {
	open  streamOpener
	close func() error
	cfg   Config
}

// New dials Google Cloud Speech. Credentials come from opts or Application Default
// Credentials.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		open: func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
			return c.StreamingRecognize(ctx)
		},
		close: c.Close,
		cfg:   cfg,
	}, nil
}

// NewAdapter returns an adapter for a single streaming session.
func (c *Client) NewAdapter() *Adapter {
	return &Adapter{open: c.open, cfg: c.cfg}
}

// Factory returns an stt.Factory backed by this client.
func (c *Client) Factory() stt.Factory {
	return func(context.Context) (stt.Adapter, error) {
		return c.NewAdapter(), nil
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text streaming.
type Adapter struct {
	open streamOpener
	cfg  Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	cb     stt.Callback
	closed bool
}

// Start opens the stream, sends the recognition config and begins delivering results.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := a.open(ctx)
	if err != nil {
		cancel()
		return err
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            a.cfg.SampleRateHz,
					LanguageCode:               a.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cancel = cancel
	a.cb = cb
	a.mu.Unlock()

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream, closed := a.stream, a.closed
	a.mu.Unlock()
	if closed || stream == nil {
		return nil
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close ends the streaming session. Results still in flight are dropped.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	stream, cancel := a.stream, a.cancel
	a.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.CloseSend()
	}
	if cancel != nil {
		cancel()
	}
	return err
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// listen receives transcript responses and invokes callbacks until the stream ends.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if a.isClosed() {
				return
			}
			if errors.Is(err, io.EOF) {
				cb.OnEnd()
			} else {
				cb.OnError(err)
			}
			return
		}
		if a.isClosed() {
			return
		}
		if resp.Error != nil {
			cb.OnError(errors.New(resp.Error.GetMessage()))
			return
		}

		var interim []string
		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				cb.OnFinal(strings.TrimSpace(alt.Transcript), float64(alt.Confidence))
			} else {
				interim = append(interim, strings.TrimSpace(alt.Transcript))
			}
		}
		if len(interim) > 0 {
			cb.OnPartial(strings.Join(interim, " "))
		}
	}
}
