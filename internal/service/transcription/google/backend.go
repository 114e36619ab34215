// Package google transcribes finalized recordings with Google Cloud Speech-to-Text
// long-running recognition.
package google

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lecture-capture-service/internal/service/transcription"
)

// MaxInlineBytes is the largest payload Speech accepts as inline content.
const MaxInlineBytes = 10 << 20

// Config holds recognition settings.
type Config struct {
	LanguageCode      string
	EnablePunctuation bool
}

type encoding struct {
	enc        speechpb.RecognitionConfig_AudioEncoding
	sampleRate int32 // 0 lets Speech read it from the header
}

// encodings lists the containers Speech can decode without transcoding.
var encodings = map[string]encoding{
	"webm": {speechpb.RecognitionConfig_WEBM_OPUS, 48000},
	"ogg":  {speechpb.RecognitionConfig_OGG_OPUS, 48000},
	"wav":  {speechpb.RecognitionConfig_LINEAR16, 0},
	"flac": {speechpb.RecognitionConfig_FLAC, 0},
}

type recognizeFunc func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)

// Backend implements transcription.Backend.
type Backend struct {
	recognize recognizeFunc
	close     func() error
	cfg       Config
}

var _ transcription.Backend = (*Backend)(nil)

// New dials Google Cloud Speech. Credentials come from opts or Application Default
// Credentials.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Backend, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	recognize := func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := c.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	}
	return &Backend{recognize: recognize, close: c.Close, cfg: cfg}, nil
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Transcribe runs recognition and joins the best alternative of every result.
func (b *Backend) Transcribe(ctx context.Context, req transcription.Request) (string, error) {
	ext := strings.TrimPrefix(path.Ext(req.Filename), ".")
	enc, ok := encodings[ext]
	if !ok {
		return "", &transcription.BackendError{
			StatusCode: http.StatusUnsupportedMediaType,
			Message:    fmt.Sprintf("unsupported audio format %q for speech recognition", req.MimeType),
		}
	}
	if len(req.Data) > MaxInlineBytes {
		return "", &transcription.BackendError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Message:    fmt.Sprintf("audio is %d bytes, inline recognition accepts at most %d", len(req.Data), MaxInlineBytes),
		}
	}

	lang := b.cfg.LanguageCode
	if req.Language != "" {
		lang = req.Language
	}
	if lang == "" {
		lang = "en-US"
	}

	resp, err := b.recognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc.enc,
			SampleRateHertz:            enc.sampleRate,
			LanguageCode:               lang,
			EnableAutomaticPunctuation: b.cfg.EnablePunctuation,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Data},
		},
	})
	if err != nil {
		return "", backendError(err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

// backendError maps a gRPC status to an HTTP-like status code.
func backendError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &transcription.BackendError{Message: err.Error(), Err: err}
	}
	var code int
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		code = http.StatusBadRequest
	case codes.Unauthenticated:
		code = http.StatusUnauthorized
	case codes.PermissionDenied:
		code = http.StatusForbidden
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.ResourceExhausted:
		code = http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		code = http.StatusGatewayTimeout
	case codes.Unavailable:
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	return &transcription.BackendError{StatusCode: code, Message: st.Message(), Err: err}
}
