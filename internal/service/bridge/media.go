package bridge

import (
	"context"
	"errors"
	"fmt"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/service/capture"
	"lecture-capture-service/internal/service/capture/browser"
	"lecture-capture-service/internal/service/capture/native"
)

// MediaDevices implements browser.MediaDevices on the client's page.
type MediaDevices struct {
	peer *Peer
}

var _ browser.MediaDevices = (*MediaDevices)(nil)

// NewMediaDevices returns browser media ports driven through peer.
func NewMediaDevices(peer *Peer) *MediaDevices {
	return &MediaDevices{peer: peer}
}

// GetUserMedia asks the page for a microphone stream.
func (d *MediaDevices) GetUserMedia(ctx context.Context) (browser.MediaStream, error) {
	var ref recorderRef
	if err := d.peer.Call(ctx, OpGetUserMedia, nil, &ref); err != nil {
		return nil, permissionError(err)
	}
	if ref.StreamID == "" {
		return nil, fmt.Errorf("%s: client returned no stream id", OpGetUserMedia)
	}
	return &mediaStream{peer: d.peer, id: ref.StreamID}, nil
}

type mediaStream struct {
	peer *Peer
	id   string
}

func (s *mediaStream) NewRecorder(ctx context.Context, onData func(chunk []byte)) (browser.MediaRecorder, error) {
	var info recorderInfo
	if err := s.peer.Call(ctx, OpRecorderCreate, recorderRef{StreamID: s.id}, &info); err != nil {
		return nil, err
	}
	if info.RecorderID == "" {
		return nil, fmt.Errorf("%s: client returned no recorder id", OpRecorderCreate)
	}
	r := &mediaRecorder{peer: s.peer, info: info}
	r.unsubscribe = s.peer.Subscribe(EvRecorderData, info.RecorderID, func(env Envelope) {
		var ev dataEvent
		if err := env.Decode(&ev); err != nil {
			s.peer.logger.Warn().Err(err).Str("recorderId", info.RecorderID).Msg("Malformed recorder chunk dropped")
			return
		}
		onData(ev.Data)
	})
	return r, nil
}

func (s *mediaStream) StopTracks(ctx context.Context) error {
	return s.peer.Call(ctx, OpStopTracks, recorderRef{StreamID: s.id}, nil)
}

type mediaRecorder struct {
	peer        *Peer
	info        recorderInfo
	unsubscribe func()
}

func (r *mediaRecorder) ref() recorderRef { return recorderRef{RecorderID: r.info.RecorderID} }

func (r *mediaRecorder) Start(ctx context.Context) error {
	return r.peer.Call(ctx, OpRecorderStart, r.ref(), nil)
}

func (r *mediaRecorder) Pause(ctx context.Context) error {
	return r.peer.Call(ctx, OpRecorderPause, r.ref(), nil)
}

func (r *mediaRecorder) Resume(ctx context.Context) error {
	return r.peer.Call(ctx, OpRecorderResume, r.ref(), nil)
}

// Stop waits for the client to acknowledge. The client sends its final
// recorder.data events before the response, and events are dispatched in order,
// so every chunk has reached onData when Stop returns.
func (r *mediaRecorder) Stop(ctx context.Context) error {
	defer r.unsubscribe()
	return r.peer.Call(ctx, OpRecorderStop, r.ref(), nil)
}

func (r *mediaRecorder) SupportsPause() bool { return r.info.SupportsPause }

func (r *mediaRecorder) MimeType() string { return r.info.MimeType }

// NativeBridge implements native.Bridge on a mobile or desktop client.
type NativeBridge struct {
	peer *Peer
}

var _ native.Bridge = (*NativeBridge)(nil)

// NewNativeBridge returns a native recorder bridge driven through peer.
func NewNativeBridge(peer *Peer) *NativeBridge {
	return &NativeBridge{peer: peer}
}

// RequestPermission asks the client for microphone access.
func (b *NativeBridge) RequestPermission(ctx context.Context) (bool, error) {
	var out struct {
		Granted bool `json:"granted"`
	}
	if err := b.peer.Call(ctx, OpNativePerm, nil, &out); err != nil {
		if errors.Is(permissionError(err), capture.ErrPermissionDenied) {
			return false, nil
		}
		return false, err
	}
	return out.Granted, nil
}

func (b *NativeBridge) StartRecording(ctx context.Context) error {
	return b.peer.Call(ctx, OpNativeStart, nil, nil)
}

func (b *NativeBridge) PauseRecording(ctx context.Context) error {
	return b.peer.Call(ctx, OpNativePause, nil, nil)
}

func (b *NativeBridge) ResumeRecording(ctx context.Context) error {
	return b.peer.Call(ctx, OpNativeResume, nil, nil)
}

// StopRecording returns the recorder's base64 payload. A response without a
// payload means nothing was recorded.
func (b *NativeBridge) StopRecording(ctx context.Context) (*native.Recording, error) {
	var rec native.Recording
	if err := b.peer.Call(ctx, OpNativeStop, nil, &rec); err != nil {
		return nil, err
	}
	if rec.Base64 == "" {
		return nil, nil
	}
	return &rec, nil
}

// permissionError maps a client-side permission refusal to capture.ErrPermissionDenied.
func permissionError(err error) error {
	var re *RemoteError
	if errors.As(err, &re) && re.Kind == models.KindPermissionDenied {
		return fmt.Errorf("%w: %s", capture.ErrPermissionDenied, re.Message)
	}
	return err
}

// Backends returns a capture table whose backends drive the client behind peer.
func Backends(peer *Peer, opts ...browser.Option) capture.Table {
	return capture.Table{
		capture.PlatformBrowser: func(_ context.Context, tap capture.Tap) (capture.Backend, error) {
			o := append([]browser.Option{}, opts...)
			if tap != nil {
				o = append(o, browser.WithTap(tap))
			}
			return browser.New(NewMediaDevices(peer), o...), nil
		},
		capture.PlatformNative: func(context.Context, capture.Tap) (capture.Backend, error) {
			return native.New(NewNativeBridge(peer)), nil
		},
	}
}
