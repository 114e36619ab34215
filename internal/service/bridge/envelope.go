// Package bridge drives capture primitives that live in a remote client (web page
// or mobile wrapper) over a WebSocket control channel.
//
// Every frame is a JSON Envelope. The client sends commands (start, pause, ...)
// and events (recorder.data, speech.*); the service sends requests the client must
// answer (media.getUserMedia, recorder.*, native.*, speech.*), replies to
// commands, and its own events (session.state, pipeline.result, notice).
package bridge

import (
	"encoding/json"
	"fmt"

	"lecture-capture-service/internal/models"
)

// MessageType is the envelope's role in the protocol.
type MessageType string

const (
	// TypeCommand - client asks the service to act on its session.
	TypeCommand MessageType = "command"
	// TypeRequest - service asks the client to drive a capture primitive.
	TypeRequest MessageType = "request"
	// TypeResponse - answer to a command or a request, matched by ID.
	TypeResponse MessageType = "response"
	// TypeEvent - unsolicited notification. ID names the resource it belongs to.
	TypeEvent MessageType = "event"
)

// Client commands.
const (
	CmdStart  = "start"
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdStop   = "stop"
	CmdCancel = "cancel"
	CmdStatus = "status"
)

// Requests sent to the client.
const (
	OpGetUserMedia   = "media.getUserMedia"
	OpStopTracks     = "media.stopTracks"
	OpRecorderCreate = "recorder.create"
	OpRecorderStart  = "recorder.start"
	OpRecorderPause  = "recorder.pause"
	OpRecorderResume = "recorder.resume"
	OpRecorderStop   = "recorder.stop"
	OpNativePerm     = "native.requestPermission"
	OpNativeStart    = "native.start"
	OpNativePause    = "native.pause"
	OpNativeResume   = "native.resume"
	OpNativeStop     = "native.stop"
	OpSpeechStart    = "speech.start"
	OpSpeechStop     = "speech.stop"
)

// Events.
const (
	EvRecorderData   = "recorder.data"
	EvSpeechPartial  = "speech.partial"
	EvSpeechFinal    = "speech.final"
	EvSpeechEnd      = "speech.end"
	EvSpeechError    = "speech.error"
	EvSessionState   = "session.state"
	EvPipelineResult = "pipeline.result"
	EvNotice         = "notice"
)

// Envelope is one frame on the control channel.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"`
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Op, err)
	}
	return nil
}

// RemoteError is a failed response from the client.
type RemoteError struct {
	Op      string
	Kind    models.ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind != models.KindNone {
		return fmt.Sprintf("%s failed (%s): %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// recorderRef addresses a stream or recorder on the client.
type recorderRef struct {
	StreamID   string `json:"streamId,omitempty"`
	RecorderID string `json:"recorderId,omitempty"`
}

// recorderInfo is the client's answer to recorder.create.
type recorderInfo struct {
	RecorderID    string `json:"recorderId"`
	MimeType      string `json:"mimeType"`
	SupportsPause bool   `json:"supportsPause"`
}

// dataEvent carries one encoded recorder chunk.
type dataEvent struct {
	Data []byte `json:"data"`
}

// speechEvent carries a recognizer result or failure.
type speechEvent struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}
