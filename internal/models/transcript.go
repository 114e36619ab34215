// Package models defines the data structures shared by the recording pipeline.
package models

import "strings"

// LiveTranscript is the incremental, diagnostic transcript produced while recording.
// FinalizedText only grows; InterimText is the latest unconfirmed hypothesis.
type LiveTranscript struct {
	FinalizedText string `json:"finalizedText"`
	InterimText   string `json:"interimText"`
}

// Text returns the finalized text followed by the current interim hypothesis.
func (t LiveTranscript) Text() string {
	if t.InterimText == "" {
		return strings.TrimSpace(t.FinalizedText)
	}
	return strings.TrimSpace(t.FinalizedText + t.InterimText)
}

// RecordingStateEvent is published whenever a recording session changes state.
type RecordingStateEvent struct {
	EventType  string `json:"eventType" validate:"required"`
	SessionID  string `json:"sessionId" validate:"required"`
	DeviceID   string `json:"deviceId" validate:"required"`
	UserID     string `json:"userId"`
	Platform   string `json:"platform" validate:"omitempty,oneof=browser native"`
	State      string `json:"state" validate:"required"`
	ErrorKind  string `json:"errorKind,omitempty"`
	DurationMs int64  `json:"durationMs" validate:"gte=0"`
	Timestamp  int64  `json:"timestamp" validate:"required"`
}

// PipelineStageEvent is published after each pipeline stage completes or fails.
type PipelineStageEvent struct {
	EventType string `json:"eventType" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	TempID    string `json:"tempId" validate:"required"`
	LectureID string `json:"lectureId,omitempty"`
	Stage     string `json:"stage" validate:"required,oneof=upload transcribe notes record reorganize"`
	OK        bool   `json:"ok"`
	ErrorKind string `json:"errorKind,omitempty"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs" validate:"gte=0"`
	Timestamp int64  `json:"timestamp" validate:"required"`
}
