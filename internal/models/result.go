package models

// TranscriptionResult is the typed outcome of a transcription call.
type TranscriptionResult struct {
	OK        bool      `json:"ok"`
	Value     string    `json:"value,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// NotesResult is the typed outcome of a note-generation call.
type NotesResult struct {
	OK        bool      `json:"ok"`
	Value     string    `json:"value,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// TranscriptionOK wraps a successful transcript.
func TranscriptionOK(text string) TranscriptionResult {
	return TranscriptionResult{OK: true, Value: text}
}

// TranscriptionFailed wraps a failed transcription.
func TranscriptionFailed(kind ErrorKind, message string) TranscriptionResult {
	return TranscriptionResult{ErrorKind: kind, Message: message}
}

// NotesOK wraps generated notes.
func NotesOK(text string) NotesResult {
	return NotesResult{OK: true, Value: text}
}

// NotesFailed wraps a failed note generation.
func NotesFailed(kind ErrorKind, message string) NotesResult {
	return NotesResult{ErrorKind: kind, Message: message}
}
