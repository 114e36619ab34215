package models

// AudioArtifact is a complete captured recording. It is never partially written.
type AudioArtifact struct {
	Data           []byte
	MimeType       string
	SizeBytes      int64
	DurationHintMs int64 // backend-reported, 0 when absent
}

// NewAudioArtifact builds an artifact and fills SizeBytes from the payload.
func NewAudioArtifact(data []byte, mimeType string, durationHintMs int64) *AudioArtifact {
	return &AudioArtifact{
		Data:           data,
		MimeType:       mimeType,
		SizeBytes:      int64(len(data)),
		DurationHintMs: durationHintMs,
	}
}

// Empty reports whether the artifact carries no audio.
func (a *AudioArtifact) Empty() bool {
	return a == nil || len(a.Data) == 0
}

// PersistedAudioRecord describes an uploaded artifact in object storage.
// FinalID is empty until the record is reorganized to a lecture identity.
type PersistedAudioRecord struct {
	UserID      string `json:"userId"`
	TempID      string `json:"tempId"`
	FinalID     string `json:"finalId,omitempty"`
	StoragePath string `json:"storagePath"`
	PublicURL   string `json:"publicUrl"`
	Extension   string `json:"extension"`
}

// Reorganized reports whether the record already points at its final identity.
func (r *PersistedAudioRecord) Reorganized() bool {
	return r != nil && r.FinalID != ""
}
