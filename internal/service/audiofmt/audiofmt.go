// Package audiofmt maps audio MIME types to canonical file extensions.
//
// The mapping is shared by persistence (object paths) and transcription
// (filename/MIME pairing sent to the speech backend), so both always agree.
package audiofmt

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used for any MIME type that is not recognized.
const DefaultExtension = "webm"

// canonical MIME type per extension.
var canonicalMIME = map[string]string{
	"webm": "audio/webm",
	"m4a":  "audio/mp4",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
}

// ExtensionForMIME returns the canonical extension for a MIME type.
// Parameters such as ";codecs=opus" are ignored. Unknown types yield DefaultExtension.
func ExtensionForMIME(mimeType string) string {
	base := baseType(mimeType)
	switch {
	case base == "":
		return DefaultExtension
	case strings.Contains(base, "webm"), base == "audio/opus":
		return "webm"
	case strings.Contains(base, "aac"), base == "audio/x-m4a", base == "audio/m4a", base == "audio/mp4",
		base == "audio/mp4a-latm", base == "video/mp4":
		return "m4a"
	case base == "audio/wav", base == "audio/wave", base == "audio/x-wav", base == "audio/vnd.wave",
		base == "audio/x-pn-wav":
		return "wav"
	case base == "audio/mpeg", base == "audio/mp3", base == "audio/mpeg3", base == "audio/x-mpeg-3":
		return "mp3"
	case strings.Contains(base, "ogg"):
		return "ogg"
	case base == "audio/flac", base == "audio/x-flac":
		return "flac"
	default:
		return DefaultExtension
	}
}

// MIMEForExtension returns the canonical MIME type for an extension.
func MIMEForExtension(ext string) string {
	if m, ok := canonicalMIME[strings.TrimPrefix(strings.ToLower(ext), ".")]; ok {
		return m
	}
	return canonicalMIME[DefaultExtension]
}

// Normalize returns the canonical MIME type and extension for an artifact.
// When the declared type is missing or generic, the payload is sniffed.
func Normalize(declared string, data []byte) (mimeType, ext string) {
	if isGeneric(declared) && len(data) > 0 {
		declared = mimetype.Detect(data).String()
	}
	ext = ExtensionForMIME(declared)
	return MIMEForExtension(ext), ext
}

// Filename returns the upload filename for a stem and MIME type.
func Filename(stem, mimeType string) string {
	return stem + "." + ExtensionForMIME(mimeType)
}

func baseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func isGeneric(mimeType string) bool {
	base := baseType(mimeType)
	return base == "" || base == "application/octet-stream" || base == "audio/*"
}
