package audio

import (
	"bytes"
	"net/http"

	"github.com/dhowden/tag"
)

// DetectMIME guesses the type of untagged content. It returns "" when the
// content is not recognizable media, which callers treat as text.
func DetectMIME(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return MIMEWav
	}

	if len(data) >= 128 {
		if _, fileType, err := tag.Identify(bytes.NewReader(data)); err == nil {
			switch fileType {
			case tag.MP3:
				return "audio/mpeg"
			case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
				return "audio/mp4"
			case tag.FLAC:
				return "audio/flac"
			case tag.OGG:
				return "audio/ogg"
			}
		}
	}

	ct := baseType(http.DetectContentType(data))
	switch {
	case ct == "application/ogg":
		return "audio/ogg"
	case IsMedia(ct):
		return ct
	}
	return ""
}

// ResolveMIME prefers a meaningful declared type and sniffs otherwise.
func ResolveMIME(declared string, data []byte) string {
	switch baseType(declared) {
	case "", "application/octet-stream":
		return DetectMIME(data)
	}
	return declared
}
