package audio

import (
	"errors"
	"strings"
)

// MIMEWav is the type given to every WAV this package produces.
const MIMEWav = "audio/wav"

// ErrUnsupportedAudioFormat is returned when input cannot be decoded.
var ErrUnsupportedAudioFormat = errors.New("지원되지 않는 오디오 형식이거나 파일이 손상되었습니다. WAV, MP3, M4A 형식 파일을 사용해보세요.")

// Blob is an in-memory media file with its declared MIME type.
type Blob struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Size returns the byte length of the blob.
func (b Blob) Size() int64 {
	return int64(len(b.Data))
}

// IsWAV reports whether the blob is tagged as WAV.
func (b Blob) IsWAV() bool {
	switch strings.ToLower(baseType(b.MIMEType)) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return true
	}
	return false
}

// IsMedia reports whether the type names audio or video content.
func IsMedia(mimeType string) bool {
	t := strings.ToLower(baseType(mimeType))
	return strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/")
}

// IsText reports whether the type names text, or is missing entirely.
func IsText(mimeType string) bool {
	t := strings.ToLower(baseType(mimeType))
	return t == "" || strings.HasPrefix(t, "text/")
}

func baseType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(mimeType)
}
