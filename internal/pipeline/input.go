package pipeline

import (
	"time"

	"github.com/jun/soapnote/internal/audio"
)

// FromFile builds the Input for an uploaded or downloaded file. Media is
// transcribed, text is read as is, anything else is rejected.
func FromFile(b audio.Blob, notes string, at time.Time, archive bool) (Input, error) {
	b.MIMEType = audio.ResolveMIME(b.MIMEType, b.Data)
	in := Input{Notes: notes, StartedAt: at, Archive: archive, FromFile: true}
	switch {
	case audio.IsMedia(b.MIMEType):
		in.Media = &b
	case audio.IsText(b.MIMEType):
		in.Text = string(b.Data)
	default:
		return Input{}, &UnsupportedFileType{MIMEType: b.MIMEType}
	}
	return in, nil
}
