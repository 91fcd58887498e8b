package audio

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// Info summarizes a WAV recording.
type Info struct {
	Channels   int
	SampleRate int
	BitDepth   int
	Frames     int
	Duration   time.Duration
}

// Probe reads the format of a WAV blob.
func Probe(in Blob) (Info, error) {
	d := wav.NewDecoder(bytes.NewReader(in.Data))
	if !d.IsValidFile() {
		return Info{}, fmt.Errorf("invalid WAV file")
	}
	dur, err := d.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	parsed, err := ParseWAV(in.Data)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Channels:   int(d.NumChans),
		SampleRate: int(d.SampleRate),
		BitDepth:   int(d.BitDepth),
		Frames:     parsed.Frames(),
		Duration:   dur,
	}, nil
}
