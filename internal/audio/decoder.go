package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	goaudio "github.com/go-audio/audio"
)

// Decoder turns an arbitrary media blob into interleaved float PCM.
type Decoder interface {
	Decode(ctx context.Context, in Blob) (*goaudio.Float32Buffer, error)
}

// FFmpegDecoder decodes with an ffmpeg binary at a fixed output format.
type FFmpegDecoder struct {
	Path       string
	SampleRate int
	Channels   int
}

// NewFFmpegDecoder returns a decoder writing the given rate and channel count.
func NewFFmpegDecoder(path string, sampleRate, channels int) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{Path: path, SampleRate: sampleRate, Channels: channels}
}

// Decode runs ffmpeg on a temp copy of the input. Containers such as M4A keep
// their index at the end, so the input has to be seekable.
func (d *FFmpegDecoder) Decode(ctx context.Context, in Blob) (*goaudio.Float32Buffer, error) {
	tmp, err := os.CreateTemp("", "soapnote-in-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(in.Data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.Path,
		"-hide_banner",
		"-loglevel", "error",
		"-i", tmp.Name(),
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", strconv.Itoa(d.Channels),
		"-ar", strconv.Itoa(d.SampleRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return decodeF32LE(stdout.Bytes(), d.Channels, d.SampleRate)
}

func decodeF32LE(raw []byte, channels, sampleRate int) (*goaudio.Float32Buffer, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("truncated float PCM: %d bytes", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &goaudio.Float32Buffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}, nil
}
