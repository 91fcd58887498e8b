package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
)

// HeaderSize is the size of the canonical RIFF/fmt/data header.
const HeaderSize = 44

// WAVHeader is the canonical 44-byte header of a PCM WAV file.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewPCM16Header returns the header for dataSize bytes of 16-bit PCM.
func NewPCM16Header(channels, sampleRate int, dataSize uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * 2,
		BlockAlign:    uint16(channels) * 2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodePCM16WAV wraps an already encoded 16-bit PCM payload in a canonical header.
func EncodePCM16WAV(pcm []byte, channels, sampleRate int) ([]byte, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid format: channels=%d rate=%d", channels, sampleRate)
	}
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, NewPCM16Header(channels, sampleRate, uint32(len(pcm)))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// EncodeFloatWAV converts interleaved float PCM to canonical 16-bit WAV.
// Samples are clamped to [-1, 1]; negatives scale by 0x8000, positives by 0x7FFF.
func EncodeFloatWAV(buf *goaudio.Float32Buffer) ([]byte, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("missing audio format")
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToPCM16(v)))
	}
	return EncodePCM16WAV(pcm, buf.Format.NumChannels, buf.Format.SampleRate)
}

func floatToPCM16(v float32) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	s := math.Max(-1, math.Min(1, float64(v)))
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// WAVInfo describes a parsed PCM WAV file.
type WAVInfo struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int
	DataSize      int
}

// BytesPerFrame returns the size of one sample across all channels.
func (i WAVInfo) BytesPerFrame() int {
	return i.Channels * i.BitsPerSample / 8
}

// Frames returns the number of whole frames in the data chunk.
func (i WAVInfo) Frames() int {
	if bpf := i.BytesPerFrame(); bpf > 0 {
		return i.DataSize / bpf
	}
	return 0
}

// ParseWAV walks the RIFF chunks and locates the fmt and data chunks. Extra
// chunks (LIST, fact) are skipped, so the data offset need not be 44.
func ParseWAV(data []byte) (WAVInfo, error) {
	var info WAVInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return info, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	var haveFmt, haveData bool
	pos := 12
	for pos+8 <= len(data) && !haveData {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return info, fmt.Errorf("invalid WAV file: short fmt chunk")
			}
			info.AudioFormat = int(binary.LittleEndian.Uint16(data[body:]))
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			// Streaming writers leave the size at 0 or 0xFFFFFFFF.
			if size <= 0 || body+size > len(data) {
				size = len(data) - body
			}
			info.DataOffset = body
			info.DataSize = size
			haveData = true
		}

		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return info, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if !haveData {
		return info, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if info.Channels <= 0 {
		return info, fmt.Errorf("invalid WAV file: %d channels", info.Channels)
	}
	return info, nil
}
