package audio

import "fmt"

// SplitBySize cuts a 16-bit PCM WAV into chunks whose encoded size, header
// included, is at most maxBytes. Chunks are whole frames and concatenating
// their payloads reproduces the original samples. When maxBytes leaves no
// room for a single frame the input is returned as the only chunk.
func SplitBySize(in Blob, maxBytes int64) ([]Blob, error) {
	info, err := ParseWAV(in.Data)
	if err != nil {
		return nil, err
	}
	if info.AudioFormat != 1 || info.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w (format=%d bits=%d)", ErrUnsupportedAudioFormat, info.AudioFormat, info.BitsPerSample)
	}

	bpf := info.BytesPerFrame()
	framesPerChunk := (maxBytes - HeaderSize) / int64(bpf)
	if framesPerChunk <= 0 {
		return []Blob{in}, nil
	}

	pcm := in.Data[info.DataOffset : info.DataOffset+info.Frames()*bpf]
	step := int(framesPerChunk) * bpf

	chunks := make([]Blob, 0, len(pcm)/step+1)
	for start := 0; start < len(pcm); start += step {
		end := min(start+step, len(pcm))
		data, err := EncodePCM16WAV(pcm[start:end], info.Channels, info.SampleRate)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, Blob{
			Data:     data,
			MIMEType: MIMEWav,
			Name:     fmt.Sprintf("%s.part%d", in.Name, len(chunks)+1),
		})
	}
	return chunks, nil
}
