package audio

import (
	"context"

	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/metrics"
)

// Normalizer converts recordings into 16-bit PCM WAV.
type Normalizer struct {
	decoder Decoder
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewNormalizer creates a Normalizer around the given decoder.
func NewNormalizer(decoder Decoder, logger *zap.Logger, m *metrics.Metrics) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Normalizer{decoder: decoder, logger: logger, metrics: m}
}

// NormalizeToWav returns valid WAV input unchanged and decodes everything
// else. A WAV that does not parse, or any decode failure, is reported as
// ErrUnsupportedAudioFormat.
func (n *Normalizer) NormalizeToWav(ctx context.Context, in Blob) (Blob, error) {
	if len(in.Data) == 0 {
		n.metrics.AudioConversions.WithLabelValues("passthrough").Inc()
		return in, nil
	}
	if in.IsWAV() {
		info, err := Probe(in)
		if err != nil {
			n.logger.Warn("Invalid WAV upload", zap.String("name", in.Name), zap.Int64("size", in.Size()), zap.Error(err))
			n.metrics.AudioConversions.WithLabelValues("failed").Inc()
			return Blob{}, ErrUnsupportedAudioFormat
		}
		n.metrics.AudioConversions.WithLabelValues("passthrough").Inc()
		n.logger.Debug("WAV passed through",
			zap.Duration("duration", info.Duration),
			zap.Int("channels", info.Channels),
			zap.Int("sample_rate", info.SampleRate),
		)
		return in, nil
	}

	buf, err := n.decoder.Decode(ctx, in)
	if err != nil {
		n.logger.Warn("Audio decode failed", zap.String("mime", in.MIMEType), zap.Int64("size", in.Size()), zap.Error(err))
		n.metrics.AudioConversions.WithLabelValues("failed").Inc()
		return Blob{}, ErrUnsupportedAudioFormat
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 || len(buf.Data) == 0 {
		n.metrics.AudioConversions.WithLabelValues("failed").Inc()
		return Blob{}, ErrUnsupportedAudioFormat
	}

	data, err := EncodeFloatWAV(buf)
	if err != nil {
		n.logger.Warn("WAV encode failed", zap.Error(err))
		n.metrics.AudioConversions.WithLabelValues("failed").Inc()
		return Blob{}, ErrUnsupportedAudioFormat
	}

	n.metrics.AudioConversions.WithLabelValues("converted").Inc()
	n.logger.Debug("Audio converted to WAV",
		zap.String("from", in.MIMEType),
		zap.Int64("in_bytes", in.Size()),
		zap.Int("out_bytes", len(data)),
	)
	return Blob{Data: data, MIMEType: MIMEWav, Name: in.Name}, nil
}
