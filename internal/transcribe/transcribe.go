// Package transcribe turns recordings into Korean text through the model
// policy, splitting recordings too large to send inline.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jun/soapnote/internal/aicall"
	"github.com/jun/soapnote/internal/audio"
	"github.com/jun/soapnote/internal/metrics"
)

const (
	LabelDirect  = "Gemini 음성인식"
	LabelChunked = "Gemini 음성인식 (분할)"

	instruction = "다음 한국어 오디오를 텍스트로 정확하게 전사(transcribe)해 주세요. 다른 설명 없이 대화 내용만 텍스트로 변환하면 됩니다."
)

// ErrAudioSplitFailed wraps any failure to cut a large recording into chunks.
var ErrAudioSplitFailed = errors.New("대용량 오디오 파일 처리 실패")

// Caller is the part of aicall.Caller the service needs.
type Caller interface {
	Do(ctx context.Context, req aicall.Request, label string) (string, error)
}

// Config bounds inline uploads and chunk fan-out.
type Config struct {
	MaxDirectBytes int64
	ChunkBytes     int64
	Concurrency    int
}

// DefaultConfig sends up to 20 MiB inline and splits larger input at 5 MiB.
func DefaultConfig() Config {
	return Config{
		MaxDirectBytes: 20 * 1024 * 1024,
		ChunkBytes:     5 * 1024 * 1024,
		Concurrency:    8,
	}
}

// Service transcribes WAV recordings.
type Service struct {
	caller  Caller
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a transcription service.
func NewService(caller Caller, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Service{caller: caller, cfg: cfg, logger: logger, metrics: m}
}

// Transcribe sends the whole blob inline in a single request.
func (s *Service) Transcribe(ctx context.Context, in audio.Blob) (string, error) {
	return s.transcribe(ctx, in, LabelDirect)
}

func (s *Service) transcribe(ctx context.Context, in audio.Blob, label string) (string, error) {
	mimeType := in.MIMEType
	if mimeType == "" {
		mimeType = audio.MIMEWav
	}
	req := aicall.Request{
		Parts: []aicall.Part{
			{MIMEType: mimeType, Data: in.Data},
			{Text: instruction},
		},
	}
	return s.caller.Do(ctx, req, label)
}

// TranscribeWithChunking transcribes small recordings directly. Larger ones
// are split and the chunks transcribed concurrently; the texts are joined
// with single spaces in chunk order. One failed chunk fails the whole call.
func (s *Service) TranscribeWithChunking(ctx context.Context, in audio.Blob) (string, error) {
	if in.Size() == 0 {
		return "", nil
	}
	if in.Size() <= s.cfg.MaxDirectBytes {
		return s.Transcribe(ctx, in)
	}

	chunks, err := audio.SplitBySize(in, s.cfg.ChunkBytes)
	if err != nil {
		s.logger.Error("Failed to split audio", zap.Int64("size", in.Size()), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrAudioSplitFailed, err)
	}
	s.metrics.SplitInputs.Inc()
	s.logger.Info("Transcribing in chunks",
		zap.Int64("size", in.Size()),
		zap.Int("chunks", len(chunks)),
	)

	texts := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	for i, chunk := range chunks {
		g.Go(func() error {
			text, err := s.transcribe(gctx, chunk, LabelChunked)
			if err != nil {
				s.logger.Warn("Chunk transcription failed", zap.Int("chunk", i), zap.Error(err))
				return err
			}
			s.metrics.ChunksTranscribed.Inc()
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return strings.TrimSpace(strings.Join(texts, " ")), nil
}
