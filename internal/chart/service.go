// Package chart builds SOAP charts from consultation transcripts and
// formats them for archiving and preview.
package chart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/aicall"
)

const (
	LabelVerify   = "Gemini 전사 내용 검수"
	LabelGenerate = "Gemini SOAP 차트 생성"
	LabelAnalyze  = "Gemini 심층분석"
)

// Caller is the part of aicall.Caller the service needs.
type Caller interface {
	Do(ctx context.Context, req aicall.Request, label string) (string, error)
}

// Service runs the verification, generation and analysis prompts.
type Service struct {
	caller Caller
	loc    *time.Location
	logger *zap.Logger
}

// NewService creates a chart service. loc is the zone consultation times are
// printed in; nil means Asia/Seoul.
func NewService(caller Caller, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = seoul()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{caller: caller, loc: loc, logger: logger}
}

func seoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Verify corrects typos and terminology in a transcript. A blank transcript
// is returned as is, and an empty model answer falls back to the input.
func (s *Service) Verify(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return transcript, nil
	}
	out, err := s.caller.Do(ctx, aicall.TextRequest(verificationInstruction, verificationPrompt(transcript)), LabelVerify)
	if err != nil {
		return "", err
	}
	if out == "" {
		s.logger.Debug("Verification returned no text, keeping original transcript")
		return transcript, nil
	}
	return out, nil
}

// Generate writes a SOAP chart from a transcript, additional notes, or both.
func (s *Service) Generate(ctx context.Context, transcript, notes string, at time.Time) (string, error) {
	prompt := chartPrompt(transcript, notes, FormatConsultationTime(at, s.loc))
	return s.caller.Do(ctx, aicall.TextRequest(chartInstruction, prompt), LabelGenerate)
}

// Analyze asks for a critical review of a finished chart.
func (s *Service) Analyze(ctx context.Context, chart string) (string, error) {
	return s.caller.Do(ctx, aicall.TextRequest(analysisInstruction, analysisPrompt(chart)), LabelAnalyze)
}

func verificationPrompt(transcript string) string {
	return "\n아래의 진료 대화 전사문을 검토하고 수정 규칙에 따라 교정해주세요.\n\n[전사문 원본]\n---\n" + transcript + "\n---\n"
}

func analysisPrompt(chart string) string {
	return "\n아래 SOAP 차트 내용을 검토하고, '대화형 진료 파트너 AI'의 관점에서 심층 분석 및 전문적인 제언을 제공해주세요.\n\n[검토할 SOAP 차트]\n" + chart + "\n"
}

func chartPrompt(transcript, notes, consultedAt string) string {
	hasTranscript := strings.TrimSpace(transcript) != ""
	hasNotes := strings.TrimSpace(notes) != ""

	instruction := instructionDefault
	if hasTranscript && hasNotes {
		instruction = instructionCombined
	}

	var content strings.Builder
	if hasTranscript {
		content.WriteString("\n---\n\n[진료 대화 내용]\n" + transcript + "\n")
	}
	if hasNotes {
		content.WriteString("\n---\n\n[추가 메모]\n" + notes + "\n")
	}

	return "\n" + instruction + "\n\n" + fmt.Sprintf(chartTemplate, consultedAt) + content.String() + "\n"
}
