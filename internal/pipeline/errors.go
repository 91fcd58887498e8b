package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jun/soapnote/internal/aicall"
	"github.com/jun/soapnote/internal/archive"
	"github.com/jun/soapnote/internal/audio"
)

var (
	// ErrNothingToChart is returned when there is neither speech nor notes.
	ErrNothingToChart = errors.New("음성이 감지되지 않았고 추가 입력도 없습니다.")

	// ErrEmptyContent is returned when an imported file yields no text.
	ErrEmptyContent = errors.New("파일 내용이 비어있거나 변환에 실패했습니다.")

	// ErrRunInProgress is returned while another run holds the run lock.
	ErrRunInProgress = errors.New("이미 차트 생성이 진행 중입니다. 완료 후 다시 시도해주세요.")

	ErrNothingToAnalyze = errors.New("분석할 SOAP 차트 내용이 없습니다.")
	ErrNothingToSave    = errors.New("저장할 SOAP 차트 내용이 없습니다.")
	ErrNoInput          = errors.New("분석할 텍스트가 없습니다. 녹음을 진행하거나 추가 입력을 해주세요.")
)

// UnsupportedFileType is returned for uploads that are neither media nor text.
type UnsupportedFileType struct {
	MIMEType string
}

func (e *UnsupportedFileType) Error() string {
	return fmt.Sprintf("지원하지 않는 파일 형식입니다: %s", e.MIMEType)
}

// StageError reports the stage a run failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// UserMessage turns a run error or warning into the text shown to the clinician.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var unsupported *UnsupportedFileType
	if errors.As(err, &unsupported) {
		return "파일 처리 실패: " + unsupported.Error()
	}

	var se *StageError
	if !errors.As(err, &se) {
		return err.Error()
	}
	cause := se.Err

	switch se.Stage {
	case StageTranscribing:
		if errors.Is(cause, audio.ErrUnsupportedAudioFormat) || errors.Is(cause, ErrEmptyContent) {
			return "파일 처리 실패: " + cause.Error()
		}
		if keyProblem(cause) {
			return "음성 전사 실패: API 키가 잘못되었을 수 있습니다. 설정 메뉴에서 Gemini API 키를 확인해주세요."
		}
		return "음성 전사 실패: " + cause.Error()
	case StageVerifying:
		return fmt.Sprintf("전사 내용 자동 검수에 실패했습니다. 원본으로 차트 생성을 계속합니다. (%v)", cause)
	case StageGenerating:
		if keyProblem(cause) {
			return "SOAP 차트 생성 실패: API 키가 잘못되었을 수 있습니다. 설정 메뉴에서 Gemini API 키를 확인해주세요."
		}
		return "SOAP 차트 생성에 실패했습니다. AI 모델 서비스에 문제가 있을 수 있습니다. 잠시 후 다시 시도해주세요."
	case StageSaving:
		if errors.Is(cause, archive.ErrRemoteSaveFailed) {
			return "차트 생성은 완료되었으나, " + cause.Error()
		}
		return "차트 생성은 완료되었으나, Google Drive 저장 실패: " + cause.Error()
	case StageAnalyzing:
		return "심층분석 실패: " + cause.Error()
	}
	return cause.Error()
}

func keyProblem(err error) bool {
	if kind, ok := aicall.KindOf(err); ok {
		return kind == aicall.KindInvalidCredential
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "api key") || strings.Contains(msg, "api_key")
}
