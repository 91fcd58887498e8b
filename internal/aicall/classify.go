package aicall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Kind is the category of a failed model call.
type Kind string

const (
	KindTransient         Kind = "transient"
	KindServerError       Kind = "server-error"
	KindInvalidCredential Kind = "invalid-credential"
	KindInvalidRequest    Kind = "invalid-request"
)

// User facing messages.
const (
	MsgServerTrouble = "AI 서버에 문제가 지속되고 있습니다. 잠시 후 다시 시도해주세요."
	MsgMissingKey    = "Gemini API 키가 없습니다."
)

// Error is the only error shape callers of Do see.
type Error struct {
	Kind    Kind
	Label   string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, label string, cause error) *Error {
	msg := MsgServerTrouble
	if kind != KindServerError {
		msg = fmt.Sprintf("%s 중 오류 발생: %s", label, ProviderMessage(cause))
	}
	return &Error{Kind: kind, Label: label, Message: msg, Err: cause}
}

// KindOf returns the kind of an *Error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// envelope is the JSON error body of Google APIs.
type envelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func parseEnvelope(s string) (envelope, bool) {
	var env envelope
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return env, false
	}
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return env, false
	}
	return env, env.Error.Code != 0 || env.Error.Status != ""
}

// Classify maps a raw provider error to a Kind. It is the only place that
// knows provider error shapes.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return KindInvalidCredential
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		status := ""
		if env, ok := parseEnvelope(gerr.Body); ok {
			status = env.Error.Status
		}
		return classifyStatus(gerr.Code, status, gerr.Body+" "+gerr.Message)
	}

	if env, ok := parseEnvelope(err.Error()); ok {
		return classifyStatus(env.Error.Code, env.Error.Status, env.Error.Message)
	}
	return KindTransient
}

func classifyStatus(code int, status, text string) Kind {
	switch {
	case code == http.StatusInternalServerError || status == "INTERNAL":
		return KindServerError
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindInvalidCredential
	case code == http.StatusBadRequest && looksLikeKeyProblem(text):
		return KindInvalidCredential
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return KindInvalidRequest
	}
	return KindTransient
}

func looksLikeKeyProblem(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "api_key_invalid") || strings.Contains(lower, "api key")
}

// ProviderMessage extracts the provider's human readable message.
func ProviderMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return MsgMissingKey
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Message != "" {
			return gerr.Message
		}
		if env, ok := parseEnvelope(gerr.Body); ok && env.Error.Message != "" {
			return env.Error.Message
		}
	}
	if env, ok := parseEnvelope(err.Error()); ok && env.Error.Message != "" {
		return env.Error.Message
	}
	return err.Error()
}
