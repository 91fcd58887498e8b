// Package aicall wraps model calls in the shared retry and fallback policy.
package aicall

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned by a Generator that has no API key to send.
var ErrMissingAPIKey = errors.New("gemini api key is not configured")

// Part is one piece of request content: text, or inline binary data.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// Request is a model request without the model name.
type Request struct {
	Parts             []Part
	SystemInstruction string
}

// TextRequest builds a single-prompt request with an optional system instruction.
func TextRequest(systemInstruction, prompt string) Request {
	return Request{
		Parts:             []Part{{Text: prompt}},
		SystemInstruction: systemInstruction,
	}
}

// Generator sends one request to one model and returns the response text.
type Generator interface {
	Generate(ctx context.Context, model string, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model string, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, model string, req Request) (string, error) {
	return f(ctx, model, req)
}
