// Package gemini sends model requests to the Generative Language API.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"github.com/jun/soapnote/internal/aicall"
	"github.com/jun/soapnote/internal/secret"
)

// KeyFunc returns the API key to use for the next call.
type KeyFunc func(ctx context.Context) (string, error)

// Client implements aicall.Generator. The key is looked up on every call so
// that a key changed in settings applies to requests already queued.
type Client struct {
	key  KeyFunc
	opts []option.ClientOption
}

// New creates a client. opts are appended to the per-call API key option.
func New(key KeyFunc, opts ...option.ClientOption) *Client {
	return &Client{key: key, opts: opts}
}

// Generate sends req to model and returns the text of the first candidate.
func (c *Client) Generate(ctx context.Context, model string, req aicall.Request) (string, error) {
	key, err := c.key(ctx)
	if err != nil && !errors.Is(err, secret.ErrNotConfigured) {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	if key == "" {
		return "", aicall.ErrMissingAPIKey
	}

	svc, err := generativelanguage.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(key)}, c.opts...)...)
	if err != nil {
		return "", fmt.Errorf("unable to create generative language client: %w", err)
	}

	resp, err := svc.Models.GenerateContent("models/"+model, buildRequest(req)).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func buildRequest(req aicall.Request) *generativelanguage.GenerateContentRequest {
	parts := make([]*generativelanguage.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.Data != nil {
			parts = append(parts, &generativelanguage.Part{
				InlineData: &generativelanguage.Blob{
					MimeType: p.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		parts = append(parts, &generativelanguage.Part{Text: p.Text})
	}

	out := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{Role: "user", Parts: parts}},
	}
	if req.SystemInstruction != "" {
		out.SystemInstruction = &generativelanguage.Content{
			Parts: []*generativelanguage.Part{{Text: req.SystemInstruction}},
		}
	}
	return out
}

// responseText joins the text parts of the first candidate. A response
// without candidates yields "".
func responseText(resp *generativelanguage.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
