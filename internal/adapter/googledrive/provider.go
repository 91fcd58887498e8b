package googledrive

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/jun/soapnote/internal/adapter"
	"github.com/jun/soapnote/internal/adapter/googlecalendar"
	"github.com/jun/soapnote/internal/adapter/googleprofile"
)

// Provider implements adapter.Provider for Google Workspace.
type Provider struct {
	tokens oauth2.TokenSource
	opts   []option.ClientOption
}

// NewProvider creates a provider that authenticates every client with tokens.
// Extra options are appended, which tests use to point at a local endpoint.
func NewProvider(tokens oauth2.TokenSource, opts ...option.ClientOption) *Provider {
	return &Provider{tokens: tokens, opts: opts}
}

func (p *Provider) options() []option.ClientOption {
	return append([]option.ClientOption{option.WithTokenSource(p.tokens)}, p.opts...)
}

// Drive returns a DriveAdapter for the current credentials.
func (p *Provider) Drive(ctx context.Context) (adapter.DriveGateway, error) {
	d, err := NewDriveAdapter(ctx, p.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive adapter: %w", err)
	}
	return d, nil
}

// Calendar returns a calendar adapter for the current credentials.
func (p *Provider) Calendar(ctx context.Context) (adapter.CalendarGateway, error) {
	c, err := googlecalendar.New(ctx, p.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar adapter: %w", err)
	}
	return c, nil
}

// Profile returns a userinfo adapter for the current credentials.
func (p *Provider) Profile(ctx context.Context) (adapter.ProfileGateway, error) {
	c, err := googleprofile.New(ctx, p.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile adapter: %w", err)
	}
	return c, nil
}
