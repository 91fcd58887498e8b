// Package googleprofile reads the signed-in Google account.
package googleprofile

import (
	"context"
	"fmt"

	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jun/soapnote/internal/model"
)

// Adapter implements adapter.ProfileGateway.
type Adapter struct {
	service *oauth2api.Service
}

// New creates a userinfo adapter.
func New(ctx context.Context, opts ...option.ClientOption) (*Adapter, error) {
	srv, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve userinfo client: %w", err)
	}
	return &Adapter{service: srv}, nil
}

// Me returns the account the token belongs to.
func (a *Adapter) Me(ctx context.Context) (*model.Profile, error) {
	u, err := a.service.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to get user info: %w", err)
	}
	return &model.Profile{ID: u.Id, Email: u.Email, Name: u.Name}, nil
}
