// Package auth manages the Google OAuth token: PKCE authorization, code
// exchange, scheduled refresh, revocation and sign-out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jun/soapnote/internal/model"
)

const (
	googleAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	googleRevokeURL = "https://oauth2.googleapis.com/revoke"
)

// DefaultScopes are requested on every sign-in.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
}

// AuthGateway talks to the authorization server.
type AuthGateway interface {
	AuthCodeURL(ctx context.Context, state, codeChallenge string) (string, error)
	Exchange(ctx context.Context, code, codeVerifier string) (*model.OAuthToken, error)
	Refresh(ctx context.Context, refreshToken string) (*model.OAuthToken, error)
	Revoke(ctx context.Context, token string) error
}

// GatewayConfig configures an OAuth2Gateway. ClientID is a function because
// the client id is a user setting that may change at runtime.
type GatewayConfig struct {
	ClientID    func(ctx context.Context) (string, error)
	RedirectURL string
	Scopes      []string
	Endpoint    oauth2.Endpoint
	RevokeURL   string
	HTTPClient  *http.Client
}

// OAuth2Gateway implements AuthGateway with golang.org/x/oauth2. It is a
// public client: no client secret is sent and PKCE protects the exchange.
type OAuth2Gateway struct {
	cfg GatewayConfig
}

// NewOAuth2Gateway fills in Google endpoints and default scopes where unset.
func NewOAuth2Gateway(cfg GatewayConfig) *OAuth2Gateway {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint.AuthURL = googleAuthURL
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint.TokenURL = googleTokenURL
	}
	cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = googleRevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &OAuth2Gateway{cfg: cfg}
}

func (g *OAuth2Gateway) config(ctx context.Context) (*oauth2.Config, error) {
	clientID, err := g.cfg.ClientID(ctx)
	if err != nil {
		return nil, fmt.Errorf("google client id: %w", err)
	}
	if clientID == "" {
		return nil, errors.New("google client id is empty")
	}
	return &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    g.cfg.Endpoint,
		RedirectURL: g.cfg.RedirectURL,
		Scopes:      g.cfg.Scopes,
	}, nil
}

func (g *OAuth2Gateway) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.cfg.HTTPClient)
}

// AuthCodeURL returns the consent URL. Offline access and forced consent
// make Google return a refresh token every time.
func (g *OAuth2Gateway) AuthCodeURL(ctx context.Context, state, codeChallenge string) (string, error) {
	cfg, err := g.config(ctx)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Exchange trades the authorization code for tokens.
func (g *OAuth2Gateway) Exchange(ctx context.Context, code, codeVerifier string) (*model.OAuthToken, error) {
	cfg, err := g.config(ctx)
	if err != nil {
		return nil, &TokenExchangeFailed{Description: err.Error(), Err: err}
	}
	tok, err := cfg.Exchange(g.httpContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, &TokenExchangeFailed{Description: describe(err), Err: err}
	}
	return fromOAuth2(tok), nil
}

// Refresh obtains a new access token. The refresh token is carried over when
// the server does not rotate it.
func (g *OAuth2Gateway) Refresh(ctx context.Context, refreshToken string) (*model.OAuthToken, error) {
	cfg, err := g.config(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := cfg.TokenSource(g.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	out := fromOAuth2(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// Revoke invalidates an access or refresh token.
func (g *OAuth2Gateway) Revoke(ctx context.Context, token string) error {
	u := g.cfg.RevokeURL + "?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("revoke failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func fromOAuth2(tok *oauth2.Token) *model.OAuthToken {
	out := &model.OAuthToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

// describe extracts the provider's error_description when there is one.
func describe(err error) string {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.ErrorDescription != "" {
			return rErr.ErrorDescription
		}
		if rErr.ErrorCode != "" {
			return rErr.ErrorCode
		}
	}
	return "Token exchange failed"
}
