package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/auth"
	"github.com/jun/soapnote/internal/model"
)

// TokenManager is the part of auth.Manager the handlers use.
type TokenManager interface {
	BuildAuthorizationRequest(ctx context.Context, sessionID string) (string, error)
	HandleAuthorizationCallback(ctx context.Context, sessionID, callbackURL string) (*model.OAuthToken, error)
	Refresh(ctx context.Context) (*model.OAuthToken, error)
	SignOut(ctx context.Context) error
	State() auth.State
	Peek() *model.OAuthToken
}

// ProfileFunc returns the signed-in account.
type ProfileFunc func(ctx context.Context) (*model.Profile, error)

// profileMargin is the access time a token must have left before Status
// looks up the account, so the lookup never triggers a refresh.
const profileMargin = 5 * time.Minute

// AuthHandler handles sign-in, callback, sign-out and token status.
type AuthHandler struct {
	tokens      TokenManager
	profile     ProfileFunc
	sessions    *Sessions
	frontendURL string
	logger      *zap.Logger

	mu    sync.Mutex
	email string
}

// NewAuthHandler creates a new AuthHandler. profile may be nil.
func NewAuthHandler(tokens TokenManager, profile ProfileFunc, sessions *Sessions, frontendURL string, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{tokens: tokens, profile: profile, sessions: sessions, frontendURL: frontendURL, logger: logger}
}

// Login starts the PKCE flow for the browser session and redirects to Google.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sessionID, cookie, err := h.sessions.Ensure(req)
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		return errorResponse(http.StatusInternalServerError, "Failed to create session"), nil
	}

	location, err := h.tokens.BuildAuthorizationRequest(ctx, sessionID)
	if err != nil {
		h.logger.Error("Failed to build authorization request", zap.Error(err))
		return errorResponse(http.StatusInternalServerError, "Google 인증 클라이언트가 초기화되지 않았습니다. 설정에서 API 키와 Client ID를 확인해주세요."), nil
	}

	if cookie == "" {
		return redirect(location), nil
	}
	return redirect(location, cookie), nil
}

// Callback completes the flow and sends the browser back to the frontend.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sessionID, err := GetSessionID(req, h.sessions.jwtSecret)
	if err != nil {
		h.logger.Warn("Callback without a session", zap.Error(err))
		return errorResponse(http.StatusBadRequest, auth.ErrCsrfMismatch.Error()), nil
	}

	q := url.Values{}
	for k, v := range req.QueryStringParameters {
		q.Set(k, v)
	}
	callbackURL := (&url.URL{Path: req.Path, RawQuery: q.Encode()}).String()

	h.setEmail("")
	_, err = h.tokens.HandleAuthorizationCallback(ctx, sessionID, callbackURL)
	if err == nil {
		h.lookupEmail(ctx)
		return redirect(h.frontendURL + "/?success=true"), nil
	}

	if errors.Is(err, auth.ErrCsrfMismatch) {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}
	message := err.Error()
	var exchange *auth.TokenExchangeFailed
	if errors.As(err, &exchange) {
		message = "Google 인증 실패: " + exchange.Description
	}
	return redirect(h.frontendURL + "/?error=" + url.QueryEscape(message)), nil
}

// Logout revokes the tokens and clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.setEmail("")
	if err := h.tokens.SignOut(ctx); err != nil {
		h.logger.Error("Sign-out did not clear storage", zap.Error(err))
	}
	resp := jsonResponse(http.StatusOK, map[string]bool{"success": true})
	resp.MultiValueHeaders = map[string][]string{"Set-Cookie": {h.sessions.ClearCookie()}}
	return resp, nil
}

type statusResponse struct {
	State     auth.State `json:"state"`
	SignedIn  bool       `json:"signedIn"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Email     string     `json:"email,omitempty"`
}

// Status reports the sign-in state without refreshing the token. The
// account email is looked up once per sign-in and cached.
func (h *AuthHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp := statusResponse{State: h.tokens.State()}
	if tok := h.tokens.Peek(); tok != nil {
		resp.SignedIn = true
		resp.ExpiresAt = &tok.ExpiresAt
		resp.Email = h.cachedEmail(ctx, tok)
	}
	return jsonResponse(http.StatusOK, resp), nil
}

func (h *AuthHandler) setEmail(email string) {
	h.mu.Lock()
	h.email = email
	h.mu.Unlock()
}

// cachedEmail returns the cached email. A token restored at startup has no
// cached email yet; it is looked up only while the token is far from expiry.
func (h *AuthHandler) cachedEmail(ctx context.Context, tok *model.OAuthToken) string {
	h.mu.Lock()
	email := h.email
	h.mu.Unlock()
	if email != "" || time.Until(tok.ExpiresAt) < profileMargin {
		return email
	}
	return h.lookupEmail(ctx)
}

func (h *AuthHandler) lookupEmail(ctx context.Context) string {
	if h.profile == nil {
		return ""
	}
	p, err := h.profile(ctx)
	if err != nil {
		h.logger.Debug("Profile lookup failed", zap.Error(err))
		return ""
	}
	h.setEmail(p.Email)
	return p.Email
}

// Refresh renews the access token now.
func (h *AuthHandler) Refresh(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tok, err := h.tokens.Refresh(ctx)
	if err != nil {
		return errorResponse(http.StatusUnauthorized, err.Error()), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"expiresAt": tok.ExpiresAt}), nil
}
