package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jun/soapnote/internal/metrics"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/storage"
)

const (
	// refreshLead is how long before expiry the access token is renewed.
	refreshLead = 5 * time.Minute
	// validityMargin is the minimum remaining lifetime of a usable access token.
	validityMargin = 60 * time.Second
)

// State is the sign-in state of the manager.
type State string

const (
	StateSignedOut   State = "signed-out"
	StateAuthorizing State = "authorizing"
	StateExchanging  State = "exchanging"
	StateSignedIn    State = "signed-in"
	StateRefreshing  State = "refreshing"
)

// Event is delivered to listeners on every state change. Err is set when the
// change was caused by a failure, such as a RefreshFailed sign-out.
type Event struct {
	State State
	Err   error
}

// Listener receives state changes. It is called without locks held.
type Listener func(Event)

type stopper interface {
	Stop() bool
}

// Manager owns the OAuth token. Everything else asks it for access tokens.
type Manager struct {
	gateway AuthGateway
	tokens  *TokenStore
	pkce    PKCEStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) stopper

	refreshMu sync.Mutex

	mu        sync.Mutex
	state     State
	token     *model.OAuthToken
	timer     stopper
	gen       uint64
	listeners map[int]Listener
	nextID    int
}

// NewManager creates a signed-out manager. Call Restore to pick up a stored token.
func NewManager(gateway AuthGateway, tokens *TokenStore, pkce PKCEStore, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Manager{
		gateway:   gateway,
		tokens:    tokens,
		pkce:      pkce,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		state:     StateSignedOut,
		listeners: make(map[int]Listener),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers l and returns a function removing it.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// setState must be called with m.mu held. The returned function delivers
// the event and must be called after unlocking.
func (m *Manager) setState(s State, err error) func() {
	if m.state == s && err == nil {
		return func() {}
	}
	m.state = s
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	ev := Event{State: s, Err: err}
	return func() {
		for _, l := range ls {
			l(ev)
		}
	}
}

// BuildAuthorizationRequest creates and stores the PKCE state for a browser
// session and returns the consent URL to redirect to.
func (m *Manager) BuildAuthorizationRequest(ctx context.Context, sessionID string) (string, error) {
	st, err := newPKCEState(m.now())
	if err != nil {
		return "", err
	}
	redirect, err := m.gateway.AuthCodeURL(ctx, st.State, codeChallenge(st.CodeVerifier))
	if err != nil {
		return "", err
	}
	if err := m.pkce.Put(ctx, sessionID, st); err != nil {
		return "", fmt.Errorf("failed to store PKCE state: %w", err)
	}

	m.mu.Lock()
	notify := func() {}
	if m.state == StateSignedOut {
		notify = m.setState(StateAuthorizing, nil)
	}
	m.mu.Unlock()
	notify()

	return redirect, nil
}

// HandleAuthorizationCallback completes the authorization started by
// BuildAuthorizationRequest. The pending state is consumed whatever the outcome.
func (m *Manager) HandleAuthorizationCallback(ctx context.Context, sessionID, callbackURL string) (*model.OAuthToken, error) {
	pending, err := m.pkce.Take(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCE state: %w", err)
	}

	u, err := url.Parse(callbackURL)
	if err != nil {
		m.abortAuthorization(ctx, err)
		return nil, fmt.Errorf("invalid callback url: %w", err)
	}
	q := u.Query()

	if reason := q.Get("error"); reason != "" {
		err := &AuthorizationDenied{Reason: reason}
		m.abortAuthorization(ctx, err)
		return nil, err
	}
	state := q.Get("state")
	if state == "" || pending == nil || state != pending.State {
		m.logger.Warn("OAuth state mismatch", zap.Bool("pending", pending != nil))
		m.abortAuthorization(ctx, ErrCsrfMismatch)
		return nil, ErrCsrfMismatch
	}
	code := q.Get("code")
	if code == "" {
		err := &TokenExchangeFailed{Description: "authorization code missing"}
		m.abortAuthorization(ctx, err)
		return nil, err
	}

	m.mu.Lock()
	notify := m.setState(StateExchanging, nil)
	m.mu.Unlock()
	notify()

	tok, err := m.gateway.Exchange(ctx, code, pending.CodeVerifier)
	if err != nil {
		m.logger.Error("Token exchange failed", zap.Error(err))
		m.abortAuthorization(ctx, err)
		return nil, err
	}

	if err := m.tokens.Save(ctx, tok); err != nil {
		m.logger.Error("Failed to persist token", zap.Error(err))
	}
	m.metrics.SignIns.Inc()
	m.install(tok)
	m.logger.Info("Signed in", zap.Bool("refresh_token", tok.RefreshToken != ""), zap.Time("expires_at", tok.ExpiresAt))
	return copyToken(tok), nil
}

// abortAuthorization signs out after a failed callback. A held token is
// dropped too: a rejected or forged callback leaves no session behind.
func (m *Manager) abortAuthorization(ctx context.Context, cause error) {
	if err := m.signOutLocal(ctx, cause); err != nil {
		m.logger.Warn("Failed to clear token after rejected callback", zap.Error(err))
	}
}

// install makes tok current, enters SignedIn and arms the refresh timer.
func (m *Manager) install(tok *model.OAuthToken) {
	m.mu.Lock()
	m.token = copyToken(tok)
	notify := m.setState(StateSignedIn, nil)
	m.mu.Unlock()
	notify()
	m.ScheduleRefresh(tok)
}

// ScheduleRefresh arms the single refresh timer for refreshLead before the
// token expires, or fires it right away when that moment has passed. Any
// previously armed timer is cancelled.
func (m *Manager) ScheduleRefresh(tok *model.OAuthToken) {
	delay := tok.Remaining(m.now()) - refreshLead
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.afterFunc(delay, func() { m.onTimer(gen) })
	m.logger.Debug("Token refresh scheduled", zap.Duration("in", delay))
}

func (m *Manager) onTimer(gen uint64) {
	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}
	if _, err := m.refresh(context.Background(), true); err != nil {
		m.logger.Warn("Scheduled token refresh failed", zap.Error(err))
	}
}

// RefreshAccessToken exchanges a refresh token for a new access token. The
// refresh token is preserved on the result.
func (m *Manager) RefreshAccessToken(ctx context.Context, refreshToken string) (*model.OAuthToken, error) {
	if refreshToken == "" {
		return nil, &RefreshFailed{Err: ErrNoRefreshToken}
	}
	tok, err := m.gateway.Refresh(ctx, refreshToken)
	if err != nil {
		m.metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		return nil, &RefreshFailed{Err: err}
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	m.metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	return tok, nil
}

// Refresh renews the access token now. On failure the manager signs out.
func (m *Manager) Refresh(ctx context.Context) (*model.OAuthToken, error) {
	return m.refresh(ctx, true)
}

func (m *Manager) refresh(ctx context.Context, force bool) (*model.OAuthToken, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	cur := m.token
	if cur == nil {
		m.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	// Another caller may have refreshed while we waited.
	if !force && cur.Remaining(m.now()) >= validityMargin {
		m.mu.Unlock()
		return copyToken(cur), nil
	}
	notify := m.setState(StateRefreshing, nil)
	m.mu.Unlock()
	notify()

	tok, err := m.RefreshAccessToken(ctx, cur.RefreshToken)
	if err != nil {
		m.logger.Error("Token refresh failed, signing out", zap.Error(err))
		m.signOutLocal(ctx, err)
		return nil, err
	}

	if err := m.tokens.Save(ctx, tok); err != nil {
		m.logger.Error("Failed to persist refreshed token", zap.Error(err))
	}
	m.install(tok)
	return copyToken(tok), nil
}

// Revoke asks the provider to invalidate token. Failures are only logged.
func (m *Manager) Revoke(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := m.gateway.Revoke(ctx, token); err != nil {
		m.logger.Warn("Token revoke failed", zap.Error(err))
	}
}

// IsValid reports whether tok can yield an access token: either at least a
// minute of access remains or it carries a refresh token.
func (m *Manager) IsValid(tok *model.OAuthToken) bool {
	if tok == nil {
		return false
	}
	return tok.Remaining(m.now()) >= validityMargin || tok.RefreshToken != ""
}

// Restore loads the stored token. An unusable token is cleared.
func (m *Manager) Restore(ctx context.Context) error {
	tok, err := m.tokens.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Warn("Stored token unreadable, clearing", zap.Error(err))
		return m.tokens.Clear(ctx)
	}
	if !m.IsValid(tok) {
		m.logger.Info("Stored token expired, clearing")
		return m.tokens.Clear(ctx)
	}
	m.install(tok)
	return nil
}

// SignOut revokes both tokens, clears storage and cancels the refresh timer.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()

	if tok != nil {
		m.Revoke(ctx, tok.AccessToken)
		m.Revoke(ctx, tok.RefreshToken)
	}
	return m.signOutLocal(ctx, nil)
}

func (m *Manager) signOutLocal(ctx context.Context, cause error) error {
	m.mu.Lock()
	m.token = nil
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	notify := m.setState(StateSignedOut, cause)
	m.mu.Unlock()
	notify()

	if err := m.tokens.Clear(ctx); err != nil {
		m.logger.Error("Failed to clear stored token", zap.Error(err))
		return err
	}
	return nil
}

// Peek returns a copy of the token without refreshing it; nil when signed out.
func (m *Manager) Peek() *model.OAuthToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyToken(m.token)
}

// Current returns a copy of the token, refreshing it first when less than
// a minute of access remains.
func (m *Manager) Current(ctx context.Context) (*model.OAuthToken, error) {
	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()
	if tok == nil {
		return nil, ErrNotSignedIn
	}
	if tok.Remaining(m.now()) >= validityMargin {
		return copyToken(tok), nil
	}
	return m.refresh(ctx, false)
}

// AccessToken returns a usable access token.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Token implements oauth2.TokenSource for the Google API clients.
func (m *Manager) Token() (*oauth2.Token, error) {
	tok, err := m.Current(context.Background())
	if err != nil {
		return nil, err
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tokenType,
		Expiry:      tok.ExpiresAt,
	}, nil
}

func copyToken(t *model.OAuthToken) *model.OAuthToken {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
