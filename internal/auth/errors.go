package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrCsrfMismatch is returned when the callback state is missing or does
	// not match the pending authorization.
	ErrCsrfMismatch = errors.New("OAuth state mismatch")

	// ErrNotSignedIn is returned when a token is requested while signed out.
	ErrNotSignedIn = errors.New("Google 계정 인증이 필요합니다.")

	// ErrNoRefreshToken is wrapped by RefreshFailed when there is nothing to refresh with.
	ErrNoRefreshToken = errors.New("리프레시 토큰이 없습니다. 다시 로그인해주세요.")
)

// AuthorizationDenied is returned when the provider reports an error on the callback.
type AuthorizationDenied struct {
	Reason string
}

func (e *AuthorizationDenied) Error() string {
	return fmt.Sprintf("OAuth error: %s", e.Reason)
}

// TokenExchangeFailed is returned when the code exchange is rejected.
type TokenExchangeFailed struct {
	Description string
	Err         error
}

func (e *TokenExchangeFailed) Error() string {
	return e.Description
}

func (e *TokenExchangeFailed) Unwrap() error { return e.Err }

// RefreshFailed is returned when the access token cannot be renewed. The
// manager is signed out by the time a caller sees it.
type RefreshFailed struct {
	Err error
}

func (e *RefreshFailed) Error() string {
	if errors.Is(e.Err, ErrNoRefreshToken) {
		return ErrNoRefreshToken.Error()
	}
	return "토큰 갱신 실패. 다시 로그인해주세요."
}

func (e *RefreshFailed) Unwrap() error { return e.Err }
