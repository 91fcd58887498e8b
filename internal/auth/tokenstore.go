package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jun/soapnote/internal/crypto"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/storage"
)

// TokenKey is the storage key of the persisted token.
const TokenKey = "googleOauthToken"

// storedToken is the persisted shape. ExpiresAt is in unix milliseconds and
// the refresh token is sealed.
type storedToken struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"`
	TokenType    string `json:"tokenType,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenStore persists the OAuth token with its refresh token encrypted.
type TokenStore struct {
	store     storage.Store
	encryptor crypto.Encryptor
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(store storage.Store, encryptor crypto.Encryptor) *TokenStore {
	return &TokenStore{store: store, encryptor: encryptor}
}

// Save encrypts the refresh token and stores the token.
func (s *TokenStore) Save(ctx context.Context, tok *model.OAuthToken) error {
	st := storedToken{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt.UnixMilli(),
		TokenType:   tok.TokenType,
		Scope:       tok.Scope,
	}
	if tok.RefreshToken != "" {
		sealed, err := s.encryptor.Encrypt(ctx, tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		st.RefreshToken = sealed
	}
	if err := storage.PutJSON(ctx, s.store, TokenKey, st); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Load returns the stored token, or storage.ErrNotFound.
func (s *TokenStore) Load(ctx context.Context) (*model.OAuthToken, error) {
	var st storedToken
	if err := storage.GetJSON(ctx, s.store, TokenKey, &st); err != nil {
		return nil, err
	}
	tok := &model.OAuthToken{
		AccessToken: st.AccessToken,
		ExpiresAt:   time.UnixMilli(st.ExpiresAt),
		TokenType:   st.TokenType,
		Scope:       st.Scope,
	}
	if st.RefreshToken != "" {
		rt, err := s.encryptor.Decrypt(ctx, st.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		tok.RefreshToken = rt
	}
	return tok, nil
}

// Clear removes the stored token. A missing token is not an error.
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, TokenKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}
