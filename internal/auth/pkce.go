package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/jun/soapnote/internal/model"
)

// pkceTTL bounds how long a pending authorization is kept.
const pkceTTL = 10 * time.Minute

// PKCEStore keeps the pending authorization of each browser session.
type PKCEStore interface {
	Put(ctx context.Context, sessionID string, st model.PKCEState) error
	// Take returns and deletes the pending state; nil when there is none.
	Take(ctx context.Context, sessionID string) (*model.PKCEState, error)
}

// MemoryPKCEStore is an in-process PKCEStore.
type MemoryPKCEStore struct {
	mu      sync.Mutex
	pending map[string]model.PKCEState
	now     func() time.Time
}

// NewMemoryPKCEStore creates an empty store.
func NewMemoryPKCEStore() *MemoryPKCEStore {
	return &MemoryPKCEStore{pending: make(map[string]model.PKCEState), now: time.Now}
}

func (s *MemoryPKCEStore) Put(_ context.Context, sessionID string, st model.PKCEState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		if s.now().Sub(p.CreatedAt) > pkceTTL {
			delete(s.pending, id)
		}
	}
	s.pending[sessionID] = st
	return nil
}

func (s *MemoryPKCEStore) Take(_ context.Context, sessionID string) (*model.PKCEState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.pending[sessionID]
	if !ok {
		return nil, nil
	}
	delete(s.pending, sessionID)
	if s.now().Sub(st.CreatedAt) > pkceTTL {
		return nil, nil
	}
	return &st, nil
}

// newPKCEState creates a 32-byte verifier and a 16-byte state, both
// base64url without padding.
func newPKCEState(now time.Time) (model.PKCEState, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return model.PKCEState{}, fmt.Errorf("failed to generate state: %w", err)
	}
	return model.PKCEState{
		CodeVerifier: oauth2.GenerateVerifier(),
		State:        base64.RawURLEncoding.EncodeToString(b),
		CreatedAt:    now,
	}, nil
}

// codeChallenge is the S256 challenge of a verifier.
func codeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
