package secret

import (
	"context"
	"errors"
	"fmt"

	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/storage"
)

// Setting names. Each is stored under its own key.
const (
	GeminiKey          = "geminiKey"
	GoogleClientID     = "googleClientId"
	GoogleDeveloperKey = "googleDeveloperKey"
)

// Settings resolves user settings: the value saved through Set wins, then the
// fallback resolver under the parameter name mapped for the setting.
type Settings struct {
	store    storage.Store
	fallback Resolver
	params   map[string]string
}

// NewSettings creates a Settings. params maps setting names to parameter names.
func NewSettings(store storage.Store, fallback Resolver, params map[string]string) *Settings {
	return &Settings{store: store, fallback: fallback, params: params}
}

func knownSetting(name string) bool {
	switch name {
	case GeminiKey, GoogleClientID, GoogleDeveloperKey:
		return true
	}
	return false
}

// Get returns the value of a setting.
func (s *Settings) Get(ctx context.Context, name string) (string, error) {
	if !knownSetting(name) {
		return "", fmt.Errorf("unknown setting %q", name)
	}

	raw, err := s.store.Get(ctx, name)
	switch {
	case err == nil && len(raw) > 0:
		return string(raw), nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("failed to read setting %q: %w", name, err)
	}

	param, ok := s.params[name]
	if !ok || s.fallback == nil {
		return "", fmt.Errorf("setting %q: %w", name, ErrNotConfigured)
	}
	return s.fallback.GetSecret(ctx, param)
}

// Set stores a setting. An empty value removes the stored override.
func (s *Settings) Set(ctx context.Context, name, value string) error {
	if !knownSetting(name) {
		return fmt.Errorf("unknown setting %q", name)
	}
	if value == "" {
		return s.store.Delete(ctx, name)
	}
	return s.store.Put(ctx, name, []byte(value))
}

// Snapshot returns every setting with secret values masked.
func (s *Settings) Snapshot(ctx context.Context) model.Settings {
	get := func(name string) string {
		v, err := s.Get(ctx, name)
		if err != nil {
			return ""
		}
		return v
	}
	return model.Settings{
		GeminiKey:          Mask(get(GeminiKey)),
		GoogleClientID:     get(GoogleClientID),
		GoogleDeveloperKey: Mask(get(GoogleDeveloperKey)),
	}
}

// Mask keeps the last four characters of a secret.
func Mask(v string) string {
	if len(v) <= 4 {
		if v == "" {
			return ""
		}
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// Func returns a lookup bound to one setting.
func (s *Settings) Func(name string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return s.Get(ctx, name)
	}
}
