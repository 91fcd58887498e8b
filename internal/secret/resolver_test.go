package secret

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/jun/soapnote/internal/storage"
)

type fakeSSMClient struct {
	params map[string]string
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  input.Name,
			Value: aws.String(val),
		},
	}, nil
}

func TestSSMResolver_GetSecret(t *testing.T) {
	resolver := NewSSMResolver(&fakeSSMClient{params: map[string]string{
		"/soapnote/gemini-key": "AIza-ssm",
		"/soapnote/empty":      "",
	}})
	ctx := context.Background()

	val, err := resolver.GetSecret(ctx, "/soapnote/gemini-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "AIza-ssm" {
		t.Fatalf("expected %q, got %q", "AIza-ssm", val)
	}

	if _, err := resolver.GetSecret(ctx, "/soapnote/missing"); err == nil {
		t.Fatal("expected error for missing parameter, got nil")
	}
	if _, err := resolver.GetSecret(ctx, "/soapnote/empty"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for empty parameter, got %v", err)
	}
}

func TestEnvResolver_GetSecret(t *testing.T) {
	t.Setenv("GEMINI_KEY", "AIza-env")
	t.Setenv("GOOGLE_DEVELOPER_KEY", "")
	resolver := NewEnvResolver()

	val, err := resolver.GetSecret(context.Background(), "/soapnote/gemini-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "AIza-env" {
		t.Fatalf("expected %q, got %q", "AIza-env", val)
	}

	_, err = resolver.GetSecret(context.Background(), "/soapnote/google-developer-key")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/soapnote/gemini-key", "GEMINI_KEY"},
		{"/soapnote/google-client-id", "GOOGLE_CLIENT_ID"},
		{"jwt-secret", "JWT_SECRET"},
	}

	for _, tc := range tests {
		got := paramNameToEnvVar(tc.input)
		if got != tc.expected {
			t.Errorf("paramNameToEnvVar(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func testSettings() (*Settings, storage.Store) {
	store := storage.NewMemoryStore()
	fallback := NewSSMResolver(&fakeSSMClient{params: map[string]string{
		"/soapnote/gemini-key":       "AIza-from-ssm-1234",
		"/soapnote/google-client-id": "client.apps.googleusercontent.com",
	}})
	return NewSettings(store, fallback, map[string]string{
		GeminiKey:      "/soapnote/gemini-key",
		GoogleClientID: "/soapnote/google-client-id",
	}), store
}

func TestSettings_StoredValueWins(t *testing.T) {
	s, _ := testSettings()
	ctx := context.Background()

	v, err := s.Get(ctx, GeminiKey)
	if err != nil || v != "AIza-from-ssm-1234" {
		t.Fatalf("Expected fallback value, got %q (%v)", v, err)
	}

	if err := s.Set(ctx, GeminiKey, "AIza-user-5678"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, _ = s.Get(ctx, GeminiKey)
	if v != "AIza-user-5678" {
		t.Errorf("Expected stored value, got '%s'", v)
	}

	if err := s.Set(ctx, GeminiKey, ""); err != nil {
		t.Fatalf("clearing failed: %v", err)
	}
	v, _ = s.Get(ctx, GeminiKey)
	if v != "AIza-from-ssm-1234" {
		t.Errorf("Expected fallback after clearing, got '%s'", v)
	}
}

func TestSettings_NotConfigured(t *testing.T) {
	s, _ := testSettings()
	if _, err := s.Get(context.Background(), GoogleDeveloperKey); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.Get(context.Background(), "jwtSecret"); err == nil {
		t.Error("Expected error for unknown setting")
	}
}

func TestSettings_Snapshot_MasksSecrets(t *testing.T) {
	s, _ := testSettings()
	snap := s.Snapshot(context.Background())

	if snap.GeminiKey != "****1234" {
		t.Errorf("Expected masked key, got '%s'", snap.GeminiKey)
	}
	if snap.GoogleClientID != "client.apps.googleusercontent.com" {
		t.Errorf("client id should not be masked, got '%s'", snap.GoogleClientID)
	}
	if snap.GoogleDeveloperKey != "" {
		t.Errorf("Expected empty developer key, got '%s'", snap.GoogleDeveloperKey)
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{"": "", "abc": "****", "abcdefgh": "****efgh"}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
