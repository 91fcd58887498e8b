package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jun/soapnote/internal/handler"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/secret"
	"github.com/jun/soapnote/internal/storage"
)

func TestSettingsHandler_UpdateAndGet(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	settings := secret.NewSettings(store, nil, nil)
	h := handler.NewSettingsHandler(settings, nil)

	resp, err := h.Update(ctx, makeRequest("PUT", "/settings", `{"geminiKey":"AIzaSyTest1234","googleClientId":"client.apps.googleusercontent.com"}`))
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	if got, _ := settings.Get(ctx, secret.GeminiKey); got != "AIzaSyTest1234" {
		t.Errorf("Expected stored key, got %q", got)
	}

	resp, _ = h.Get(ctx, makeRequest("GET", "/settings", ""))
	var snap model.Settings
	if err := json.Unmarshal([]byte(resp.Body), &snap); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if snap.GeminiKey != "****1234" {
		t.Errorf("Expected masked key, got %q", snap.GeminiKey)
	}
	if snap.GoogleClientID != "client.apps.googleusercontent.com" {
		t.Errorf("Expected client id in clear, got %q", snap.GoogleClientID)
	}
	if snap.GoogleDeveloperKey != "" {
		t.Errorf("Expected unset developer key, got %q", snap.GoogleDeveloperKey)
	}
}

func TestSettingsHandler_EmptyValueClears(t *testing.T) {
	ctx := context.Background()
	settings := secret.NewSettings(storage.NewMemoryStore(), nil, nil)
	settings.Set(ctx, secret.GeminiKey, "AIzaSyTest1234")
	settings.Set(ctx, secret.GoogleClientID, "client")
	h := handler.NewSettingsHandler(settings, nil)

	resp, _ := h.Update(ctx, makeRequest("PUT", "/settings", `{"geminiKey":""}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if _, err := settings.Get(ctx, secret.GeminiKey); err == nil {
		t.Error("Expected the key to be cleared")
	}
	if got, _ := settings.Get(ctx, secret.GoogleClientID); got != "client" {
		t.Errorf("Expected absent fields to be left alone, got %q", got)
	}
}

func TestSettingsHandler_BadBody(t *testing.T) {
	h := handler.NewSettingsHandler(secret.NewSettings(storage.NewMemoryStore(), nil, nil), nil)
	resp, _ := h.Update(context.Background(), makeRequest("PUT", "/settings", `not json`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
}
