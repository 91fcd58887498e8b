package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/secret"
	"github.com/jun/soapnote/internal/storage"
)

// SettingsStore is the part of secret.Settings the handler uses.
type SettingsStore interface {
	Snapshot(ctx context.Context) model.Settings
	Set(ctx context.Context, name, value string) error
}

// SettingsHandler reads and updates the API credentials.
type SettingsHandler struct {
	settings SettingsStore
	logger   *zap.Logger
}

func NewSettingsHandler(settings SettingsStore, logger *zap.Logger) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{settings: settings, logger: logger}
}

// Get returns the settings with secrets masked.
func (h *SettingsHandler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(http.StatusOK, h.settings.Snapshot(ctx)), nil
}

// Update stores the fields present in the body. A field sent as "" clears the
// stored value; absent fields are left alone.
func (h *SettingsHandler) Update(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var body struct {
		GeminiKey          *string `json:"geminiKey"`
		GoogleClientID     *string `json:"googleClientId"`
		GoogleDeveloperKey *string `json:"googleDeveloperKey"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}

	updates := []struct {
		name  string
		value *string
	}{
		{secret.GeminiKey, body.GeminiKey},
		{secret.GoogleClientID, body.GoogleClientID},
		{secret.GoogleDeveloperKey, body.GoogleDeveloperKey},
	}
	for _, u := range updates {
		if u.value == nil {
			continue
		}
		if err := h.settings.Set(ctx, u.name, *u.value); err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error("Failed to update setting", zap.String("name", u.name), zap.Error(err))
			return errorResponse(http.StatusInternalServerError, "Failed to update settings"), nil
		}
	}
	return jsonResponse(http.StatusOK, h.settings.Snapshot(ctx)), nil
}
