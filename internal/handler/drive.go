package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/archive"
	"github.com/jun/soapnote/internal/auth"
	"github.com/jun/soapnote/internal/model"
)

// FolderLister lists the archive folder.
type FolderLister interface {
	List(ctx context.Context) ([]model.DriveFile, error)
	FolderID() string
}

// DriveConfig holds what the browser-side Drive picker needs.
type DriveConfig struct {
	DeveloperKey func(ctx context.Context) (string, error)
	ClientID     func(ctx context.Context) (string, error)
	AccessToken  func(ctx context.Context) (string, error)
}

// DriveHandler serves the Drive file listing and the picker configuration.
type DriveHandler struct {
	files  FolderLister
	cfg    DriveConfig
	logger *zap.Logger
}

// NewDriveHandler creates a new DriveHandler.
func NewDriveHandler(files FolderLister, cfg DriveConfig, logger *zap.Logger) *DriveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriveHandler{files: files, cfg: cfg, logger: logger}
}

// Files lists the archive folder, newest first.
func (h *DriveHandler) Files(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	files, err := h.files.List(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotSignedIn) {
			return errorResponse(http.StatusUnauthorized, auth.ErrNotSignedIn.Error()), nil
		}
		var dl *archive.RemoteDownloadFailed
		if errors.As(err, &dl) && dl.NotFound {
			return errorResponse(http.StatusNotFound, err.Error()), nil
		}
		return errorResponse(http.StatusBadGateway, err.Error()), nil
	}
	if files == nil {
		files = []model.DriveFile{}
	}
	return jsonResponse(http.StatusOK, files), nil
}

type pickerResponse struct {
	DeveloperKey string `json:"developerKey"`
	ClientID     string `json:"clientId"`
	FolderID     string `json:"folderId,omitempty"`
	AccessToken  string `json:"accessToken"`
}

// Picker returns the developer key, client ID and a fresh access token for
// the Google Picker.
func (h *DriveHandler) Picker(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	token, err := h.cfg.AccessToken(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotSignedIn) {
			return errorResponse(http.StatusUnauthorized, auth.ErrNotSignedIn.Error()), nil
		}
		h.logger.Warn("Failed to get access token for picker", zap.Error(err))
		return errorResponse(http.StatusBadGateway, err.Error()), nil
	}

	key, err := h.cfg.DeveloperKey(ctx)
	if err != nil || key == "" {
		return errorResponse(http.StatusServiceUnavailable, "Google Developer Key가 설정되지 않았습니다."), nil
	}
	clientID, err := h.cfg.ClientID(ctx)
	if err != nil || clientID == "" {
		return errorResponse(http.StatusServiceUnavailable, "Google Client ID가 설정되지 않았습니다."), nil
	}

	return jsonResponse(http.StatusOK, pickerResponse{
		DeveloperKey: key,
		ClientID:     clientID,
		FolderID:     h.files.FolderID(),
		AccessToken:  token,
	}), nil
}
