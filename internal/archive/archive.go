// Package archive saves charts to Google Drive and reads Drive files and
// today's calendar.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/adapter"
	"github.com/jun/soapnote/internal/chart"
	"github.com/jun/soapnote/internal/model"
)

var (
	// ErrRemoteSaveFailed wraps any failure to upload a chart.
	ErrRemoteSaveFailed = errors.New("Google Drive 저장 실패")

	// ErrCalendarLoadFailed wraps any failure to read today's events.
	ErrCalendarLoadFailed = errors.New("일정 로딩 실패")
)

// RemoteDownloadFailed reports a failed Drive download.
type RemoteDownloadFailed struct {
	NotFound bool
	Err      error
}

func (e *RemoteDownloadFailed) Error() string {
	if e.NotFound {
		return fmt.Sprintf("파일을 찾을 수 없습니다. 파일이 삭제되었거나 앱에 접근 권한이 없을 수 있습니다. (오류: %v)", e.Err)
	}
	return fmt.Sprintf("파일 다운로드 실패: %v", e.Err)
}

func (e *RemoteDownloadFailed) Unwrap() error { return e.Err }

// Config names where charts go.
type Config struct {
	FolderID string
	Prefix   string
	Location *time.Location
}

// Service talks to the workspace through an adapter.Provider.
type Service struct {
	provider adapter.Provider
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates an archive service.
func NewService(provider adapter.Provider, cfg Config, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Prefix == "" {
		cfg.Prefix = chart.ChartFilePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: provider, cfg: cfg, now: time.Now, logger: logger}
}

// Save uploads a chart as a text file named after its patient.
func (s *Service) Save(ctx context.Context, content string) (*model.DriveFile, error) {
	name := chart.Filename(s.cfg.Prefix, s.now().In(s.cfg.Location), content)

	drive, err := s.provider.Drive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteSaveFailed, err)
	}
	f, err := drive.CreateTextFile(ctx, name, s.cfg.FolderID, content)
	if err != nil {
		s.logger.Error("Failed to save chart", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRemoteSaveFailed, err)
	}

	s.logger.Info("Chart saved", zap.String("file_id", f.ID), zap.String("name", name))
	if f.Name == "" {
		f.Name = name
	}
	return f, nil
}

// Download fetches a file for import.
func (s *Service) Download(ctx context.Context, fileID string) (*model.DriveFile, error) {
	drive, err := s.provider.Drive(ctx)
	if err != nil {
		return nil, &RemoteDownloadFailed{Err: err}
	}
	f, err := drive.Download(ctx, fileID)
	if err != nil {
		s.logger.Warn("Failed to download file", zap.String("file_id", fileID), zap.Error(err))
		return nil, &RemoteDownloadFailed{NotFound: errors.Is(err, adapter.ErrNotFound), Err: err}
	}
	return f, nil
}

// List returns the files of the archive folder, newest first.
func (s *Service) List(ctx context.Context) ([]model.DriveFile, error) {
	drive, err := s.provider.Drive(ctx)
	if err != nil {
		return nil, &RemoteDownloadFailed{Err: err}
	}
	files, err := drive.ListFolder(ctx, s.cfg.FolderID)
	if err != nil {
		s.logger.Warn("Failed to list archive folder", zap.String("folder_id", s.cfg.FolderID), zap.Error(err))
		return nil, &RemoteDownloadFailed{NotFound: errors.Is(err, adapter.ErrNotFound), Err: err}
	}
	return files, nil
}

// FolderID is the Drive folder charts are archived to.
func (s *Service) FolderID() string {
	return s.cfg.FolderID
}

// Today lists the events of the current local day.
func (s *Service) Today(ctx context.Context) ([]model.CalendarEvent, error) {
	now := s.now().In(s.cfg.Location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
	end := start.AddDate(0, 0, 1)

	cal, err := s.provider.Calendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalendarLoadFailed, err)
	}
	events, err := cal.ListEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalendarLoadFailed, err)
	}
	return events, nil
}

// Profile returns the signed-in account.
func (s *Service) Profile(ctx context.Context) (*model.Profile, error) {
	p, err := s.provider.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return p.Me(ctx)
}
