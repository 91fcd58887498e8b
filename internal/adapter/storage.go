package adapter

import (
	"context"
	"time"

	"github.com/jun/soapnote/internal/model"
)

// DriveGateway stores and fetches files in the user's cloud drive.
type DriveGateway interface {
	// CreateTextFile uploads UTF-8 text as a new file under folderID.
	CreateTextFile(ctx context.Context, name, folderID, content string) (*model.DriveFile, error)

	// Download returns a file's metadata and content. Missing files yield ErrNotFound.
	Download(ctx context.Context, fileID string) (*model.DriveFile, error)

	// ListFolder returns the non-trashed files directly under folderID,
	// newest first, without content.
	ListFolder(ctx context.Context, folderID string) ([]model.DriveFile, error)
}

// CalendarGateway reads the primary calendar.
type CalendarGateway interface {
	// ListEvents returns single-instance, non-deleted events starting in
	// [from, to), ordered by start time.
	ListEvents(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error)
}

// ProfileGateway describes the signed-in account.
type ProfileGateway interface {
	Me(ctx context.Context) (*model.Profile, error)
}
