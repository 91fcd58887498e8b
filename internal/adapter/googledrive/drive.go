package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/soapnote/internal/adapter"
	"github.com/jun/soapnote/internal/model"
)

const textMIME = "text/plain"

// fileFields is the metadata requested for every file.
const fileFields = "id, name, mimeType, size, modifiedTime"

// listPageSize bounds a folder listing.
const listPageSize = 100

// DriveAdapter implements adapter.DriveGateway for Google Drive.
type DriveAdapter struct {
	service *drive.Service
}

// NewDriveAdapter creates a new DriveAdapter. opts carry the credentials,
// typically option.WithTokenSource.
func NewDriveAdapter(ctx context.Context, opts ...option.ClientOption) (*DriveAdapter, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	return &DriveAdapter{service: srv}, nil
}

// CreateTextFile uploads content as a multipart request: JSON metadata
// followed by the text/plain body.
func (d *DriveAdapter) CreateTextFile(ctx context.Context, name, folderID, content string) (*model.DriveFile, error) {
	f := &drive.File{
		Name:     name,
		MimeType: textMIME,
	}
	if folderID != "" {
		f.Parents = []string{folderID}
	}

	res, err := d.service.Files.Create(f).
		Media(strings.NewReader(content), googleapi.ContentType(textMIME+"; charset=UTF-8")).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create file: %w", err)
	}
	return toModel(res), nil
}

// Download retrieves a file's metadata and content by its ID.
func (d *DriveAdapter) Download(ctx context.Context, fileID string) (*model.DriveFile, error) {
	f, err := d.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrNotFound, err)
		}
		return nil, fmt.Errorf("unable to get file metadata: %w", err)
	}

	resp, err := d.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrNotFound, err)
		}
		return nil, fmt.Errorf("unable to download file: %w", err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read file content: %w", err)
	}

	out := toModel(f)
	out.Content = content
	if out.Size == 0 {
		out.Size = int64(len(content))
	}
	return out, nil
}

// ListFolder lists the most recent files of a folder.
func (d *DriveAdapter) ListFolder(ctx context.Context, folderID string) ([]model.DriveFile, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", strings.ReplaceAll(folderID, "'", `\'`))
	res, err := d.service.Files.List().
		Q(q).
		OrderBy("modifiedTime desc").
		PageSize(listPageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w", adapter.ErrNotFound, err)
		}
		return nil, fmt.Errorf("unable to list folder: %w", err)
	}

	files := make([]model.DriveFile, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, *toModel(f))
	}
	return files, nil
}

func toModel(f *drive.File) *model.DriveFile {
	return &model.DriveFile{
		ID:           f.Id,
		Name:         f.Name,
		MIMEType:     f.MimeType,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
	}
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == 404
	}
	return false
}
