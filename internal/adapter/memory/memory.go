// Package memory is a local stand-in for Google Workspace used in DEV_MODE.
// Files live in a storage.Store, so a file or DynamoDB backend keeps them
// across restarts.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jun/soapnote/internal/adapter"
	"github.com/jun/soapnote/internal/model"
	"github.com/jun/soapnote/internal/storage"
)

const (
	maxDemoContentSize = 256 * 1024 // 256KB
	maxDemoTitleLength = 255
	maxDemoItemCount   = 50

	indexKey   = "workspace-drive-index"
	filePrefix = "workspace-drive-"
)

// FileItem is the stored form of a drive file.
type FileItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MIMEType     string    `json:"mimeType"`
	FolderID     string    `json:"folderId"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Content      []byte    `json:"content"`
}

// Workspace implements the drive, calendar and profile gateways without
// network access.
type Workspace struct {
	store   storage.Store
	profile model.Profile

	mu     sync.Mutex
	events []model.CalendarEvent
}

// NewWorkspace creates a workspace persisting files in store.
func NewWorkspace(store storage.Store, email string) *Workspace {
	return &Workspace{
		store:   store,
		profile: model.Profile{ID: "local", Email: email, Name: "Local User"},
	}
}

// CreateTextFile stores content as a new file, within the demo limits.
func (w *Workspace) CreateTextFile(ctx context.Context, name, folderID, content string) (*model.DriveFile, error) {
	if len(name) > maxDemoTitleLength {
		return nil, fmt.Errorf("%w: name too long (max %d)", adapter.ErrLimitExceeded, maxDemoTitleLength)
	}
	if len(content) > maxDemoContentSize {
		return nil, fmt.Errorf("%w: content too large (max %d bytes)", adapter.ErrLimitExceeded, maxDemoContentSize)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ids, err := w.index(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) >= maxDemoItemCount {
		return nil, fmt.Errorf("%w: item limit reached (max %d)", adapter.ErrLimitExceeded, maxDemoItemCount)
	}

	item := FileItem{
		ID:           uuid.New().String(),
		Name:         name,
		MIMEType:     "text/plain",
		FolderID:     folderID,
		ModifiedTime: time.Now(),
		Content:      []byte(content),
	}
	if err := storage.PutJSON(ctx, w.store, filePrefix+item.ID, item); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if err := storage.PutJSON(ctx, w.store, indexKey, append(ids, item.ID)); err != nil {
		return nil, fmt.Errorf("failed to update index: %w", err)
	}
	return toModel(item, false), nil
}

// Download returns a stored file.
func (w *Workspace) Download(ctx context.Context, fileID string) (*model.DriveFile, error) {
	var item FileItem
	if err := storage.GetJSON(ctx, w.store, filePrefix+fileID, &item); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, adapter.ErrNotFound
		}
		return nil, err
	}
	return toModel(item, true), nil
}

// ListFolder returns the files stored under folderID, newest first.
func (w *Workspace) ListFolder(ctx context.Context, folderID string) ([]model.DriveFile, error) {
	w.mu.Lock()
	ids, err := w.index(ctx)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(ids))
	for _, id := range ids {
		var item FileItem
		if err := storage.GetJSON(ctx, w.store, filePrefix+id, &item); err != nil {
			continue
		}
		if item.FolderID != folderID {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ModifiedTime.After(items[j].ModifiedTime)
	})

	files := make([]model.DriveFile, 0, len(items))
	for _, item := range items {
		files = append(files, *toModel(item, false))
	}
	return files, nil
}

func (w *Workspace) index(ctx context.Context) ([]string, error) {
	var ids []string
	err := storage.GetJSON(ctx, w.store, indexKey, &ids)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return ids, nil
}

func toModel(item FileItem, withContent bool) *model.DriveFile {
	f := &model.DriveFile{
		ID:       item.ID,
		Name:     item.Name,
		MIMEType: item.MIMEType,
		Size:     int64(len(item.Content)),
	}
	if !item.ModifiedTime.IsZero() {
		f.ModifiedTime = item.ModifiedTime.UTC().Format(time.RFC3339)
	}
	if withContent {
		f.Content = item.Content
	}
	return f
}

// AddEvent seeds the local calendar.
func (w *Workspace) AddEvent(e model.CalendarEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

// ListEvents returns seeded events starting in [from, to), ordered by start.
// All-day events match when their date falls in the window.
func (w *Workspace) ListEvents(_ context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	type keyed struct {
		start time.Time
		event model.CalendarEvent
	}
	var matched []keyed
	for _, e := range w.events {
		start, ok := startOf(e, from.Location())
		if !ok || start.Before(from) || !start.Before(to) {
			continue
		}
		matched = append(matched, keyed{start: start, event: e})
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].start.Before(matched[j].start)
	})

	events := make([]model.CalendarEvent, 0, len(matched))
	for _, m := range matched {
		events = append(events, m.event)
	}
	return events, nil
}

func startOf(e model.CalendarEvent, loc *time.Location) (time.Time, bool) {
	if e.Start.DateTime != "" {
		t, err := time.Parse(time.RFC3339, e.Start.DateTime)
		return t, err == nil
	}
	t, err := time.ParseInLocation("2006-01-02", e.Start.Date, loc)
	return t, err == nil
}

// Me returns the fixed local profile.
func (w *Workspace) Me(context.Context) (*model.Profile, error) {
	p := w.profile
	return &p, nil
}

// Provider implements adapter.Provider over a single Workspace.
type Provider struct {
	ws *Workspace
}

// NewProvider creates a provider handing out ws for every gateway.
func NewProvider(ws *Workspace) *Provider {
	return &Provider{ws: ws}
}

func (p *Provider) Drive(context.Context) (adapter.DriveGateway, error) {
	return p.ws, nil
}

func (p *Provider) Calendar(context.Context) (adapter.CalendarGateway, error) {
	return p.ws, nil
}

func (p *Provider) Profile(context.Context) (adapter.ProfileGateway, error) {
	return p.ws, nil
}
