package googledrive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/soapnote/internal/adapter"
)

// fakeDrive serves just enough of the Drive v3 REST surface.
type fakeDrive struct {
	mu       sync.Mutex
	files    map[string]string
	uploaded []string
	queries  []string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/files"):
		body, _ := io.ReadAll(r.Body)
		f.uploaded = append(f.uploaded, string(body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "new-file", "name": "chart.txt", "mimeType": "text/plain"})

	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		list := []map[string]any{}
		for id := range f.files {
			list = append(list, map[string]any{"id": id, "name": id + ".txt", "mimeType": "text/plain", "modifiedTime": "2025-01-05T06:04:00Z"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"files": list})

	case r.Method == http.MethodGet:
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		content, ok := f.files[id]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":404,"message":"File not found: `+id+`.","errors":[{"reason":"notFound"}]}}`)
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			io.WriteString(w, content)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "name": "note.txt", "mimeType": "text/plain"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestAdapter(t *testing.T, fake *fakeDrive) *DriveAdapter {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	d, err := NewDriveAdapter(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewDriveAdapter failed: %v", err)
	}
	return d
}

func TestDriveAdapter_CreateTextFile(t *testing.T) {
	fake := &fakeDrive{files: map[string]string{}}
	d := newTestAdapter(t, fake)

	f, err := d.CreateTextFile(context.Background(), "SOAP차트_20250105_1504_홍길동.txt", "folder-1", "✅ 환자명: 홍길동")
	if err != nil {
		t.Fatalf("CreateTextFile failed: %v", err)
	}
	if f.ID != "new-file" {
		t.Errorf("Expected id 'new-file', got %q", f.ID)
	}
	if len(fake.uploaded) != 1 {
		t.Fatalf("Expected one upload, got %d", len(fake.uploaded))
	}
	body := fake.uploaded[0]
	for _, want := range []string{`"parents":["folder-1"]`, "SOAP차트_20250105_1504_홍길동.txt", "✅ 환자명: 홍길동"} {
		if !strings.Contains(body, want) {
			t.Errorf("Upload body missing %q", want)
		}
	}
}

func TestDriveAdapter_Download(t *testing.T) {
	fake := &fakeDrive{files: map[string]string{"abc": "전사 내용"}}
	d := newTestAdapter(t, fake)

	f, err := d.Download(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(f.Content) != "전사 내용" || f.MIMEType != "text/plain" {
		t.Errorf("Unexpected file: %+v content=%q", f, f.Content)
	}
	if f.Size != int64(len("전사 내용")) {
		t.Errorf("Expected size from content, got %d", f.Size)
	}
}

func TestDriveAdapter_DownloadNotFound(t *testing.T) {
	d := newTestAdapter(t, &fakeDrive{files: map[string]string{}})

	_, err := d.Download(context.Background(), "missing")
	if !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"404", &googleapi.Error{Code: 404}, true},
		{"wrapped 404", errors.Join(errors.New("ctx"), &googleapi.Error{Code: 404}), true},
		{"403", &googleapi.Error{Code: 403}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDriveAdapter_ListFolder(t *testing.T) {
	fake := &fakeDrive{files: map[string]string{"chart-1": "차트"}}
	d := newTestAdapter(t, fake)

	files, err := d.ListFolder(context.Background(), "folder-'1")
	if err != nil {
		t.Fatalf("ListFolder failed: %v", err)
	}
	if len(files) != 1 || files[0].ID != "chart-1" || files[0].ModifiedTime != "2025-01-05T06:04:00Z" {
		t.Errorf("Unexpected listing %+v", files)
	}
	if len(fake.queries) != 1 {
		t.Fatalf("Expected one list call, got %d", len(fake.queries))
	}
	if want := `'folder-\'1' in parents and trashed=false`; fake.queries[0] != want {
		t.Errorf("Expected query %q, got %q", want, fake.queries[0])
	}
}
