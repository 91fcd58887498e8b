package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jun/soapnote/internal/audio"
)

func startWatcher(t *testing.T, dir string, h Handler) *Watcher {
	t.Helper()
	w := New(dir, h, nil)
	w.settle = 20 * time.Millisecond
	w.retry = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
	return w
}

func waitFor(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_ProcessesDroppedFile(t *testing.T) {
	dir := t.TempDir()
	got := make(chan audio.Blob, 1)
	startWatcher(t, dir, func(_ context.Context, b audio.Blob) error {
		got <- b
		return nil
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "consult.txt"), []byte("대화 내용"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case b := <-got:
		if b.Name != "consult.txt" || string(b.Data) != "대화 내용" {
			t.Errorf("Unexpected blob %+v", b)
		}
		if !audio.IsText(b.MIMEType) {
			t.Errorf("Expected a text type, got %q", b.MIMEType)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Handler was not called")
	}
	waitFor(t, filepath.Join(dir, ProcessedDir, "consult.txt"))
}

func TestWatcher_PicksUpExistingAndMovesFailures(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("not a wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := make(chan string, 4)
	startWatcher(t, dir, func(_ context.Context, b audio.Blob) error {
		calls <- b.Name
		return errors.New("decode failed")
	})

	waitFor(t, filepath.Join(dir, FailedDir, "broken.wav"))
	if name := <-calls; name != "broken.wav" {
		t.Errorf("Unexpected file %q", name)
	}
	if _, err := os.Stat(filepath.Join(dir, ".hidden")); err != nil {
		t.Error("Hidden files must be left alone")
	}
	select {
	case name := <-calls:
		t.Errorf("Unexpected extra call for %q", name)
	default:
	}
}

func TestWatcher_RetriesBusyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "visit.wav"), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	attempts := make(chan int, 4)
	n := 0
	startWatcher(t, dir, func(_ context.Context, b audio.Blob) error {
		n++
		attempts <- n
		if n == 1 {
			return fmt.Errorf("%w: run in progress", ErrRetry)
		}
		return nil
	})

	waitFor(t, filepath.Join(dir, ProcessedDir, "visit.wav"))
	if got := len(attempts); got != 2 {
		t.Errorf("Expected two attempts, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(dir, FailedDir, "visit.wav")); err == nil {
		t.Error("A deferred file must not be moved to failed/")
	}
}

func TestWatcher_EnqueueAfterRunReturns(t *testing.T) {
	w := New(t.TempDir(), func(context.Context, audio.Blob) error { return nil }, nil)
	w.queue = make(chan string)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	result := make(chan bool, 1)
	go func() { result <- w.enqueue("late.wav") }()
	select {
	case ok := <-result:
		if ok {
			t.Error("Expected enqueue to give up after Run returned")
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked after Run returned")
	}
}

func TestMoveInto_AvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, ProcessedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old"), 0o644)
	src := filepath.Join(dir, "a.txt")
	_ = os.WriteFile(src, []byte("new"), 0o644)

	if err := moveInto(src, dest); err != nil {
		t.Fatalf("moveInto failed: %v", err)
	}
	entries, _ := os.ReadDir(dest)
	if len(entries) != 2 {
		t.Errorf("Expected both files kept, got %d", len(entries))
	}
	if old, _ := os.ReadFile(filepath.Join(dest, "a.txt")); string(old) != "old" {
		t.Error("Existing file was overwritten")
	}
}
