// Package inbox watches a folder and feeds dropped consultation files to a
// handler, one at a time.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/audio"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	defaultSettle = 2 * time.Second
	defaultRetry  = 15 * time.Second
)

// ErrRetry tells the Watcher to leave the file in place and try it again
// later. Handlers wrap it, e.g. while another run holds the lock.
var ErrRetry = errors.New("retry later")

// Handler processes one file. An error moves the file to FailedDir, unless
// it wraps ErrRetry.
type Handler func(ctx context.Context, b audio.Blob) error

// Watcher debounces writes so that a file is handled once its writer is done
// with it.
type Watcher struct {
	dir     string
	handler Handler
	logger  *zap.Logger
	settle  time.Duration
	retry   time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	queue   chan string
	done    chan struct{}
}

// New creates a Watcher for dir.
func New(dir string, handler Handler, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:     dir,
		handler: handler,
		logger:  logger,
		settle:  defaultSettle,
		retry:   defaultRetry,
		pending: make(map[string]*time.Timer),
		queue:   make(chan string, 64),
		done:    make(chan struct{}),
	}
}

// Run watches until ctx is done. Files already in the folder are picked up
// first. Run must be called at most once.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)

	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to prepare inbox: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.touch(filepath.Join(w.dir, e.Name()))
		}
	}

	w.logger.Info("Watching inbox", zap.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.touch(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Inbox watcher error", zap.Error(err))
		case path := <-w.queue:
			w.process(ctx, path)
		}
	}
}

// touch (re)starts the settle timer of path.
func (w *Watcher) touch(path string) {
	if skip(path) {
		return
	}
	w.schedule(path, w.settle)
}

// schedule queues path after delay, pushing back a pending timer.
func (w *Watcher) schedule(path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(delay)
		return
	}
	w.pending[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

// enqueue hands path to Run. It reports false once Run has returned.
func (w *Watcher) enqueue(path string) bool {
	select {
	case w.queue <- path:
		return true
	case <-w.done:
		return false
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

func skip(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part")
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Moved away or already handled.
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("Failed to read inbox file", zap.String("path", path), zap.Error(err))
		return
	}

	b := audio.Blob{
		Data:     data,
		Name:     filepath.Base(path),
		MIMEType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
	}
	logger := w.logger.With(zap.String("file", b.Name))
	logger.Info("Processing inbox file", zap.Int64("size", b.Size()))

	dest := ProcessedDir
	if err := w.handler(ctx, b); err != nil {
		if errors.Is(err, ErrRetry) {
			logger.Info("Inbox file deferred", zap.Duration("retry_in", w.retry), zap.Error(err))
			w.schedule(path, w.retry)
			return
		}
		logger.Error("Inbox file failed", zap.Error(err))
		dest = FailedDir
	}
	if err := moveInto(path, filepath.Join(w.dir, dest)); err != nil {
		logger.Error("Failed to move inbox file", zap.String("to", dest), zap.Error(err))
	}
}

// moveInto renames path into dir, adding a timestamp when the name is taken.
func moveInto(path, dir string) error {
	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(target, ext), time.Now().UnixNano(), ext)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(path, target)
}
