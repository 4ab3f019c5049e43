package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReindexStamp is the file the indexer touches in the persist directory after
// a build. Running servers watch it to drop their cached store handle.
const ReindexStamp = "REINDEX"

// TouchReindex writes the current time to the stamp file in dir.
func TouchReindex(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating persist directory: %w", err)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano) + "\n")
	if err := os.WriteFile(filepath.Join(dir, ReindexStamp), stamp, 0o644); err != nil {
		return fmt.Errorf("writing reindex stamp: %w", err)
	}
	return nil
}

// isReindexEvent reports whether ev signals a finished build.
func isReindexEvent(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != ReindexStamp {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)
}

// WatchReindex invalidates cache whenever the reindex stamp in dir changes.
// It blocks until ctx is cancelled.
func WatchReindex(ctx context.Context, dir string, cache *HandleCache, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating persist directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isReindexEvent(ev) {
				logger.Info("index rebuilt, dropping cached store handle", "dir", dir)
				cache.Invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("reindex watcher error", "error", err)
		}
	}
}
