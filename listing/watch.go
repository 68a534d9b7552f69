package listing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"web/estatemap/cluster"
	"web/estatemap/logging"
)

// watchDebounce absorbs the burst of events editors emit for one save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes on disk and passes the new points
// to onChange. Files that fail to load are logged and skipped. The
// directory is watched rather than the file so atomic renames are seen.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger logging.Logger, onChange func([]cluster.Point)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("listing: watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("listing: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("listing: watch %s: %w", path, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("listing watcher error", logging.Err(err))
		case <-fire:
			fire = nil
			points, err := LoadFile(abs)
			if err != nil {
				logger.Warn("reload listings failed", logging.String("path", abs), logging.Err(err))
				continue
			}
			logger.Info("listings reloaded", logging.String("path", abs), logging.Int("points", len(points)))
			onChange(points)
		}
	}
}
