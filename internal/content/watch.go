package content

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the pack in dir whenever one of its YAML files changes and
// hands the new store to onReload. A pack that fails to load is logged and
// the previous store stays in service. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, log *zap.Logger, onReload func(*Store), opts ...LoadOption) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("content watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch filepath.Ext(ev.Name) {
			case ".yaml", ".yml":
			default:
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("content watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			store, err := LoadDir(dir, opts...)
			if err != nil {
				log.Error("content reload failed", zap.String("dir", dir), zap.Error(err))
				continue
			}
			for _, warning := range store.Warnings() {
				log.Warn("content warning", zap.String("issue", warning))
			}
			log.Info("content reloaded", zap.String("dir", dir), zap.Int("trees", len(store.Trees())))
			onReload(store)
		}
	}
}
