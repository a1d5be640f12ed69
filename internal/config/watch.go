// internal/config/watch.go
//
// Filesystem watcher that turns conf/global.yaml edits into Reload() calls.
//
// Editors write config files with a flurry of CREATE/WRITE/RENAME events, so
// changes are debounced before reloading.  A failed reload keeps the previous
// Config in place; the error is logged and the watcher keeps running.
package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounce = 500 * time.Millisecond

// Watch blocks until ctx is cancelled, reloading the configuration whenever
// conf/global.yaml changes on disk.  Call it from a goroutine after the
// first successful Load().
func Watch(ctx context.Context) error {
	cfg := Get()
	if cfg == nil {
		return nil // nothing loaded yet; caller wiring error
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	confDir := filepath.Join(cfg.Paths.Root, "conf")
	if err := w.Add(confDir); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != "global.yaml" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Restart the debounce window on every event in the burst.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			zap.S().Warnw("config watcher error", "err", err)

		case <-fire:
			if err := Reload(); err != nil {
				zap.S().Errorw("config hot-reload failed; keeping previous config", "err", err)
				continue
			}
			zap.S().Infow("config hot-reloaded")
		}
	}
}
