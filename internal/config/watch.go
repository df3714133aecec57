package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "paperpiper/internal/log"
)

// settleDelay coalesces the burst of events an editor save produces.
const settleDelay = 100 * time.Millisecond

// Watch calls onChange with the re-read config whenever the file at path
// changes, until ctx is cancelled. The parent directory is watched so
// atomic renames (including our own Save) are seen. A file that fails to
// parse is logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		var settle <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				settle = time.After(settleDelay)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				appLog.Warn("config watcher error", "err", err.Error())
			case <-settle:
				settle = nil
				cfg, err := read(abs)
				if err != nil {
					appLog.Warn("config reload skipped", "path", abs, "err", err.Error())
					continue
				}
				appLog.Info("config reloaded", "path", abs, "log_level", cfg.LogLevel)
				onChange(cfg)
			}
		}
	}()
	return nil
}
