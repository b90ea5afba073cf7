package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchProvider watches the provider override file and invokes onChange
// with the freshly parsed contents whenever it is written. Runs until the
// watcher fails; intended to be started as a goroutine from main.
func WatchProvider(filePath string, onChange func(*Provider)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("failed to create provider file watcher", "error", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		slog.Warn("failed to resolve provider file path", "path", filePath, "error", err)
		return
	}

	// Watching the directory is more reliable than watching the file
	// directly: editors often replace files instead of writing in place.
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		slog.Warn("failed to watch provider directory", "dir", dir, "error", err)
		return
	}

	slog.Info("watching provider file for changes", "path", filePath)

	// Debounce rapid successive writes into one reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				p, err := LoadProvider(absPath)
				if err != nil {
					slog.Warn("provider file reload failed", "path", filePath, "error", err)
					return
				}
				slog.Info("provider file reloaded", "path", filePath, "model", p.Model)
				onChange(p)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("provider file watcher error", "error", err)
		}
	}
}
