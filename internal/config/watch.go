// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Becca-90/SLSA-beach-analysis/internal/log"
)

// Watch observes the config file and invokes onChange with the freshly loaded
// configuration whenever it is rewritten. Editors and orchestrators replace
// files via rename, so the parent directory is watched rather than the file.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path, version string, onChange func(AppConfig)) error {
	logger := log.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close config watcher")
		}
	}()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	// Debounce: editors emit bursts of events per save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			cfg, err := NewLoader(path, version).Load()
			if err != nil {
				logger.Error().
					Err(err).
					Str("event", "config.reload_failed").
					Str("path", path).
					Msg("config reload failed, keeping previous configuration")
				continue
			}
			logger.Info().
				Str("event", "config.reloaded").
				Str("path", path).
				Msg("configuration reloaded")
			onChange(cfg)
		}
	}
}
