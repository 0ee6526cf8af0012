package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"stashd/internal/logging"
)

// WatchFile re-applies the configuration file whenever it is rewritten.
// Editors and config management tools typically replace the file, so the
// watch is placed on the parent directory and filtered by name. The watcher
// stops when ctx is cancelled.
func (s *Store) WatchFile(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "config-watch")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if err := s.LoadFile(abs); err != nil {
					logger.Warn("config reload failed", logging.Error(err))
					continue
				}
				logger.Info("configuration reloaded", logging.String("path", abs))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", logging.Error(err))
			}
		}
	}()
	return nil
}
