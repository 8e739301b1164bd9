package config

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/taskdeck-ai/taskdeck/internal/logging"
)

// Watch reloads configuration when a config file in dir changes and calls
// onChange with the fresh config. It returns when ctx is cancelled.
func Watch(ctx context.Context, dir string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(ConfigDir()); err != nil {
		logging.Warn().Err(err).Str("dir", ConfigDir()).Msg("cannot watch config dir")
	}
	if dir != "" {
		if err := watcher.Add(dir); err != nil {
			logging.Warn().Err(err).Str("dir", dir).Msg("cannot watch project dir")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasPrefix(name, "taskdeck.") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(dir)
			if err != nil {
				logging.Warn().Err(err).Msg("config reload failed")
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(err).Msg("config watcher error")
		}
	}
}
