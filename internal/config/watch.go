package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the YAML file at path whenever it is written or replaced and
// passes the result to onChange. It blocks until ctx is cancelled. A reload
// that fails to parse or validate is logged and skipped.
//
// The parent directory is watched so saves that rename a temp file over path
// are seen.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(Config)) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log.Info("watching config for changes", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// A rename-save shows up as Create on the target name.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFrom(path)
			if err != nil {
				log.Error("config reload failed, keeping previous config",
					zap.String("path", path), zap.Error(err))
				continue
			}

			log.Info("config reloaded", zap.String("path", path))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", zap.Error(err))
		}
	}
}
