package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is written. It runs until ctx is cancelled.
//
// If a reload fails (e.g., invalid YAML) the error is logged, the previous
// config stays active and onChange is not called.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return WatchFiles(ctx, []string{path}, func(p string) {
		cfg, err := Load(p)
		if err != nil {
			slog.Error("agent config: reload failed, keeping previous config",
				"path", p, "err", err)
			return
		}
		slog.Info("agent config: reloaded", "path", p)
		onChange(cfg)
	})
}

// WatchFiles calls onChange with the path of every file in paths that is
// written or re-created. It runs until ctx is cancelled.
func WatchFiles(ctx context.Context, paths []string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := make(map[string]string, len(paths))
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			return err
		}
		watched[filepath.Clean(p)] = p
	}

	slog.Info("agent config: watching for changes", "paths", paths)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename (atomic save), so also catch Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p, ok := watched[filepath.Clean(event.Name)]
			if !ok {
				continue
			}

			onChange(p)

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(p)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("agent config: watcher error", "err", err)
		}
	}
}
