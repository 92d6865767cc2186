package task

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cached definitions when task files change out of
// band (an operator editing tasks/<name>.json by hand while the agent
// runs). It blocks until ctx is cancelled.
//
// Atomic writes from this process also trigger events; invalidating a
// freshly written entry is harmless, the next Get re-reads the file.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create task watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch tasks directory: %w", err)
	}

	s.logger.Info("watching tasks directory", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := taskNameFromPath(event.Name)
			if name == "" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate(name)
				s.logger.Debug("task file changed on disk", "name", name, "op", event.Op.String())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("task watcher error", "error", err)
		}
	}
}

// taskNameFromPath maps a watched file path back to a task name.
// Temp files from atomic writes (dot-prefixed) return "".
func taskNameFromPath(path string) string {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return ""
	}
	return strings.TrimSuffix(base, ".json")
}
