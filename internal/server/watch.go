package server

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce groups bursts of file events into one reload.
const debounce = 200 * time.Millisecond

// watchFiles reloads the project when a YAML file under the project
// directory changes.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, s.opts.ProjectDir); err != nil {
		s.logger.Error("failed to watch project directory", slog.Any("error", err))
		return nil
	}

	reloads := make(chan struct{}, 1)
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchDirRecursive(watcher, event.Name)
				}
			}
			if !isDeclaration(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			name := event.Name
			timer = time.AfterFunc(debounce, func() {
				s.logger.Debug("file changed, reloading project", slog.String("file", name))
				select {
				case reloads <- struct{}{}:
				default:
				}
			})

		case <-reloads:
			if err := s.reload(ctx); err != nil {
				s.logger.Error("reload failed, keeping the previous project", slog.Any("error", err))
				continue
			}
			s.logger.Info("project reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", slog.Any("error", err))
		}
	}
}

func isDeclaration(name string) bool {
	ext := filepath.Ext(name)
	return (ext == ".yml" || ext == ".yaml") && !strings.HasPrefix(filepath.Base(name), ".")
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}
