package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// KeyMapper turns an absolute path below the watched root into an object key.
type KeyMapper func(abs string) (string, bool)

type WatchConfig struct {
	Root     string        // storage root, watched recursively
	Bucket   string        // reported on every event
	Keys     KeyMapper     // required
	Debounce time.Duration // coalesce rapid write/rename bursts
}

// StartWatcher emits an Event for every report or grading object created below
// cfg.Root. Objects already present are left to Dispatcher.Rescan. Both
// channels are closed when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan Event, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" || cfg.Keys == nil {
		logger.Error("watcher.start.failed", "reason", "no root or key mapper")
		return nil, nil, errors.New("watcher: root and key mapper are required")
	}
	evCh := make(chan Event, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("watcher.start.failed", "error", err)
		return nil, nil, err
	}

	toEvent := func(abs string) (Event, bool) {
		if strings.HasPrefix(filepath.Base(abs), ".") {
			return Event{}, false
		}
		key, ok := cfg.Keys(abs)
		if !ok {
			return Event{}, false
		}
		if kind, _ := Classify(key); kind == KindIgnored {
			return Event{}, false
		}
		return Event{Bucket: cfg.Bucket, Key: key}, true
	}

	err = filepath.WalkDir(cfg.Root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		logger.Error("watcher.start.failed", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}
	logger.Info("watcher.started", "root", cfg.Root, "debounce", cfg.Debounce)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() { _ = w.Close() }()

		emit := func(ev Event) bool {
			select {
			case evCh <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		var (
			timer   *time.Timer
			fire    <-chan time.Time
			pending = map[string]Event{}
		)
		flush := func() bool {
			for k, ev := range pending {
				delete(pending, k)
				if !emit(ev) {
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				paths := []string{e.Name}
				if e.Op&fsnotify.Create != 0 {
					paths = append(paths, addIfDir(w, e.Name, logger)...)
				}
				queued := false
				for _, p := range paths {
					if ev, ok := toEvent(p); ok {
						pending[ev.Key] = ev
						queued = true
					}
				}
				if !queued {
					continue
				}
				if cfg.Debounce <= 0 {
					if !flush() {
						return
					}
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if !flush() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// addIfDir starts watching a newly created directory and everything below it.
// Files that landed before the watch took hold are returned.
func addIfDir(w *fsnotify.Watcher, p string, logger *slog.Logger) []string {
	st, err := os.Stat(p)
	if err != nil || !st.IsDir() {
		return nil
	}
	var files []string
	_ = filepath.WalkDir(p, func(sub string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if !d.IsDir() {
			files = append(files, sub)
			return nil
		}
		if err := w.Add(sub); err != nil {
			logger.Warn("watcher.add_dir.failed", "path", sub, "error", err)
		}
		return nil
	})
	return files
}
