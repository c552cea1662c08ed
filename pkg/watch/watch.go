// Package watch reports debounced file system changes under a set of paths.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay is the quiet period before a batch of changes is reported.
const DefaultDelay = 500 * time.Millisecond

// Watcher collects file system events and reports them in batches once the
// paths have been quiet for the configured delay.
type Watcher struct {
	logger  zerolog.Logger
	delay   time.Duration
	watcher *fsnotify.Watcher

	// files are watched through their parent directory; editors replace
	// files on save, which drops a watch on the file itself.
	files map[string]bool
	dirs  map[string]bool

	// Match filters event paths. Nil matches everything.
	Match func(path string) bool

	// Skip prunes directories from recursive watches.
	Skip func(dir string) bool
}

// New creates a watcher.
func New(logger zerolog.Logger, delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		logger:  logger.With().Str("component", "watcher").Logger(),
		delay:   delay,
		watcher: w,
		files:   make(map[string]bool),
		dirs:    make(map[string]bool),
	}, nil
}

// Add watches files and directory trees.
func (w *Watcher) Add(paths ...string) error {
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if !info.IsDir() {
			w.files[abs] = true
			if err := w.addDir(filepath.Dir(abs)); err != nil {
				return err
			}
			continue
		}

		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if p != abs && w.Skip != nil && w.Skip(p) {
				return filepath.SkipDir
			}
			w.dirs[p] = true
			return w.addDir(p)
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	return nil
}

func (w *Watcher) addDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return nil
}

// relevant reports whether an event path belongs to a watched file or tree.
func (w *Watcher) relevant(path string) bool {
	if !w.files[path] && !w.dirs[filepath.Dir(path)] {
		return false
	}
	return w.Match == nil || w.Match(path)
}

// Run blocks until ctx is done, calling onChange with the sorted set of
// changed paths after each quiet period. Calls never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	defer w.watcher.Close()

	pending := map[string]bool{}
	timer := time.NewTimer(w.delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// New directories inside a watched tree are watched too.
			if event.Op&fsnotify.Create != 0 && w.dirs[filepath.Dir(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && (w.Skip == nil || !w.Skip(event.Name)) {
					w.dirs[event.Name] = true
					if err := w.addDir(event.Name); err != nil {
						w.logger.Warn().Err(err).Msg("failed to watch new directory")
					}
					continue
				}
			}

			if !w.relevant(event.Name) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("file changed")
			pending[event.Name] = true
			timer.Reset(w.delay)

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = map[string]bool{}
			onChange(ctx, changed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// Close stops the watcher without waiting for Run.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
