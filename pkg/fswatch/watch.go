package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/sync"
)

var fs = afero.NewOsFs()

// Watch watches for changes within the directory tree at `root`. It sends an
// event on the returned channel whenever a file or directory within the tree
// changes. Bursts of changes are coalesced into a single event.
// Paths matched by `exclude` aren't watched. The watcher is released when
// `ctx` is done.
func Watch(ctx context.Context, root string, exclude *sync.Excluder) (<-chan struct{}, error) {
	pathsToWatch, err := getPathsToWatch(root, exclude)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	go func() {
		<-ctx.Done()
		if err := watcher.Close(); err != nil {
			log.WithError(err).Debug("Failed to close file watcher")
		}
	}()

	go func() {
		for err := range watcher.Errors {
			log.WithError(err).Debug("File watcher error")
		}
	}()

	// fsnotify doesn't watch directories recursively, so directories that
	// are created after we start need to be added as well.
	watchNew := func(path string) {
		paths, err := getPathsToWatch(root, exclude)
		if err != nil {
			log.WithError(err).WithField("path", path).Debug("Failed to list new directories to watch")
			return
		}

		for _, p := range paths {
			if err := watcher.Add(p); err != nil {
				log.WithError(err).WithField("path", p).Debug("Failed to watch new directory")
			}
		}
	}
	return combineUpdates(watcher.Events, watchNew), nil
}

// combineUpdates forwards `updates` into a channel with a buffer of one, so
// that a burst of updates results in a single event for the reader. If
// `onCreate` is non-nil, it's called with the path of each created
// directory.
func combineUpdates(updates <-chan fsnotify.Event, onCreate func(string)) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			if onCreate != nil && event.Op&fsnotify.Create != 0 {
				if isDir, _ := afero.IsDir(fs, event.Name); isDir {
					onCreate(event.Name)
				}
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// getPathsToWatch returns `root` and every directory below it that isn't
// excluded.
func getPathsToWatch(root string, exclude *sync.Excluder) (paths []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.NotADirectory{Path: root}
	}

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if !fi.IsDir() {
			return nil
		}

		if path != root {
			relativePath, err := filepath.Rel(root, path)
			if err != nil {
				// This shouldn't happen because `path` is always a child of `root`.
				return errors.WithContext(err, "normalized path")
			}

			if exclude.Excludes(filepath.ToSlash(relativePath), true) {
				return filepath.SkipDir
			}
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}
