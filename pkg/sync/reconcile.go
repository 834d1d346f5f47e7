package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

// Mocked out for unit testing.
var copyFile = copyFileImpl

// Reconciler makes a replica directory tree match a source directory tree.
// It holds no state between passes, so the same Reconciler can be reused
// forever.
type Reconciler struct {
	// Log receives an Info entry for each action as soon as it's applied, so
	// that a pass that fails partway still logs the work it did. Optional.
	Log log.FieldLogger

	// Exclude filters paths out of both trees. Optional.
	Exclude *Excluder
}

// Reconcile runs a single pass with the default Reconciler and returns the
// actions it applied.
func Reconcile(source, replica string) ([]Action, error) {
	res, err := Reconciler{}.Reconcile(source, replica)
	return res.Actions, err
}

// Reconcile brings `replica` into agreement with `source`. The pass runs in
// four phases, each of which re-reads the filesystem:
//  1. Create every source directory in the replica.
//  2. Copy every source file whose replica copy is missing or has different
//     contents.
//  3. Delete replica files that don't exist in the source.
//  4. Delete empty replica directories that don't exist in the source,
//     deepest first.
//
// Any filesystem error aborts the pass. The returned Result contains the
// actions applied before the failure, and the next pass picks up from
// wherever this one stopped.
func (r Reconciler) Reconcile(source, replica string) (Result, error) {
	p := &pass{
		Reconciler: r,
		source:     filepath.Clean(source),
		replica:    filepath.Clean(replica),
	}

	srcInfo, err := fs.Stat(p.source)
	if err != nil {
		if os.IsNotExist(err) {
			return p.result, errors.FileNotFound{Path: p.source}
		}
		return p.result, errors.WithContext(err, "stat source")
	}

	if !srcInfo.IsDir() {
		return p.result, errors.NotADirectory{Path: p.source}
	}

	if err := fs.MkdirAll(p.replica, 0755); err != nil {
		return p.result, errors.WithContext(err, "create replica root")
	}

	phases := []struct {
		name string
		run  func() error
	}{
		{"create directories", p.createDirs},
		{"copy files", p.copyFiles},
		{"delete stale files", p.deleteFiles},
		{"delete stale directories", p.deleteDirs},
	}
	for _, phase := range phases {
		if err := phase.run(); err != nil {
			return p.result, errors.WithContext(err, phase.name)
		}
	}
	return p.result, nil
}

// pass holds the progress of a single call to Reconcile.
type pass struct {
	Reconciler
	source, replica string
	result          Result
}

func (p *pass) createDirs() error {
	return p.walk(p.source, func(_, relPath string, fi os.FileInfo) error {
		if !fi.IsDir() {
			return nil
		}

		if err := fs.MkdirAll(p.replicaPath(relPath), 0755); err != nil {
			return errors.WithContext(err, fmt.Sprintf("mkdir %q", relPath))
		}
		return nil
	})
}

func (p *pass) copyFiles() error {
	return p.walk(p.source, func(srcPath, relPath string, fi os.FileInfo) error {
		if !fi.Mode().IsRegular() {
			return nil
		}

		dstPath := p.replicaPath(relPath)
		shouldCopy, err := needsCopy(srcPath, dstPath)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("compare %q", relPath))
		}

		if !shouldCopy {
			return nil
		}

		n, err := copyFile(srcPath, dstPath)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %q", relPath))
		}
		p.result.BytesCopied += n
		p.applied(Action{Kind: CopiedOrUpdated, Path: relPath})
		return nil
	})
}

func (p *pass) deleteFiles() error {
	return p.walk(p.replica, func(path, relPath string, fi os.FileInfo) error {
		if !fi.Mode().IsRegular() {
			return nil
		}

		inSource, err := fileExists(p.sourcePath(relPath))
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("check source of %q", relPath))
		}

		if inSource {
			return nil
		}

		if err := fs.Remove(path); err != nil {
			return errors.WithContext(err, fmt.Sprintf("remove %q", relPath))
		}
		p.applied(Action{Kind: DeletedFile, Path: relPath})
		return nil
	})
}

func (p *pass) deleteDirs() error {
	var dirs []string
	err := p.walk(p.replica, func(_, relPath string, fi os.FileInfo) error {
		if fi.IsDir() {
			dirs = append(dirs, relPath)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Longer paths are usually deeper, so children are considered before
	// their parents.
	sort.SliceStable(dirs, func(i, j int) bool {
		if len(dirs[i]) != len(dirs[j]) {
			return len(dirs[i]) > len(dirs[j])
		}
		return dirs[i] < dirs[j]
	})

	for _, relPath := range dirs {
		inSource, err := afero.DirExists(fs, p.sourcePath(relPath))
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("check source of %q", relPath))
		}

		if inSource {
			continue
		}

		path := p.replicaPath(relPath)
		exists, err := afero.DirExists(fs, path)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("check %q", relPath))
		}

		// An ancestor may have been removed already.
		if !exists {
			continue
		}

		empty, err := afero.IsEmpty(fs, path)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("list %q", relPath))
		}

		// Non-empty directories are retried by the next pass, once their
		// contents are gone.
		if !empty {
			continue
		}

		if err := fs.Remove(path); err != nil {
			return errors.WithContext(err, fmt.Sprintf("remove %q", relPath))
		}
		p.applied(Action{Kind: DeletedFolder, Path: relPath})
	}
	return nil
}

// walk calls fn for every entry below root with its slash separated path
// relative to root. Root itself isn't visited. Excluded entries are skipped,
// including the contents of excluded directories.
func (p *pass) walk(root string, fn func(path, relPath string, fi os.FileInfo) error) error {
	return afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("walk %q", path))
		}

		if path == root {
			return nil
		}

		relPath, err := relativePath(root, path)
		if err != nil {
			return err
		}

		if p.Exclude.Excludes(relPath, fi.IsDir()) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(path, relPath, fi)
	})
}

func (p *pass) applied(action Action) {
	p.result.Actions = append(p.result.Actions, action)
	if p.Log != nil {
		p.Log.Info(action.String())
	}
}

func (p *pass) sourcePath(relPath string) string {
	return filepath.Join(p.source, filepath.FromSlash(relPath))
}

func (p *pass) replicaPath(relPath string) string {
	return filepath.Join(p.replica, filepath.FromSlash(relPath))
}

func relativePath(root, path string) (string, error) {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return "", errors.WithContext(err, "relative path")
	}

	// This shouldn't happen because `path` is always a child of `root`.
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", errors.New("%q is not within %q", path, root)
	}
	return filepath.ToSlash(relPath), nil
}

// fileExists returns whether `path` exists and isn't a directory.
func fileExists(path string) (bool, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

func needsCopy(src, dst string) (bool, error) {
	exists, err := fileExists(dst)
	if err != nil {
		return false, err
	}

	if !exists {
		return true, nil
	}

	equal, err := Equal(src, dst)
	if err != nil {
		return false, err
	}
	return !equal, nil
}

// copyFileImpl overwrites `dst` with the contents of `src`, and returns the
// number of bytes copied. The mode of `src` is only applied when `dst` is
// created.
func copyFileImpl(src, dst string) (int64, error) {
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, errors.WithContext(err, "make parent")
	}

	srcFile, err := fs.Open(src)
	if err != nil {
		return 0, errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return 0, errors.WithContext(err, "stat")
	}

	dstFile, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileInfo.Mode().Perm())
	if err != nil {
		return 0, errors.WithContext(err, "open destination")
	}

	n, err := io.Copy(dstFile, srcFile)
	if err != nil {
		dstFile.Close()
		return n, errors.WithContext(err, "copy")
	}

	if err := dstFile.Close(); err != nil {
		return n, errors.WithContext(err, "close destination")
	}
	return n, nil
}
