package sync

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/foldersync/pkg/errors"
)

const (
	srcRoot     = "/source"
	replicaRoot = "/replica"
)

func TestReconcileNewTree(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/a/x.txt", contents: "hi"})
	require.NoError(t, fs.MkdirAll("/source/b", 0755))

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{{Kind: CopiedOrUpdated, Path: "a/x.txt"}}, actions)

	assert.Equal(t, map[string]string{"a/x.txt": "hi"}, readFiles(t, replicaRoot))
	assert.Equal(t, []string{"a", "b"}, readDirs(t, replicaRoot))
}

func TestReconcileDeletesStaleFileThenFolder(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/keep.txt", contents: "keep"})
	mustWrite(t, mockFile{path: "/replica/keep.txt", contents: "keep"})
	mustWrite(t, mockFile{path: "/replica/c/old.txt", contents: "old"})

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{
		{Kind: DeletedFile, Path: "c/old.txt"},
		{Kind: DeletedFolder, Path: "c"},
	}, actions)

	assert.Equal(t, map[string]string{"keep.txt": "keep"}, readFiles(t, replicaRoot))
	assert.Empty(t, readDirs(t, replicaRoot))
}

func TestReconcileDeletesNestedFoldersDeepestFirst(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(srcRoot, 0755))
	require.NoError(t, fs.MkdirAll("/replica/c/d/e", 0755))
	mustWrite(t, mockFile{path: "/replica/c/d/f.txt"})
	mustWrite(t, mockFile{path: "/replica/zz/g.txt"})

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{
		{Kind: DeletedFile, Path: "c/d/f.txt"},
		{Kind: DeletedFile, Path: "zz/g.txt"},
		{Kind: DeletedFolder, Path: "c/d/e"},
		{Kind: DeletedFolder, Path: "c/d"},
		{Kind: DeletedFolder, Path: "zz"},
		{Kind: DeletedFolder, Path: "c"},
	}, actions)
	assert.Empty(t, readFiles(t, replicaRoot))
	assert.Empty(t, readDirs(t, replicaRoot))
}

func TestReconcileKeepsSourceDirectories(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/source/empty", 0755))
	require.NoError(t, fs.MkdirAll("/replica/empty", 0755))
	mustWrite(t, mockFile{path: "/replica/empty/stale.txt"})

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{{Kind: DeletedFile, Path: "empty/stale.txt"}}, actions)
	assert.Equal(t, []string{"empty"}, readDirs(t, replicaRoot))
}

func TestReconcileUpdatesChangedFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/d.txt", contents: "first"})

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{{Kind: CopiedOrUpdated, Path: "d.txt"}}, actions)

	// Same length, different contents.
	mustWrite(t, mockFile{path: "/source/d.txt", contents: "secnd"})
	actions, err = Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{{Kind: CopiedOrUpdated, Path: "d.txt"}}, actions)
	assert.Equal(t, map[string]string{"d.txt": "secnd"}, readFiles(t, replicaRoot))

	actions, err = Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestReconcileIgnoresModTime(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/f", contents: "same",
		modTime: time.Date(2019, 11, 10, 1, 0, 0, 0, time.UTC)})
	mustWrite(t, mockFile{path: "/replica/f", contents: "same",
		modTime: time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC)})

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestReconcileConvergesAndIsIdempotent(t *testing.T) {
	fs = afero.NewMemMapFs()

	// Files that only exist in the source, files that differ, files that
	// match, and files that only exist in the replica.
	for i := 0; i < 20; i++ {
		f := randomFile(mockFile{path: randomPath(srcRoot, i)})
		mustWrite(t, f)

		switch i % 3 {
		case 0:
			mustWrite(t, f.withRoot(replicaRoot))
		case 1:
			mustWrite(t, randomFile(mockFile{path: f.withRoot(replicaRoot).path}))
		}
	}
	for i := 20; i < 30; i++ {
		mustWrite(t, randomFile(mockFile{path: randomPath(replicaRoot, i)}))
	}
	require.NoError(t, fs.MkdirAll("/replica/stale/empty/dir", 0755))

	srcBefore := readFiles(t, srcRoot)
	srcDirsBefore := readDirs(t, srcRoot)

	_, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)

	assert.Equal(t, srcBefore, readFiles(t, replicaRoot))
	assert.Equal(t, srcDirsBefore, readDirs(t, replicaRoot))

	// The source is never modified.
	assert.Equal(t, srcBefore, readFiles(t, srcRoot))
	assert.Equal(t, srcDirsBefore, readDirs(t, srcRoot))

	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestReconcileCountsBytes(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/a", contents: "12345"})
	mustWrite(t, mockFile{path: "/source/b/c", contents: "123"})

	res, err := Reconciler{}.Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.BytesCopied)
	assert.Equal(t, 2, res.Count(CopiedOrUpdated))
	assert.Equal(t, 0, res.Count(DeletedFile))
}

func TestReconcileSourceErrors(t *testing.T) {
	fs = afero.NewMemMapFs()

	_, err := Reconcile(srcRoot, replicaRoot)
	assert.Equal(t, errors.FileNotFound{Path: srcRoot}, err)

	mustWrite(t, mockFile{path: srcRoot})
	_, err = Reconcile(srcRoot, replicaRoot)
	assert.Equal(t, errors.NotADirectory{Path: srcRoot}, err)

	// Nothing was created for the replica.
	exists, err := afero.Exists(fs, replicaRoot)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReconcileFailsPartway(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/a", contents: "a"})
	mustWrite(t, mockFile{path: "/source/b", contents: "b"})
	mustWrite(t, mockFile{path: "/replica/stale", contents: "stale"})

	copyErr := errors.New("disk full")
	copyFile = func(src, dst string) (int64, error) {
		if filepath.Base(src) == "b" {
			return 0, copyErr
		}
		return copyFileImpl(src, dst)
	}
	defer func() { copyFile = copyFileImpl }()

	res, err := Reconciler{}.Reconcile(srcRoot, replicaRoot)
	assert.Equal(t, copyErr, errors.RootCause(err))
	assert.Contains(t, err.Error(), "copy files")
	assert.Equal(t, []Action{{Kind: CopiedOrUpdated, Path: "a"}}, res.Actions)

	// Deletion never ran because the pass aborted.
	assert.Equal(t, map[string]string{"a": "a", "stale": "stale"}, readFiles(t, replicaRoot))

	// The next pass finishes the job.
	copyFile = copyFileImpl
	actions, err := Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{
		{Kind: CopiedOrUpdated, Path: "b"},
		{Kind: DeletedFile, Path: "stale"},
	}, actions)
}

func TestReconcileExcludes(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/main.go", contents: "package main"})
	mustWrite(t, mockFile{path: "/source/.git/config", contents: "[core]"})
	mustWrite(t, mockFile{path: "/source/scratch.tmp", contents: "tmp"})
	mustWrite(t, mockFile{path: "/replica/local.tmp", contents: "local"})
	mustWrite(t, mockFile{path: "/replica/cache/entry.tmp", contents: "cached"})

	r := Reconciler{Exclude: NewExcluder([]string{".git/", "*.tmp"})}
	res, err := r.Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)
	assert.Equal(t, []Action{{Kind: CopiedOrUpdated, Path: "main.go"}}, res.Actions)

	assert.Equal(t, map[string]string{
		"main.go":         "package main",
		"local.tmp":       "local",
		"cache/entry.tmp": "cached",
	}, readFiles(t, replicaRoot))

	// `cache` isn't in the source, but it still holds an excluded file.
	assert.Equal(t, []string{"cache"}, readDirs(t, replicaRoot))
}

func TestReconcileLogsActions(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/source/new", contents: "new"})
	mustWrite(t, mockFile{path: "/replica/old/file", contents: "old"})

	logger, hook := logrusTest.NewNullLogger()
	_, err := Reconciler{Log: logger}.Reconcile(srcRoot, replicaRoot)
	require.NoError(t, err)

	var messages []string
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, logrus.InfoLevel, entry.Level)
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{
		"Copied/Updated: new",
		"Deleted file: old/file",
		"Deleted folder: old",
	}, messages)
}

func TestCopyFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	mustWrite(t, mockFile{path: "/src/hello/world", contents: "srcContents", mode: 0755})
	mustWrite(t, mockFile{path: "/dst/existing", contents: "a much longer existing file"})

	n, err := copyFileImpl("/src/hello/world", "/dst/hello/world")
	require.NoError(t, err)
	assert.Equal(t, int64(len("srcContents")), n)

	dstContents, err := afero.ReadFile(fs, "/dst/hello/world")
	require.NoError(t, err)
	assert.Equal(t, "srcContents", string(dstContents))

	dstFileInfo, err := fs.Stat("/dst/hello/world")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), dstFileInfo.Mode())

	// Overwrites truncate the old contents.
	_, err = copyFileImpl("/src/hello/world", "/dst/existing")
	require.NoError(t, err)
	dstContents, err = afero.ReadFile(fs, "/dst/existing")
	require.NoError(t, err)
	assert.Equal(t, "srcContents", string(dstContents))
}

type mockFile struct {
	path     string
	contents string
	mode     os.FileMode
	modTime  time.Time
}

func (f mockFile) withRoot(root string) mockFile {
	rel, err := filepath.Rel(srcRoot, f.path)
	if err != nil {
		panic(err)
	}
	f.path = filepath.Join(root, rel)
	return f
}

func (f mockFile) writeToFs() error {
	mode := f.mode
	if mode == 0 {
		mode = 0644
	}

	if err := afero.WriteFile(fs, f.path, []byte(f.contents), mode); err != nil {
		return err
	}

	if f.modTime.IsZero() {
		return nil
	}
	return fs.Chtimes(f.path, time.Now(), f.modTime)
}

func mustWrite(t *testing.T, f mockFile) {
	require.NoError(t, fs.MkdirAll(filepath.Dir(f.path), 0755))
	require.NoError(t, f.writeToFs())
}

func randomFile(overrides mockFile) mockFile {
	if overrides.path == "" {
		overrides.path = strconv.Itoa(rand.Int())
	}

	if overrides.contents == "" {
		overrides.contents = strconv.Itoa(rand.Int())
	}

	if overrides.modTime.IsZero() {
		randomTime := time.Date(2019, 11, 10, rand.Intn(23), rand.Intn(59), rand.Intn(59), 0, time.UTC)
		overrides.modTime = randomTime
	}

	if overrides.mode == 0000 {
		overrides.mode = os.FileMode(0640 | rand.Intn(8))
	}
	return overrides
}

// randomPath returns a unique path under root that's nested a few levels deep.
func randomPath(root string, i int) string {
	dirs := []string{"", "a", "a/b", "c/d/e"}
	return filepath.Join(root, dirs[i%len(dirs)], fmt.Sprintf("file-%d", i))
}

// readFiles returns the contents of every file under root, keyed by relative
// path.
func readFiles(t *testing.T, root string) map[string]string {
	files := map[string]string{}
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}

		contents, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(contents)
		return nil
	})
	require.NoError(t, err)
	return files
}

// readDirs returns the sorted relative paths of the directories under root.
func readDirs(t *testing.T, root string) []string {
	var dirs []string
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || !fi.IsDir() || path == root {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		dirs = append(dirs, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(dirs)
	return dirs
}
