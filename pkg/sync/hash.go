package sync

import (
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// SetFilesystem replaces the filesystem that the package reads and writes.
// It's used by tests in other packages.
func SetFilesystem(newFs afero.Fs) {
	fs = newFs
}

// HashFile returns the hex encoded md5 digest of the file at the given path.
// The file is streamed, so it's never held in memory.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Equal returns whether the files at `a` and `b` have the same contents.
// Modification times and modes are ignored. A digest collision is treated as
// equality.
func Equal(a, b string) (bool, error) {
	aInfo, err := fs.Stat(a)
	if err != nil {
		return false, errors.WithContext(err, "stat")
	}

	bInfo, err := fs.Stat(b)
	if err != nil {
		return false, errors.WithContext(err, "stat")
	}

	// Files of different sizes can't have the same contents.
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}

	aHash, err := HashFile(a)
	if err != nil {
		return false, errors.WithContext(err, "hash "+a)
	}

	bHash, err := HashFile(b)
	if err != nil {
		return false, errors.WithContext(err, "hash "+b)
	}
	return aHash == bHash, nil
}
