// Package synclog is the log sink for mirroring. Every entry is printed to
// the console and appended to a plain text log file as
// `[<local timestamp>] <message>`.
package synclog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// TimestampFormat is the layout of the timestamp that prefixes each line.
const TimestampFormat = "2006-01-02 15:04:05"

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// New returns a logger that writes to `console` and appends to the log file
// at `logPath`.
func New(logPath string, console io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(console)
	logger.SetFormatter(&LineFormatter{WithFields: true})
	logger.AddHook(NewFileHook(logPath))
	return logger
}

// LineFormatter formats entries as a single human readable line. If the
// entry has an error, it's appended to the message.
type LineFormatter struct {
	// WithFields appends the remaining fields as sorted key=value pairs.
	WithFields bool
}

// Format implements logrus.Formatter.
func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "[%s] %s", entry.Time.Local().Format(TimestampFormat), entry.Message)
	if err, ok := entry.Data[logrus.ErrorKey]; ok {
		fmt.Fprintf(&b, ": %v", err)
	}

	if f.WithFields {
		var keys []string
		for k := range entry.Data {
			if k != logrus.ErrorKey {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// FileHook appends every entry to a log file. Writing is best effort: Fire
// never returns an error, since that would make logrus print to stderr on
// every entry, and the sync loop must keep going even if the log file is
// unwritable.
type FileHook struct {
	path      string
	formatter logrus.Formatter

	// errOut is where the hook reports that it started failing. Only the
	// first failure in a row is reported.
	errOut io.Writer

	lock    sync.Mutex
	failing bool
}

// NewFileHook creates a hook that appends to the file at `path`. The file
// and its parent directory are created if they don't exist.
func NewFileHook(path string) *FileHook {
	return &FileHook{
		path:      path,
		formatter: &LineFormatter{},
		errOut:    os.Stderr,
	}
}

// Levels implements logrus.Hook.
func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *FileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return nil
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if err := appendFile(h.path, line); err != nil {
		if !h.failing {
			fmt.Fprintf(h.errOut, "Failed to write to log file %q: %s. "+
				"Log lines will be dropped until it's writable again.\n", h.path, err)
		}
		h.failing = true
		return nil
	}
	h.failing = false
	return nil
}

// Path returns the path of the log file.
func (h *FileHook) Path() string {
	return h.path
}

func appendFile(path string, contents []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
