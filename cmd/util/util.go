package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/foldersync/pkg/errors"
)

// Usage is printed when foldersync is run without enough arguments.
const Usage = "Usage: foldersync <sourcePath> <replicaPath> <logFilePath> <intervalSeconds>"

var (
	// Mocked out for unit testing.
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic prints the panic and exits. It must be deferred directly by
// the function that may panic.
func HandlePanic() {
	if r := recover(); r != nil {
		fmt.Fprintf(stderr, "foldersync crashed: %v\n\n%s", r, debug.Stack())
		exit(1)
	}
}
