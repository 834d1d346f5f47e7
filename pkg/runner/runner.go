package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/sync"
)

// Runner repeatedly mirrors the source tree into the replica tree.
type Runner struct {
	mirror     config.Mirror
	reconciler sync.Reconciler
	clock      clockwork.Clock
	log        logrus.FieldLogger

	// changes wakes the runner before the interval elapses. It may be nil.
	changes <-chan struct{}

	// Mocked out for unit testing.
	reconcile func(source, replica string) (sync.Result, error)
}

// New creates a Runner for `mirror` that logs to `log`. Reconciliation
// actions are logged as they're applied.
func New(mirror config.Mirror, log logrus.FieldLogger) *Runner {
	reconciler := sync.Reconciler{
		Log:     log,
		Exclude: sync.NewExcluder(mirror.Exclude),
	}

	return &Runner{
		mirror:     mirror,
		reconciler: reconciler,
		clock:      clockwork.NewRealClock(),
		log:        log,
		reconcile:  reconciler.Reconcile,
	}
}

// WithChanges makes the runner start a pass as soon as `changes` fires,
// rather than waiting out the rest of the interval.
func (r *Runner) WithChanges(changes <-chan struct{}) *Runner {
	r.changes = changes
	return r
}

// Run runs passes until `ctx` is cancelled. A failed pass is logged, and the
// next pass runs after the usual interval. The context is only checked
// between passes.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting synchronization...")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := r.RunOnce(ctx); err != nil {
			r.log.WithError(err).Error("Error during synchronization")
		}

		timer := r.clock.NewTimer(r.mirror.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-r.changes:
			timer.Stop()
			r.log.Debug("Source changed, starting pass early")
		case <-timer.Chan():
		}
	}
}

// RunOnce runs a single pass. Panics during the pass are returned as
// errors.
func (r *Runner) RunOnce(ctx context.Context) (res sync.Result, err error) {
	if err := ctx.Err(); err != nil {
		return sync.Result{}, err
	}

	passLog := r.log.WithField("pass", uuid.New().String())
	start := r.clock.Now()

	defer func() {
		if p := recover(); p != nil {
			passLog.WithField("stack", string(debug.Stack())).Debug("Recovered from panic")
			err = errors.New("panic during pass: %v", p)
		}
	}()

	res, err = r.reconcile(r.mirror.SourcePath, r.mirror.ReplicaPath)
	passLog.WithFields(logrus.Fields{
		"copied":   res.Count(sync.CopiedOrUpdated),
		"deleted":  res.Count(sync.DeletedFile) + res.Count(sync.DeletedFolder),
		"bytes":    humanize.Bytes(uint64(res.BytesCopied)),
		"duration": r.clock.Since(start).Round(time.Millisecond).String(),
	}).Debug(summarize(res))
	return res, err
}

func summarize(res sync.Result) string {
	if len(res.Actions) == 0 {
		return "Pass finished, replica is up to date"
	}
	return fmt.Sprintf("Pass finished, applied %d %s",
		len(res.Actions), plural(len(res.Actions), "change", "changes"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
