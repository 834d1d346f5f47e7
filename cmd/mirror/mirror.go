package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/fswatch"
	"github.com/sidkik/foldersync/pkg/runner"
	"github.com/sidkik/foldersync/pkg/sync"
	"github.com/sidkik/foldersync/pkg/synclog"
)

type options struct {
	configPath string
	exclude    []string
	watch      bool
}

// New creates the root foldersync command, which mirrors the source
// directory into the replica directory until it's interrupted.
func New() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "foldersync <sourcePath> <replicaPath> <logFilePath> <intervalSeconds>",
		Short: "Periodically mirror a directory into a replica directory.",
		Long: heredoc.Doc(`
			Periodically mirror a directory into a replica directory.

			Every interval, the replica is changed to match the source exactly:
			missing and modified files are copied, and files and directories that
			don't exist in the source are deleted. The source is never modified.

			Each change is logged to the console and appended to the log file.
			Failed passes are logged and retried on the next interval.

			Flags must come before the positional arguments, so that a negative
			interval such as -5 isn't read as a flag.`),
		Example: heredoc.Doc(`
			# Mirror ~/docs into /mnt/backup/docs every 60 seconds.
			foldersync ~/docs /mnt/backup/docs /var/log/foldersync.log 60

			# Read the paths from a config file, and skip git metadata.
			foldersync --config ~/.foldersync.yaml --exclude .git/`),
		Args: cobra.ArbitraryArgs,
		Run: func(_ *cobra.Command, args []string) {
			syncConfig, ok, err := parseArgs(args, opts)
			if err != nil {
				util.HandleFatalError(err)
			}

			if !ok {
				fmt.Println(util.Usage)
				return
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, syncConfig, os.Stdout); err != nil && err != context.Canceled {
				util.HandleFatalError(err)
			}
		},
	}

	// Everything after the first positional argument is positional.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&opts.configPath, "config", "",
		"A YAML file with the paths, interval, and exclusions to use. "+
			"Positional arguments override it, including an interval of 0 or less.")
	cmd.Flags().StringArrayVar(&opts.exclude, "exclude", nil,
		"A gitignore-style pattern for paths to leave out of the replica. "+
			"May be repeated.")
	cmd.Flags().BoolVar(&opts.watch, "watch", false,
		"Start a pass as soon as the source changes, rather than waiting for the interval.")
	return cmd
}

// parseArgs builds the SyncConfig from the config file and the command line.
// It returns false if there isn't enough information to start mirroring.
func parseArgs(args []string, opts options) (config.SyncConfig, bool, error) {
	if len(args) < 4 && opts.configPath == "" {
		return config.SyncConfig{}, false, nil
	}

	var fromFile config.SyncConfig
	if opts.configPath != "" {
		var err error
		fromFile, err = config.ParseFile(opts.configPath)
		if err != nil {
			return config.SyncConfig{}, false, errors.WithContext(err, "parse config")
		}
	}

	fromArgs := config.SyncConfig{
		Exclude: opts.exclude,
		Watch:   opts.watch,
	}

	// Arguments past the fourth are ignored.
	positional := []*string{&fromArgs.Source, &fromArgs.Replica, &fromArgs.Log}
	for i, arg := range args {
		switch {
		case i < len(positional):
			*positional[i] = arg
		case i == len(positional):
			fromArgs.IntervalSeconds = parseInterval(arg)
		}
	}
	merged := fromFile.Override(fromArgs)

	// Override treats a zero interval as unset, but an interval given on the
	// command line always wins so that it's validated like any other.
	if len(args) > len(positional) {
		merged.IntervalSeconds = fromArgs.IntervalSeconds
	}
	return merged, true, nil
}

// parseInterval falls back to a one second interval if `arg` isn't a number.
func parseInterval(arg string) int {
	interval, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return config.DefaultIntervalSeconds
	}
	return interval
}

func run(ctx context.Context, syncConfig config.SyncConfig, console io.Writer) error {
	mirror, warnings, err := config.Resolve(syncConfig)
	if err != nil {
		return errors.WithContext(err, "resolve config")
	}

	logger := synclog.New(mirror.LogPath, console)
	logger.SetLevel(log.GetLevel())
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	r := runner.New(mirror, logger)
	if mirror.Watch {
		changes, err := fswatch.Watch(ctx, mirror.SourcePath, sync.NewExcluder(mirror.Exclude))
		if err != nil {
			if strings.Contains(errors.RootCause(err).Error(), "too many open files") {
				logger.Warnf("Too many directories to watch for changes. "+
					"Changes will be mirrored every %s instead.", mirror.Interval)
			} else {
				logger.WithError(err).Warn("Failed to watch the source for changes. " +
					"Changes will only be mirrored on the interval.")
			}
		} else {
			r.WithChanges(changes)
		}
	}
	return r.Run(ctx)
}
