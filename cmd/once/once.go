package once

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
	"github.com/sidkik/foldersync/pkg/sync"
)

// New creates a new `once` command.
func New() *cobra.Command {
	var exclude []string
	cmd := &cobra.Command{
		Use:   "once <sourcePath> <replicaPath>",
		Short: "Mirror the source into the replica a single time.",
		Long: "Run a single mirroring pass, and print each change that was made.\n" +
			"Exits with a non-zero status if the pass fails.",
		Args: cobra.ExactArgs(2),
		Run: func(_ *cobra.Command, args []string) {
			if err := run(os.Stdout, args[0], args[1], exclude); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringArrayVar(&exclude, "exclude", nil,
		"A gitignore-style pattern for paths to leave out of the replica. "+
			"May be repeated.")
	return cmd
}

func run(out io.Writer, source, replica string, exclude []string) error {
	if err := config.CheckOverlap(source, replica); err != nil {
		return err
	}

	reconciler := sync.Reconciler{Exclude: sync.NewExcluder(exclude)}
	res, err := reconciler.Reconcile(source, replica)

	// Print the actions even if the pass failed, since they were applied.
	for _, action := range res.Actions {
		fmt.Fprintln(out, action)
	}

	if err != nil {
		return errors.WithContext(err, "mirror")
	}

	fmt.Fprintf(out, "Copied %d files (%s), deleted %d files and %d folders.\n",
		res.Count(sync.CopiedOrUpdated), humanize.Bytes(uint64(res.BytesCopied)),
		res.Count(sync.DeletedFile), res.Count(sync.DeletedFolder))
	return nil
}
