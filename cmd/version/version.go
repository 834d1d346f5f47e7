package version

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of foldersync.",
		Long:  "Print the version of foldersync, as a git tag or commit hash.",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			run(os.Stdout)
		},
	}
}

func run(out io.Writer) {
	v := version.Version
	if !version.IsRelease() {
		v += " (development build)"
	}
	fmt.Fprintf(out, "foldersync version: %s\n", v)
}
