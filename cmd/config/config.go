package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/foldersync/cmd/util"
	"github.com/sidkik/foldersync/pkg/config"
	"github.com/sidkik/foldersync/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	parseConfigFile               = config.ParseFile
	getWorkingDirectory           = os.Getwd
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.SyncConfig
	cmd := &cobra.Command{
		Use:   "config [path]",
		Short: "Create a foldersync configuration file",
		Long: "Create a configuration file for `foldersync --config`.\n" +
			"Fields that aren't set by flags are prompted for interactively.\n" +
			"The file is written to " + config.DefaultPath + " by default.",
		Args: cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			path := config.DefaultPath
			if len(args) == 1 {
				path = args[0]
			}

			if err := SetupConfig(path, cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Source, "source", "",
		"Set the source directory in the config. "+
			"Optional: If not set, `foldersync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.Replica, "replica", "",
		"Set the replica directory in the config. "+
			"Optional: If not set, `foldersync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.Log, "log", "",
		"Set the log file in the config. "+
			"Optional: If not set, `foldersync config` will interactively prompt.")
	cmd.Flags().IntVar(&cliOpts.IntervalSeconds, "interval", 0,
		"Set the interval between passes in seconds. "+
			"Optional: If not set, `foldersync config` will interactively prompt.")
	cmd.Flags().StringArrayVar(&cliOpts.Exclude, "exclude", nil,
		"Add a gitignore-style pattern for paths to leave out of the replica. May be repeated.")
	cmd.Flags().BoolVar(&cliOpts.Watch, "watch", false,
		"Start a pass as soon as the source changes.")
	return cmd
}

// SetupConfig generates a config and writes it to `path`.
func SetupConfig(path string, cliOpts config.SyncConfig) error {
	cfg, err := generateConfig(path, cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	// Catch mistakes before they're written, rather than when mirroring
	// starts.
	if _, _, err := config.Resolve(cfg); err != nil {
		return err
	}

	if err := config.WriteFile(path, cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func intervalValidationFn(interval string) (string, bool) {
	if n, err := strconv.Atoi(interval); err != nil || n <= 0 {
		return "The interval must be a whole number of seconds greater than zero.", false
	}
	return "", true
}

func requiredValidationFn(resp string) (string, bool) {
	if strings.TrimSpace(resp) == "" {
		return "This field is required.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is. The answers in the existing config at `path` are offered
// as choices.
func generateConfig(path string, cliOpts config.SyncConfig) (config.SyncConfig, error) {
	currConfig, err := parseConfigFile(path)
	if err != nil {
		currConfig = config.SyncConfig{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := cliOpts
	if len(cfg.Exclude) == 0 {
		cfg.Exclude = currConfig.Exclude
	}

	var intervalStr string
	var prompts []prompt
	if cliOpts.Source == "" {
		var defaultSource string
		if wd, err := getWorkingDirectory(); err == nil {
			defaultSource = wd
		} else {
			log.WithError(err).Info("Failed to guess source directory")
		}

		prompts = append(prompts, prompt{
			helpString: "Enter the path to the source directory.\n" +
				"It's never modified by foldersync.",
			prompt:        "Source directory",
			defaultAnswer: defaultSource,
			currAnswer:    currConfig.Source,
			field:         &cfg.Source,
			validationFn:  requiredValidationFn,
		})
	}

	if cliOpts.Replica == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the path to the replica directory.\n" +
				"Anything in it that isn't in the source directory will be deleted.",
			prompt:        "Replica directory",
			defaultAnswer: config.DefaultReplicaPath,
			currAnswer:    currConfig.Replica,
			field:         &cfg.Replica,
			validationFn:  requiredValidationFn,
		})
	}

	if cliOpts.Log == "" {
		prompts = append(prompts, prompt{
			helpString:    "Enter the path to the log file. Changes are appended to it.",
			prompt:        "Log file",
			defaultAnswer: config.DefaultLogPath,
			currAnswer:    currConfig.Log,
			field:         &cfg.Log,
			validationFn:  requiredValidationFn,
		})
	}

	if cliOpts.IntervalSeconds <= 0 {
		var currInterval string
		if currConfig.IntervalSeconds > 0 {
			currInterval = strconv.Itoa(currConfig.IntervalSeconds)
		}

		prompts = append(prompts, prompt{
			helpString:    "Enter the number of seconds between mirroring passes.",
			prompt:        "Interval",
			defaultAnswer: strconv.Itoa(config.DefaultIntervalSeconds),
			currAnswer:    currInterval,
			field:         &intervalStr,
			validationFn:  intervalValidationFn,
		})
	}

	stdinReader := bufio.NewReader(stdin)
	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(stdinReader, prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.SyncConfig{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	if intervalStr != "" {
		// The validation function already checked that it's a number.
		cfg.IntervalSeconds, _ = strconv.Atoi(intervalStr)
	}
	return cfg, nil
}

func promptUser(stdinReader *bufio.Reader, helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\n"), nil
}
