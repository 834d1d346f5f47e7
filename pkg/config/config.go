package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/foldersync/pkg/errors"
)

const (
	// InitialConfigVersion is the first version of the config file format.
	// Config files that do not specify a version will default to this
	// version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config file version understood by this
	// binary.
	SupportedConfigVersion = "v1alpha1"
)

// parseConfigErrTemplate is a template for when we fail to parse yaml
// configuration files. This can happen for a multitude of reasons, including
// extraneous fields and incorrect field types. However, the yaml library
// constructs errors in a way that loses context, and so we can only pass the
// error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of foldersync.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// ParseFile reads a SyncConfig from the yaml file at `path`.
func ParseFile(path string) (SyncConfig, error) {
	path, err := homedirExpand(path)
	if err != nil {
		return SyncConfig{}, errors.WithContext(err, "expand config path")
	}

	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return SyncConfig{}, errors.FileNotFound{Path: path}
		}
		return SyncConfig{}, errors.WithContext(err, "read file")
	}

	config := SyncConfig{Version: InitialConfigVersion}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return SyncConfig{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if config.Version != SupportedConfigVersion {
		return SyncConfig{}, incompatibleVersionError{path, SupportedConfigVersion, config.Version}
	}

	// Do a strict unmarshal to check for any extra fields. We do a non-strict
	// unmarshal first so that we can catch version errors before erroring on
	// extra fields.
	if err := yaml.UnmarshalStrict(configBytes, &config, yaml.DisallowUnknownFields); err != nil {
		return SyncConfig{}, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return config, nil
}

// DefaultPath is where `foldersync config` writes the config file if no
// path is given.
const DefaultPath = "~/.foldersync.yaml"

// WriteFile writes `config` to the yaml file at `path`, replacing any
// existing file.
func WriteFile(path string, config SyncConfig) error {
	path, err := homedirExpand(path)
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	config.Version = SupportedConfigVersion
	yamlBytes, err := yaml.Marshal(config)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}
