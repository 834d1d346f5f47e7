package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sidkik/foldersync/pkg/errors"
)

const (
	// DefaultReplicaPath is used when no replica path is given.
	DefaultReplicaPath = "Replica"

	// DefaultLogPath is used when no log file path is given.
	DefaultLogPath = "app.log"

	// DefaultIntervalSeconds is used when the interval is missing or not
	// positive.
	DefaultIntervalSeconds = 1
)

// SyncConfig is the user's description of what to mirror, before any
// validation. It's built from command line arguments, a config file, or
// both.
type SyncConfig struct {
	Version         string   `json:"version,omitempty"`
	Source          string   `json:"source"` // Required.
	Replica         string   `json:"replica,omitempty"`
	Log             string   `json:"log,omitempty"`
	IntervalSeconds int      `json:"intervalSeconds,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
	Watch           bool     `json:"watch,omitempty"`
}

// Override returns a copy of `c` where every field that's set in `other`
// replaces the value in `c`. Zero values count as unset.
func (c SyncConfig) Override(other SyncConfig) SyncConfig {
	if other.Source != "" {
		c.Source = other.Source
	}
	if other.Replica != "" {
		c.Replica = other.Replica
	}
	if other.Log != "" {
		c.Log = other.Log
	}
	if other.IntervalSeconds != 0 {
		c.IntervalSeconds = other.IntervalSeconds
	}
	if len(other.Exclude) != 0 {
		c.Exclude = append(append([]string{}, c.Exclude...), other.Exclude...)
	}
	c.Watch = c.Watch || other.Watch
	return c
}

// Mirror is a fully resolved configuration. It's only created by Resolve,
// and isn't modified afterwards.
type Mirror struct {
	SourcePath  string
	ReplicaPath string
	LogPath     string
	Interval    time.Duration
	Exclude     []string
	Watch       bool
}

// Resolve validates `c` and fills in defaults. A missing source is fatal.
// Missing optional fields are replaced by their defaults, and a warning is
// returned for each replacement.
func Resolve(c SyncConfig) (mirror Mirror, warnings []string, err error) {
	if c.Source == "" {
		return Mirror{}, nil, errors.MissingFieldError{Field: "source"}
	}

	replica := c.Replica
	if replica == "" {
		replica = DefaultReplicaPath
		warnings = append(warnings, fmt.Sprintf(
			"replica path is not set, using default: %s", DefaultReplicaPath))
	}

	logPath := c.Log
	if logPath == "" {
		logPath = DefaultLogPath
		warnings = append(warnings, fmt.Sprintf(
			"log file path is not set, using default: %s", DefaultLogPath))
	}

	intervalSeconds := c.IntervalSeconds
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultIntervalSeconds
		warnings = append(warnings, fmt.Sprintf(
			"interval is not set, using default: %d second", DefaultIntervalSeconds))
	}

	mirror = Mirror{
		Interval: time.Duration(intervalSeconds) * time.Second,
		Exclude:  append([]string{}, c.Exclude...),
		Watch:    c.Watch,
	}

	for _, path := range []struct {
		name string
		in   string
		out  *string
	}{
		{"source", c.Source, &mirror.SourcePath},
		{"replica", replica, &mirror.ReplicaPath},
		{"log", logPath, &mirror.LogPath},
	} {
		expanded, err := homedirExpand(path.in)
		if err != nil {
			return Mirror{}, nil, errors.WithContext(err, fmt.Sprintf("expand %s path", path.name))
		}
		*path.out = filepath.Clean(expanded)
	}

	if err := CheckOverlap(mirror.SourcePath, mirror.ReplicaPath); err != nil {
		return Mirror{}, nil, err
	}
	return mirror, warnings, nil
}

// CheckOverlap rejects replicas that share files with the source. Mirroring
// into the source would modify it, and mirroring a parent of the source
// would delete the source's files.
func CheckOverlap(source, replica string) error {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return errors.WithContext(err, "absolute source path")
	}

	absReplica, err := filepath.Abs(replica)
	if err != nil {
		return errors.WithContext(err, "absolute replica path")
	}

	if isWithin(absSource, absReplica) || isWithin(absReplica, absSource) {
		return errors.NewFriendlyError("The replica %q overlaps with the source %q.\n"+
			"The replica must not be the source directory, be inside of it, "+
			"or contain it.", replica, source)
	}
	return nil
}

// isWithin returns whether `path` is `dir` or one of its descendants.
func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
