package sync

import "fmt"

// ActionKind is the type of filesystem change applied to the replica.
type ActionKind int

const (
	// CopiedOrUpdated means a source file was copied over a missing or
	// outdated replica file.
	CopiedOrUpdated ActionKind = iota

	// DeletedFile means a replica file without a source counterpart was
	// removed.
	DeletedFile

	// DeletedFolder means an empty replica directory without a source
	// counterpart was removed.
	DeletedFolder
)

func (k ActionKind) String() string {
	switch k {
	case CopiedOrUpdated:
		return "Copied/Updated"
	case DeletedFile:
		return "Deleted file"
	case DeletedFolder:
		return "Deleted folder"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is a single change that a pass applied to the replica.
type Action struct {
	Kind ActionKind

	// Path is slash separated, and relative to the tree roots.
	Path string
}

// String returns the line that's logged for the action, e.g.
// "Copied/Updated: a/x.txt".
func (a Action) String() string {
	return fmt.Sprintf("%s: %s", a.Kind, a.Path)
}

// Result summarizes a reconciliation pass.
type Result struct {
	Actions []Action

	// BytesCopied is the total size of the files copied during the pass.
	BytesCopied int64
}

// Count returns the number of actions of the given kind.
func (r Result) Count(kind ActionKind) (n int) {
	for _, a := range r.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}
