package experiment

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNoLocalRepo means an operation requiring a linked local repository was
// invoked before LinkLocal.
var ErrNoLocalRepo = errors.New("no local repository linked")

// InvalidLayoutError means a candidate experiment directory lacks the
// required repository or snapshot subdirectories.
type InvalidLayoutError struct {
	Path   string
	Reason string
}

func (e *InvalidLayoutError) Error() string {
	return fmt.Sprintf("not a valid experiment directory %s: %s", e.Path, e.Reason)
}

// IsInvalidLayout reports whether err (or its cause) is an InvalidLayoutError.
func IsInvalidLayout(err error) bool {
	_, ok := errors.Cause(err).(*InvalidLayoutError)
	return ok
}

// UnknownSnapshotError means a snapshot lookup found nothing. It is
// surfaced to the caller, never silently substituted.
type UnknownSnapshotError struct {
	Experiment string
	UID        string
}

func (e *UnknownSnapshotError) Error() string {
	return fmt.Sprintf("no snapshot %q in experiment %q", e.UID, e.Experiment)
}

// IsUnknownSnapshot reports whether err (or its cause) is an UnknownSnapshotError.
func IsUnknownSnapshot(err error) bool {
	_, ok := errors.Cause(err).(*UnknownSnapshotError)
	return ok
}
