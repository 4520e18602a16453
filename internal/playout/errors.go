package playout

import (
	"errors"
	"fmt"

	"github.com/nerrad567/playout-core/internal/rundown"
)

// Domain errors for the playout package.
//
// Every error returned by an Engine operation wraps exactly one of the first
// five sentinels, so callers can classify with errors.Is:
//
//	if errors.Is(err, playout.ErrConflict) {
//	    // retry later
//	}
var (
	// ErrNotFound is returned when a rundown, part or instance does not exist.
	ErrNotFound = errors.New("playout: not found")

	// ErrInvalidState is returned when an operation is not permitted in the
	// rundown's current lifecycle phase or hold state.
	ErrInvalidState = errors.New("playout: invalid state")

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("playout: invalid argument")

	// ErrConflict is returned when the request collides with work in progress.
	ErrConflict = errors.New("playout: conflict")

	// ErrInternal is returned when an invariant is violated or storage fails.
	ErrInternal = errors.New("playout: internal error")

	// ErrTransitionInProgress is returned by Take while the current part's
	// in-transition is still running.
	ErrTransitionInProgress = fmt.Errorf("%w: transition in progress", ErrConflict)
)

// storeErr classifies a repository error. Missing documents become
// ErrNotFound, everything else ErrInternal.
func storeErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, rundown.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, msg, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, msg, err)
}
