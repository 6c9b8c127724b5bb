package core

import "errors"

// State errors abort a run before any document is processed.
var (
	ErrStateExists   = errors.New("topic model state already exists")
	ErrNoState       = errors.New("no topic model state found, run init first")
	ErrModelMismatch = errors.New("embedding model differs from the one the state was built with")
	ErrStateBusy     = errors.New("another run is updating the topic model state")
)

// Persistence errors roll back the whole run.
var (
	ErrPersistence   = errors.New("persistence failure")
	ErrStateConflict = errors.New("topic model state was modified concurrently")
	ErrRunFinalized  = errors.New("run already finalized")
	ErrNotFound      = errors.New("not found")
)

// ErrTransient marks backend failures worth retrying.
var ErrTransient = errors.New("transient backend error")

// IsStateError reports whether err belongs to the state error class.
func IsStateError(err error) bool {
	return errors.Is(err, ErrStateExists) ||
		errors.Is(err, ErrNoState) ||
		errors.Is(err, ErrModelMismatch) ||
		errors.Is(err, ErrStateBusy)
}
