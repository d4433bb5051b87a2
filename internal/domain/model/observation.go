package model

import "errors"

// ErrUnknownCheckState reports an observation state outside the
// success/pending/error vocabulary. It signals an upstream vocabulary
// change rather than a transient condition, so callers abort the pull
// request's cycle instead of retrying.
var ErrUnknownCheckState = errors.New("unknown check state")

// Observation is the transient remote report of a check's current state at
// evaluation time. It is never persisted.
//
// EventID distinguishes successive failures of the same context: each time
// the check actually re-runs and fails again the host assigns a new id, so
// a repeated observation of an already-counted failure can be told apart
// from a fresh one.
type Observation struct {
	Context string
	State   CheckState
	EventID int64
}
