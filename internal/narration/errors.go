package narration

import "errors"

var (
	// ErrNotRunning is returned when the controller loop is not running.
	ErrNotRunning = errors.New("narration controller is not running")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("narration controller is already running")
	// ErrInvalidTransition reports a state change outside the table.
	ErrInvalidTransition = errors.New("invalid narration state transition")
	// ErrMissingDependency is returned by New when a collaborator is nil.
	ErrMissingDependency = errors.New("missing narration dependency")
)
