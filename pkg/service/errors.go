package service

import "github.com/pkg/errors"

// Engine-level failure sentinels. NotFound and Conflict are storage-level and
// live in pkg/storage; together the five cover every rejected operation.
// A rejected operation is always a no-op on durable state.
var (
	// ErrInvalidState is returned when a transition is attempted on an
	// instance that is no longer active.
	ErrInvalidState = errors.New("instance is not active")

	// ErrNoSuchTransition is returned when no edge matches the given action
	// from the instance's current stage.
	ErrNoSuchTransition = errors.New("no such transition")

	// ErrProcess is returned when an automatic-transition cascade exceeds its
	// hop bound, indicating a cyclic or misconfigured template.
	ErrProcess = errors.New("automatic transition cascade exceeded hop bound")
)
