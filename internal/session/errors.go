package session

import "errors"

// Named error conditions surfaced by the engine. Callers distinguish them
// with errors.Is so the UI can render specific guidance instead of a
// generic failure.
var (
	// ErrInvalidInput marks malformed roles, content, or queries. These are
	// caller bugs and are never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown message or index. Many metadata
	// operations degrade to a boolean false instead of returning this.
	ErrNotFound = errors.New("not found")

	// ErrInvalidMessage marks a branch source message that does not exist
	// or has been deleted.
	ErrInvalidMessage = errors.New("invalid source message")

	// ErrBranchNotFound marks an unknown branch id in an operation that
	// requires both endpoints to exist (e.g. merge).
	ErrBranchNotFound = errors.New("branch not found")

	// ErrBranchLimit is returned when creating a branch would exceed the
	// configured ceiling. Existing branches are left untouched.
	ErrBranchLimit = errors.New("branch limit reached")
)
