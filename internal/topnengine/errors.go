package topnengine

import "errors"

var (
	// ErrConfig marks a malformed Config passed to New.
	ErrConfig = errors.New("topnengine: invalid configuration")
	// ErrInternal marks an invariant violation inside the engine or
	// driver — state that should be unreachable given the contract
	// callers are expected to uphold.
	ErrInternal = errors.New("topnengine: internal invariant violation")
)
