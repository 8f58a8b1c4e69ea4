package domain

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when a shared-model mutation is attempted before
// the manager has reconciled the document's persisted tile/model graph.
// Callers should treat it as a deferral signal, not a failure: retry once
// readiness changes.
var ErrNotReady = errors.New("shared model manager not ready")

// ValidationError reports an operation refused because it would violate a
// caller-level policy or a structural invariant. Prior state is unchanged.
type ValidationError struct {
	Entity EntityType
	ID     string
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: invalid %s: %s", e.Entity, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid %s: %s", e.Entity, e.Field, e.Reason)
}

// NotFoundError is returned when an operation names an entity that does not
// exist and the operation cannot be treated as a silent no-op (e.g. merge
// with a missing source).
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
