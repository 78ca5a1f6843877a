package mutate

import (
	"fmt"

	"github.com/example/ideaboard/internal/types"
)

// ValidationError rejects a mutation before any state change: a required
// field is empty or a referenced entity is absent from the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// AuthorizationError rejects a delete before any state change because the
// requester does not own the entity.
type AuthorizationError struct {
	Requester types.ActorID
	Owner     types.ActorID
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s is not the author (%s)", e.Requester, e.Owner)
}

// RemoteError reports a backend call that failed after the optimistic
// mutation was applied. By the time the caller sees it the rollback has
// completed, so the store already reads as if the action never happened.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
