// Package toggle computes idempotent set-membership flips for vote and like
// semantics. It is the single source of truth for optimistic local toggles;
// authoritative events carry full replacement sets and never pass through it.
package toggle

import (
	"slices"

	"github.com/example/ideaboard/internal/types"
)

// Result is the outcome of applying a toggle to a membership set.
type Result struct {
	Set   []types.ActorID
	Count int
	Delta int
}

// Apply flips the actor's membership: a member is removed (delta -1), a
// non-member is added (delta +1). The input is never mutated and the returned
// set is kept sorted so two equal memberships compare equal regardless of the
// order toggles were applied in. Applying the same actor twice restores the
// original set.
func Apply(set []types.ActorID, actor types.ActorID) Result {
	idx, member := slices.BinarySearch(set, actor)

	var next []types.ActorID
	if member {
		next = make([]types.ActorID, 0, len(set)-1)
		next = append(next, set[:idx]...)
		next = append(next, set[idx+1:]...)
		return Result{Set: next, Count: len(next), Delta: -1}
	}

	next = make([]types.ActorID, 0, len(set)+1)
	next = append(next, set[:idx]...)
	next = append(next, actor)
	next = append(next, set[idx:]...)
	return Result{Set: next, Count: len(next), Delta: 1}
}

// Contains reports whether the actor is a member of the set. The set must be
// sorted, which every set produced by Apply is.
func Contains(set []types.ActorID, actor types.ActorID) bool {
	_, member := slices.BinarySearch(set, actor)
	return member
}
