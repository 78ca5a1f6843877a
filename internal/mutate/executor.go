// Package mutate orchestrates user-initiated changes. Every mutation kind
// follows the same contract: validate, snapshot, apply optimistically to the
// entity store, issue the remote call, and on failure restore the retained
// snapshot exactly. Failures are returned to the caller, never swallowed and
// never retried; repeating the action is a fresh mutation.
package mutate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/store"
	"github.com/example/ideaboard/internal/toggle"
	"github.com/example/ideaboard/internal/types"
)

// Executor applies mutations to the store and reconciles them against the
// backend. The optimistic apply fires store notifications before the remote
// call is issued, so observers see the change with zero perceived latency;
// the method itself blocks until the remote call settles.
type Executor struct {
	store  *store.Store
	remote backend.Client
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the timestamp source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor constructs an executor over the given store and backend.
func NewExecutor(st *store.Store, remote backend.Client, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		store:  st,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateIdea validates the title, inserts the idea optimistically under a
// client-generated id, and confirms it against the backend. On remote failure
// the optimistic insert is removed before the error returns.
func (e *Executor) CreateIdea(ctx context.Context, title, description string, author types.ActorID) (types.Idea, error) {
	if strings.TrimSpace(title) == "" {
		mutations.WithLabelValues("create_idea", outcomeRejected).Inc()
		return types.Idea{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	idea := types.Idea{
		ID:          types.IdeaID(uuid.NewString()),
		Title:       title,
		Description: description,
		AuthorID:    author,
		CreatedAt:   e.now().UTC(),
	}

	e.store.UpsertIdea(idea)
	start := time.Now()

	if err := e.remote.InsertIdea(ctx, idea); err != nil {
		e.store.RemoveIdea(idea.ID)
		e.rolledBack("create_idea", string(idea.ID), err)
		return types.Idea{}, &RemoteError{Op: "insert idea", Err: err}
	}

	e.confirmed("create_idea", start)
	return idea, nil
}

// DeleteIdea removes the idea after an ownership check. The pre-mutation
// snapshot, including the comments the removal cascades over, is retained
// until the remote call settles and re-inserted exactly on failure. Deleting
// an id the store no longer has succeeds: it is indistinguishable from a
// delete that already arrived from another client.
func (e *Executor) DeleteIdea(ctx context.Context, id types.IdeaID, requester types.ActorID) error {
	idea, ok := e.store.GetIdea(id)
	if !ok {
		mutations.WithLabelValues("delete_idea", outcomeNoop).Inc()
		e.logger.Debug().Str("idea", string(id)).Msg("delete of absent idea treated as success")
		return nil
	}
	if idea.AuthorID != requester {
		mutations.WithLabelValues("delete_idea", outcomeRejected).Inc()
		return &AuthorizationError{Requester: requester, Owner: idea.AuthorID}
	}

	comments := e.store.ListComments(id)
	e.store.RemoveIdea(id)
	start := time.Now()

	if err := e.remote.DeleteIdea(ctx, id); err != nil {
		e.store.UpsertIdea(idea)
		for _, comment := range comments {
			e.store.UpsertComment(comment)
		}
		e.rolledBack("delete_idea", string(id), err)
		return &RemoteError{Op: "delete idea", Err: err}
	}

	e.confirmed("delete_idea", start)
	return nil
}

// ToggleVote flips the actor's vote on an idea. The new counter and voter set
// are written to the store immediately and carried whole on the remote
// update; the pre-toggle snapshot is written back on failure.
func (e *Executor) ToggleVote(ctx context.Context, ideaID types.IdeaID, actor types.ActorID) (types.Idea, error) {
	before, ok := e.store.GetIdea(ideaID)
	if !ok {
		mutations.WithLabelValues("toggle_vote", outcomeRejected).Inc()
		return types.Idea{}, &ValidationError{Field: "idea_id", Reason: "idea not present"}
	}

	after := before.Clone()
	res := toggle.Apply(after.Voters, actor)
	after.Voters = res.Set
	after.VoteCount = res.Count

	e.store.UpsertIdea(after)
	start := time.Now()

	if err := e.remote.UpdateIdea(ctx, after); err != nil {
		e.store.UpsertIdea(before)
		e.rolledBack("toggle_vote", string(ideaID), err)
		return types.Idea{}, &RemoteError{Op: "update idea", Err: err}
	}

	e.confirmed("toggle_vote", start)
	return after, nil
}

// CreateComment validates the text and the referenced idea, then follows the
// optimistic-insert-then-confirm pattern of CreateIdea.
func (e *Executor) CreateComment(ctx context.Context, ideaID types.IdeaID, text string, author types.ActorID) (types.Comment, error) {
	if strings.TrimSpace(text) == "" {
		mutations.WithLabelValues("create_comment", outcomeRejected).Inc()
		return types.Comment{}, &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if _, ok := e.store.GetIdea(ideaID); !ok {
		mutations.WithLabelValues("create_comment", outcomeRejected).Inc()
		return types.Comment{}, &ValidationError{Field: "idea_id", Reason: "idea not present"}
	}

	comment := types.Comment{
		ID:        types.CommentID(uuid.NewString()),
		IdeaID:    ideaID,
		Text:      text,
		AuthorID:  author,
		CreatedAt: e.now().UTC(),
	}

	e.store.UpsertComment(comment)
	start := time.Now()

	if err := e.remote.InsertComment(ctx, comment); err != nil {
		e.store.RemoveComment(comment.ID)
		e.rolledBack("create_comment", string(comment.ID), err)
		return types.Comment{}, &RemoteError{Op: "insert comment", Err: err}
	}

	e.confirmed("create_comment", start)
	return comment, nil
}

// DeleteComment removes a comment under the same ownership and rollback
// discipline as DeleteIdea.
func (e *Executor) DeleteComment(ctx context.Context, id types.CommentID, requester types.ActorID) error {
	comment, ok := e.store.GetComment(id)
	if !ok {
		mutations.WithLabelValues("delete_comment", outcomeNoop).Inc()
		e.logger.Debug().Str("comment", string(id)).Msg("delete of absent comment treated as success")
		return nil
	}
	if comment.AuthorID != requester {
		mutations.WithLabelValues("delete_comment", outcomeRejected).Inc()
		return &AuthorizationError{Requester: requester, Owner: comment.AuthorID}
	}

	e.store.RemoveComment(id)
	start := time.Now()

	if err := e.remote.DeleteComment(ctx, id); err != nil {
		e.store.UpsertComment(comment)
		e.rolledBack("delete_comment", string(id), err)
		return &RemoteError{Op: "delete comment", Err: err}
	}

	e.confirmed("delete_comment", start)
	return nil
}

// ToggleLike flips the actor's like on a comment, mirroring ToggleVote.
func (e *Executor) ToggleLike(ctx context.Context, commentID types.CommentID, actor types.ActorID) (types.Comment, error) {
	before, ok := e.store.GetComment(commentID)
	if !ok {
		mutations.WithLabelValues("toggle_like", outcomeRejected).Inc()
		return types.Comment{}, &ValidationError{Field: "comment_id", Reason: "comment not present"}
	}

	after := before.Clone()
	res := toggle.Apply(after.LikedBy, actor)
	after.LikedBy = res.Set
	after.LikeCount = res.Count

	e.store.UpsertComment(after)
	start := time.Now()

	if err := e.remote.UpdateComment(ctx, after); err != nil {
		e.store.UpsertComment(before)
		e.rolledBack("toggle_like", string(commentID), err)
		return types.Comment{}, &RemoteError{Op: "update comment", Err: err}
	}

	e.confirmed("toggle_like", start)
	return after, nil
}

func (e *Executor) confirmed(kind string, start time.Time) {
	mutations.WithLabelValues(kind, outcomeConfirmed).Inc()
	confirmLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (e *Executor) rolledBack(kind, id string, cause error) {
	mutations.WithLabelValues(kind, outcomeRolledBack).Inc()
	e.logger.Warn().Err(cause).Str("kind", kind).Str("entity", id).Msg("remote call failed; optimistic state rolled back")
}
