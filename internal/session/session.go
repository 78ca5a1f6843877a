// Package session ties one client engine instance together: the entity
// store, the mutation executor and the change ingest loops for a single
// signed-in actor. It replaces the module-level globals of ad hoc clients
// with an explicit lifecycle: created at sign-in, torn down with Close.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/ingest"
	"github.com/example/ideaboard/internal/mutate"
	"github.com/example/ideaboard/internal/store"
	"github.com/example/ideaboard/internal/types"
)

// Session is one live reconciliation engine. The embedded store is safe to
// read from the presentation layer; all writes go through the executor or
// arrive via ingest.
type Session struct {
	actor  types.ActorID
	store  *store.Store
	exec   *mutate.Executor
	ingest *ingest.Ingestor
	logger zerolog.Logger
}

// Open seeds the store from the backend and starts the ingest loops. Ideas
// are seeded before comments so every comment's foreign key resolves. The
// returned session must be closed to release its push subscriptions.
func Open(ctx context.Context, remote backend.Client, actor types.ActorID, logger zerolog.Logger) (*Session, error) {
	st := store.New()

	ideas, err := remote.QueryIdeas(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed ideas: %w", err)
	}
	for _, idea := range ideas {
		st.UpsertIdea(idea)
	}

	comments, err := remote.QueryComments(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed comments: %w", err)
	}
	for _, comment := range comments {
		if _, ok := st.GetIdea(comment.IdeaID); !ok {
			logger.Warn().Str("comment", string(comment.ID)).Str("idea", string(comment.IdeaID)).Msg("skipping seeded comment without idea")
			continue
		}
		st.UpsertComment(comment)
	}

	s := &Session{
		actor:  actor,
		store:  st,
		exec:   mutate.NewExecutor(st, remote, logger),
		ingest: ingest.New(st, remote, logger),
		logger: logger,
	}
	s.ingest.Start(ctx)

	logger.Info().Str("actor", string(actor)).Int("ideas", len(ideas)).Int("comments", len(comments)).Msg("session opened")
	return s, nil
}

// Actor returns the signed-in actor id.
func (s *Session) Actor() types.ActorID { return s.actor }

// Store exposes the session's entity store for reads and observer
// registration.
func (s *Session) Store() *store.Store { return s.store }

// CreateIdea submits a new idea authored by the session actor.
func (s *Session) CreateIdea(ctx context.Context, title, description string) (types.Idea, error) {
	return s.exec.CreateIdea(ctx, title, description, s.actor)
}

// DeleteIdea deletes an idea the session actor owns.
func (s *Session) DeleteIdea(ctx context.Context, id types.IdeaID) error {
	return s.exec.DeleteIdea(ctx, id, s.actor)
}

// ToggleVote flips the session actor's vote on an idea.
func (s *Session) ToggleVote(ctx context.Context, id types.IdeaID) (types.Idea, error) {
	return s.exec.ToggleVote(ctx, id, s.actor)
}

// CreateComment submits a comment under an idea.
func (s *Session) CreateComment(ctx context.Context, ideaID types.IdeaID, text string) (types.Comment, error) {
	return s.exec.CreateComment(ctx, ideaID, text, s.actor)
}

// DeleteComment deletes a comment the session actor owns.
func (s *Session) DeleteComment(ctx context.Context, id types.CommentID) error {
	return s.exec.DeleteComment(ctx, id, s.actor)
}

// ToggleLike flips the session actor's like on a comment.
func (s *Session) ToggleLike(ctx context.Context, id types.CommentID) (types.Comment, error) {
	return s.exec.ToggleLike(ctx, id, s.actor)
}

// Close releases the push subscriptions. The store remains readable but will
// no longer converge.
func (s *Session) Close() {
	s.ingest.Close()
	s.logger.Info().Str("actor", string(s.actor)).Msg("session closed")
}
