// Package backend declares the interface the reconciliation engine expects
// from its storage collaborator: a CRUD surface per collection plus a push
// channel delivering change notifications for every committed write, the
// initiating client's included. Delivery is at-least-once; consumers must
// tolerate replays.
package backend

import (
	"context"

	"github.com/example/ideaboard/internal/types"
)

// Subscription is a scoped hold on one collection's push channel. The events
// channel is closed when the subscription ends; Close must be called on every
// exit path so an abandoned session stops mutating a store nobody reads.
type Subscription interface {
	Events() <-chan types.ChangeEvent
	Close() error
}

// Client is the CRUD surface of the backing store. Rows are always supplied
// and returned whole; updates replace the stored row rather than patching
// fields. Deleting an absent id is not an error.
type Client interface {
	InsertIdea(ctx context.Context, idea types.Idea) error
	UpdateIdea(ctx context.Context, idea types.Idea) error
	DeleteIdea(ctx context.Context, id types.IdeaID) error
	QueryIdeas(ctx context.Context) ([]types.Idea, error)

	InsertComment(ctx context.Context, comment types.Comment) error
	UpdateComment(ctx context.Context, comment types.Comment) error
	DeleteComment(ctx context.Context, id types.CommentID) error
	QueryComments(ctx context.Context) ([]types.Comment, error)

	SubscribeIdeas(ctx context.Context) (Subscription, error)
	SubscribeComments(ctx context.Context) (Subscription, error)
}
