// Package ingest merges backend push notifications into the entity store
// under a server-authoritative policy: an inserted or updated event replaces
// the local entity whole, a deleted event removes it. No field-level merge is
// attempted against in-flight optimistic state; once the server's view
// arrives it wins, and toggles self-correct on the next local action.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/store"
	"github.com/example/ideaboard/internal/types"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Ingestor runs one consume loop per collection. Each loop holds its
// subscription as a scoped resource: released on every exit path and
// re-acquired with capped backoff when the feed is interrupted.
type Ingestor struct {
	store  *store.Store
	remote backend.Client
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New constructs an ingestor over the store and backend feed.
func New(st *store.Store, remote backend.Client, logger zerolog.Logger) *Ingestor {
	return &Ingestor{store: st, remote: remote, logger: logger}
}

// Start launches the consume loops for both collections. It must be called
// at most once; Close tears the loops down.
func (i *Ingestor) Start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)

	i.wg.Add(2)
	go func() {
		defer i.wg.Done()
		i.run(ctx, types.CollectionIdeas, i.remote.SubscribeIdeas)
	}()
	go func() {
		defer i.wg.Done()
		i.run(ctx, types.CollectionComments, i.remote.SubscribeComments)
	}()
}

// Close releases the subscriptions and waits for the loops to drain.
func (i *Ingestor) Close() {
	i.once.Do(func() {
		if i.cancel != nil {
			i.cancel()
		}
		i.wg.Wait()
	})
}

func (i *Ingestor) run(ctx context.Context, collection types.Collection, subscribe func(context.Context) (backend.Subscription, error)) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := subscribe(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			i.logger.Warn().Err(err).Str("collection", string(collection)).Dur("backoff", backoff).Msg("subscribe failed; retrying")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
				continue
			case <-ctx.Done():
				return
			}
		}

		backoff = initialBackoff
		if err := i.consume(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
			i.logger.Warn().Err(err).Str("collection", string(collection)).Msg("subscription interrupted; resubscribing")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (i *Ingestor) consume(ctx context.Context, sub backend.Subscription) error {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return errors.New("event channel closed")
			}
			i.Apply(event)
		}
	}
}

// Apply merges a single event into the store. Events for the same id must be
// applied in delivery order, which the sequential consume loop guarantees;
// replaying an event is harmless because upsert replaces whole and removing
// an absent id is a no-op.
func (i *Ingestor) Apply(event types.ChangeEvent) {
	if err := event.Validate(); err != nil {
		eventsDropped.WithLabelValues(string(event.Collection)).Inc()
		i.logger.Warn().Err(err).Msg("dropping malformed change event")
		return
	}

	switch event.Collection {
	case types.CollectionIdeas:
		switch event.Kind {
		case types.EventInserted, types.EventUpdated:
			i.store.UpsertIdea(*event.Idea)
		case types.EventDeleted:
			i.store.RemoveIdea(event.Idea.ID)
		}
	case types.CollectionComments:
		switch event.Kind {
		case types.EventInserted, types.EventUpdated:
			// A comment must never enter the store without its idea. Comment
			// events racing ahead of their idea's insert, or straggling in
			// after its delete, are dropped rather than left orphaned.
			if _, ok := i.store.GetIdea(event.Comment.IdeaID); !ok {
				eventsDropped.WithLabelValues(string(event.Collection)).Inc()
				i.logger.Debug().
					Str("comment", string(event.Comment.ID)).
					Str("idea", string(event.Comment.IdeaID)).
					Msg("dropping comment event for absent idea")
				return
			}
			i.store.UpsertComment(*event.Comment)
		case types.EventDeleted:
			i.store.RemoveComment(event.Comment.ID)
		}
	}

	eventsApplied.WithLabelValues(string(event.Collection), string(event.Kind)).Inc()
	if !event.EmittedAt.IsZero() {
		propagationLatency.WithLabelValues(string(event.Collection)).Observe(time.Since(event.EmittedAt).Seconds())
	}
}
