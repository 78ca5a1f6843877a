package pg

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/types"
)

const subscriptionBuffer = 256

// subscription adapts one Redis pub/sub consumer to backend.Subscription.
// The decode goroutine exits when the pub/sub channel closes or Close is
// called, and always closes the events channel so consumers unblock.
type subscription struct {
	pubsub *redis.PubSub
	events chan types.ChangeEvent
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) subscribe(ctx context.Context, collection types.Collection) (backend.Subscription, error) {
	pubsub := c.redis.Subscribe(ctx, c.Channel(collection))
	// Force the subscribe round trip so a dead Redis fails here, not on the
	// first missed event.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan types.ChangeEvent, subscriptionBuffer),
		logger: c.logger.With().Str("collection", string(collection)).Logger(),
		done:   make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

func (s *subscription) run() {
	defer close(s.events)

	ch := s.pubsub.Channel(redis.WithChannelSize(subscriptionBuffer))
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event types.ChangeEvent
			if err := event.UnmarshalBinary([]byte(msg.Payload)); err != nil {
				s.logger.Warn().Err(err).Msg("dropping undecodable change event")
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}

// Events returns the decoded change events for the collection.
func (s *subscription) Events() <-chan types.ChangeEvent { return s.events }

// Close releases the Redis subscription.
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
