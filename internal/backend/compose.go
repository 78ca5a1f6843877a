package backend

import "context"

// Feed is the push-channel half of the backend contract, split out so an
// alternate transport (for example the websocket gateway) can replace the
// default one without touching the CRUD surface.
type Feed interface {
	SubscribeIdeas(ctx context.Context) (Subscription, error)
	SubscribeComments(ctx context.Context) (Subscription, error)
}

type composite struct {
	Client
	feed Feed
}

// Compose returns a Client that performs CRUD through crud but takes its
// push channels from feed.
func Compose(crud Client, feed Feed) Client {
	return &composite{Client: crud, feed: feed}
}

func (c *composite) SubscribeIdeas(ctx context.Context) (Subscription, error) {
	return c.feed.SubscribeIdeas(ctx)
}

func (c *composite) SubscribeComments(ctx context.Context) (Subscription, error) {
	return c.feed.SubscribeComments(ctx)
}
