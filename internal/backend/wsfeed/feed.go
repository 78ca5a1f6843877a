// Package wsfeed implements the push-channel half of the backend contract
// over a websocket connection to the change gateway, for clients that cannot
// reach Redis directly. Events arrive as JSON text frames carrying the same
// wire format the Redis channels use.
package wsfeed

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/types"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadLimit        = 1 << 20
	pongWait                = 60 * time.Second
)

// Feed dials the gateway once per collection subscription.
type Feed struct {
	gatewayURL string
	dialer     websocket.Dialer
	logger     zerolog.Logger
}

// New constructs a feed pointed at the gateway base URL
// (e.g. ws://host:8080/feed).
func New(gatewayURL string, logger zerolog.Logger) *Feed {
	return &Feed{
		gatewayURL: gatewayURL,
		dialer:     websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		logger:     logger,
	}
}

// SubscribeIdeas opens the ideas push channel.
func (f *Feed) SubscribeIdeas(ctx context.Context) (backend.Subscription, error) {
	return f.subscribe(ctx, types.CollectionIdeas)
}

// SubscribeComments opens the comments push channel.
func (f *Feed) SubscribeComments(ctx context.Context) (backend.Subscription, error) {
	return f.subscribe(ctx, types.CollectionComments)
}

func (f *Feed) subscribe(ctx context.Context, collection types.Collection) (backend.Subscription, error) {
	u, err := url.Parse(f.gatewayURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("collection", string(collection))
	u.RawQuery = q.Encode()

	conn, _, err := f.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	sub := &subscription{
		conn:   conn,
		events: make(chan types.ChangeEvent, 64),
		logger: f.logger.With().Str("collection", string(collection)).Logger(),
		done:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	events chan types.ChangeEvent
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (s *subscription) readLoop() {
	defer close(s.events)

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("feed read ended")
			}
			return
		}

		var event types.ChangeEvent
		if err := event.UnmarshalBinary(data); err != nil {
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

// Events returns the decoded change events.
func (s *subscription) Events() <-chan types.ChangeEvent { return s.events }

// Close tears down the websocket connection, which unblocks the read loop
// and closes the events channel.
func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
		err = s.conn.Close()
	})
	return err
}
