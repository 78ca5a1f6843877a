// Package gateway bridges the Redis change channels onto websocket clients.
// Each committed backend write lands on a Redis channel per collection; the
// gateway fans those payloads out verbatim to every websocket consumer
// subscribed to that collection.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/types"
)

const maxBackoff = 30 * time.Second

// Config controls connection behaviour.
type Config struct {
	ChannelPrefix string
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	SendBuffer    int
}

// Gateway upgrades HTTP requests on /feed into websocket subscriptions and
// relays Redis change payloads to them.
type Gateway struct {
	redis    *redis.Client
	logger   zerolog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[types.Collection]map[*connection]struct{}
}

// New constructs a gateway with defaults filled in.
func New(rdb *redis.Client, logger zerolog.Logger, cfg Config) *Gateway {
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "board:"
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	return &Gateway{
		redis:  rdb,
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[types.Collection]map[*connection]struct{}),
	}
}

// Start launches one Redis consume loop per collection.
func (g *Gateway) Start(ctx context.Context) {
	for _, collection := range []types.Collection{types.CollectionIdeas, types.CollectionComments} {
		go g.run(ctx, collection)
	}
}

func (g *Gateway) run(ctx context.Context, collection types.Collection) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := g.redis.Subscribe(ctx, g.cfg.ChannelPrefix+string(collection))
		if err := g.consume(ctx, collection, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Warn().Err(err).Str("collection", string(collection)).Dur("backoff", backoff).Msg("redis subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (g *Gateway) consume(ctx context.Context, collection types.Collection, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			g.broadcast(collection, []byte(msg.Payload))
		}
	}
}

func (g *Gateway) broadcast(collection types.Collection, payload []byte) {
	g.mu.RLock()
	recipients := make([]*connection, 0, len(g.conns[collection]))
	for c := range g.conns[collection] {
		recipients = append(recipients, c)
	}
	g.mu.RUnlock()

	for _, c := range recipients {
		c.send(payload)
	}
	eventsRelayed.WithLabelValues(string(collection)).Add(float64(len(recipients)))
}

// ServeHTTP implements http.Handler for GET /feed?collection=<name>.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collection := types.Collection(r.URL.Query().Get("collection"))
	if collection != types.CollectionIdeas && collection != types.CollectionComments {
		http.Error(w, "unknown collection", http.StatusBadRequest)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &connection{
		ws:     ws,
		out:    make(chan []byte, g.cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: g.logger.With().Str("collection", string(collection)).Str("remote", r.RemoteAddr).Logger(),
		cfg:    g.cfg,
	}
	g.register(collection, conn)
	conn.logger.Info().Msg("feed consumer connected")

	go conn.writeLoop()
	conn.readLoop()

	g.unregister(collection, conn)
	conn.close()
	conn.logger.Info().Msg("feed consumer disconnected")
}

func (g *Gateway) register(collection types.Collection, c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[collection] == nil {
		g.conns[collection] = make(map[*connection]struct{})
	}
	g.conns[collection][c] = struct{}{}
	consumerConnections.WithLabelValues(string(collection)).Set(float64(len(g.conns[collection])))
}

func (g *Gateway) unregister(collection types.Collection, c *connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns[collection], c)
	consumerConnections.WithLabelValues(string(collection)).Set(float64(len(g.conns[collection])))
}

type connection struct {
	ws     *websocket.Conn
	out    chan []byte
	done   chan struct{}
	logger zerolog.Logger
	cfg    Config

	closeOnce sync.Once
}

// send enqueues a payload; a consumer that cannot keep up is dropped rather
// than allowed to stall the fan-out.
func (c *connection) send(payload []byte) {
	select {
	case c.out <- payload:
	case <-c.done:
	default:
		sendDrops.Inc()
		c.logger.Warn().Msg("send buffer full; dropping consumer")
		c.close()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *connection) readLoop() {
	c.ws.SetReadLimit(1024)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingInterval * 2))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingInterval * 2))
	})

	// Consumers only receive; any read error ends the session.
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		case payload := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
