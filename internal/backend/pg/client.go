// Package pg implements the backend collaborator on Postgres with a Redis
// pub/sub change feed. Every committed write publishes the full row as a
// change event on the collection's channel, so every subscribed client -
// the writer included - receives the authoritative echo.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/backend"
	"github.com/example/ideaboard/internal/types"
)

const defaultChannelPrefix = "board:"

// Client is the Postgres-backed implementation of backend.Client.
type Client struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger zerolog.Logger

	channelPrefix string
	maxRetries    int
	retryDelay    time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithMaxRetries sets the retry count for transient Postgres failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithChannelPrefix overrides the Redis channel prefix.
func WithChannelPrefix(prefix string) Option {
	return func(c *Client) {
		c.channelPrefix = prefix
	}
}

// NewClient constructs a backend client over the given pools.
func NewClient(pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		pool:          pool,
		redis:         rdb,
		logger:        logger,
		channelPrefix: defaultChannelPrefix,
		maxRetries:    3,
		retryDelay:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureSchema creates the collection tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, Schema)
	return err
}

// InsertIdea stores the idea and publishes an inserted event.
func (c *Client) InsertIdea(ctx context.Context, idea types.Idea) error {
	if err := c.writeIdea(ctx, "insert_idea", idea); err != nil {
		return err
	}
	c.publish(ctx, types.ChangeEvent{Collection: types.CollectionIdeas, Kind: types.EventInserted, Idea: &idea})
	return nil
}

// UpdateIdea replaces the stored row whole and publishes an updated event.
func (c *Client) UpdateIdea(ctx context.Context, idea types.Idea) error {
	if err := c.writeIdea(ctx, "update_idea", idea); err != nil {
		return err
	}
	c.publish(ctx, types.ChangeEvent{Collection: types.CollectionIdeas, Kind: types.EventUpdated, Idea: &idea})
	return nil
}

func (c *Client) writeIdea(ctx context.Context, op string, idea types.Idea) error {
	voters, err := json.Marshal(idea.Voters)
	if err != nil {
		return fmt.Errorf("marshal voters: %w", err)
	}
	if idea.Voters == nil {
		voters = []byte("[]")
	}

	return c.exec(ctx, op, `
INSERT INTO ideas (id, title, description, author_id, vote_count, voters, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
        title = EXCLUDED.title,
        description = EXCLUDED.description,
        author_id = EXCLUDED.author_id,
        vote_count = EXCLUDED.vote_count,
        voters = EXCLUDED.voters,
        created_at = EXCLUDED.created_at`,
		idea.ID, idea.Title, idea.Description, idea.AuthorID, idea.VoteCount, voters, idea.CreatedAt)
}

// DeleteIdea removes the idea. A missing row is not an error; the delete
// event is only published when a row was actually removed, so replays cannot
// fabricate deletes.
func (c *Client) DeleteIdea(ctx context.Context, id types.IdeaID) error {
	var deleted *types.Idea
	err := c.retry(ctx, "delete_idea", func(ctx context.Context) error {
		row, err := c.scanIdeaRow(c.pool.QueryRow(ctx, `
DELETE FROM ideas WHERE id = $1
RETURNING id, title, description, author_id, vote_count, voters, created_at`, id))
		if errors.Is(err, errNoRow) {
			deleted = nil
			return nil
		}
		if err != nil {
			return err
		}
		deleted = &row
		return nil
	})
	if err != nil {
		return err
	}
	if deleted != nil {
		c.publish(ctx, types.ChangeEvent{Collection: types.CollectionIdeas, Kind: types.EventDeleted, Idea: deleted})
	}
	return nil
}

// QueryIdeas returns all ideas, newest first.
func (c *Client) QueryIdeas(ctx context.Context) ([]types.Idea, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, title, description, author_id, vote_count, voters, created_at
FROM ideas ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ideas []types.Idea
	for rows.Next() {
		idea, err := c.scanIdeaRow(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, idea)
	}
	return ideas, rows.Err()
}

// InsertComment stores the comment and publishes an inserted event.
func (c *Client) InsertComment(ctx context.Context, comment types.Comment) error {
	if err := c.writeComment(ctx, "insert_comment", comment); err != nil {
		return err
	}
	c.publish(ctx, types.ChangeEvent{Collection: types.CollectionComments, Kind: types.EventInserted, Comment: &comment})
	return nil
}

// UpdateComment replaces the stored row whole and publishes an updated event.
func (c *Client) UpdateComment(ctx context.Context, comment types.Comment) error {
	if err := c.writeComment(ctx, "update_comment", comment); err != nil {
		return err
	}
	c.publish(ctx, types.ChangeEvent{Collection: types.CollectionComments, Kind: types.EventUpdated, Comment: &comment})
	return nil
}

func (c *Client) writeComment(ctx context.Context, op string, comment types.Comment) error {
	likedBy, err := json.Marshal(comment.LikedBy)
	if err != nil {
		return fmt.Errorf("marshal liked_by: %w", err)
	}
	if comment.LikedBy == nil {
		likedBy = []byte("[]")
	}

	return c.exec(ctx, op, `
INSERT INTO comments (id, idea_id, body, author_id, like_count, liked_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
        idea_id = EXCLUDED.idea_id,
        body = EXCLUDED.body,
        author_id = EXCLUDED.author_id,
        like_count = EXCLUDED.like_count,
        liked_by = EXCLUDED.liked_by,
        created_at = EXCLUDED.created_at`,
		comment.ID, comment.IdeaID, comment.Text, comment.AuthorID, comment.LikeCount, likedBy, comment.CreatedAt)
}

// DeleteComment removes the comment; a missing row is not an error.
func (c *Client) DeleteComment(ctx context.Context, id types.CommentID) error {
	var deleted *types.Comment
	err := c.retry(ctx, "delete_comment", func(ctx context.Context) error {
		row, err := c.scanCommentRow(c.pool.QueryRow(ctx, `
DELETE FROM comments WHERE id = $1
RETURNING id, idea_id, body, author_id, like_count, liked_by, created_at`, id))
		if errors.Is(err, errNoRow) {
			deleted = nil
			return nil
		}
		if err != nil {
			return err
		}
		deleted = &row
		return nil
	})
	if err != nil {
		return err
	}
	if deleted != nil {
		c.publish(ctx, types.ChangeEvent{Collection: types.CollectionComments, Kind: types.EventDeleted, Comment: deleted})
	}
	return nil
}

// QueryComments returns all comments, oldest first.
func (c *Client) QueryComments(ctx context.Context) ([]types.Comment, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, idea_id, body, author_id, like_count, liked_by, created_at
FROM comments ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []types.Comment
	for rows.Next() {
		comment, err := c.scanCommentRow(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// SubscribeIdeas opens the ideas push channel.
func (c *Client) SubscribeIdeas(ctx context.Context) (backend.Subscription, error) {
	return c.subscribe(ctx, types.CollectionIdeas)
}

// SubscribeComments opens the comments push channel.
func (c *Client) SubscribeComments(ctx context.Context) (backend.Subscription, error) {
	return c.subscribe(ctx, types.CollectionComments)
}

// Channel returns the Redis channel name for a collection, shared with the
// websocket gateway.
func (c *Client) Channel(collection types.Collection) string {
	return c.channelPrefix + string(collection)
}

func (c *Client) publish(ctx context.Context, event types.ChangeEvent) {
	event.EmittedAt = time.Now().UTC()
	payload, err := event.MarshalBinary()
	if err != nil {
		c.logger.Error().Err(err).Msg("encode change event")
		return
	}
	if err := c.redis.Publish(ctx, c.Channel(event.Collection), payload).Err(); err != nil {
		publishFailures.WithLabelValues(string(event.Collection)).Inc()
		c.logger.Warn().Err(err).Str("collection", string(event.Collection)).Msg("publish change event failed")
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

var errNoRow = errors.New("no row")

func (c *Client) scanIdeaRow(row rowScanner) (types.Idea, error) {
	var (
		idea   types.Idea
		voters []byte
	)
	err := row.Scan(&idea.ID, &idea.Title, &idea.Description, &idea.AuthorID, &idea.VoteCount, &voters, &idea.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return types.Idea{}, errNoRow
		}
		return types.Idea{}, err
	}
	if len(voters) > 0 {
		if err := json.Unmarshal(voters, &idea.Voters); err != nil {
			return types.Idea{}, fmt.Errorf("decode voters: %w", err)
		}
	}
	return idea, nil
}

func (c *Client) scanCommentRow(row rowScanner) (types.Comment, error) {
	var (
		comment types.Comment
		likedBy []byte
	)
	err := row.Scan(&comment.ID, &comment.IdeaID, &comment.Text, &comment.AuthorID, &comment.LikeCount, &likedBy, &comment.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return types.Comment{}, errNoRow
		}
		return types.Comment{}, err
	}
	if len(likedBy) > 0 {
		if err := json.Unmarshal(likedBy, &comment.LikedBy); err != nil {
			return types.Comment{}, fmt.Errorf("decode liked_by: %w", err)
		}
	}
	return comment, nil
}

func (c *Client) exec(ctx context.Context, op, sql string, args ...any) error {
	return c.retry(ctx, op, func(ctx context.Context) error {
		_, err := c.pool.Exec(ctx, sql, args...)
		return err
	})
}

func (c *Client) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pg."+op)
	defer span.End()

	start := time.Now()
	defer func() {
		crudLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	delay := c.retryDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt == c.maxRetries {
			return err
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
