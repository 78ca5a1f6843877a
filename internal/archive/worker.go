// Package archive periodically exports the full board to object storage for
// audit and recovery. The worker watches a mirrored entity store and emits an
// export once enough mutations accumulated since the previous one.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/example/ideaboard/internal/store"
	"github.com/example/ideaboard/internal/types"
)

// Uploader is the slice of the object storage client the worker needs.
// *minio.Client satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

const (
	defaultInterval  = 30 * time.Second
	defaultThreshold = 64
)

// Payload is the JSON document written to object storage.
type Payload struct {
	ExportedAt time.Time       `json:"exported_at"`
	Ideas      []types.Idea    `json:"ideas"`
	Comments   []types.Comment `json:"comments"`
}

// Worker exports board snapshots. It registers a store observer on Start and
// releases it when the context ends.
type Worker struct {
	store  *store.Store
	object Uploader
	bucket string
	logger zerolog.Logger

	interval  time.Duration
	threshold int64

	pending atomic.Int64
	kick    chan struct{}
}

// NewWorker constructs an archive worker with sane defaults.
func NewWorker(st *store.Store, object Uploader, bucket string, logger zerolog.Logger) *Worker {
	return &Worker{
		store:     st,
		object:    object,
		bucket:    bucket,
		logger:    logger,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		kick:      make(chan struct{}, 1),
	}
}

// Start begins the export loop.
func (w *Worker) Start(ctx context.Context) {
	unsubscribe := w.store.Subscribe(func(store.Notification) {
		if w.pending.Add(1) >= w.threshold {
			select {
			case w.kick <- struct{}{}:
			default:
			}
		}
	})
	go w.loop(ctx, unsubscribe)
}

func (w *Worker) loop(ctx context.Context, unsubscribe func()) {
	defer unsubscribe()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.pending.Load() == 0 {
				continue
			}
		case <-w.kick:
		case <-ctx.Done():
			return
		}

		w.exportCycle(ctx)
	}
}

// exportCycle exports once and retires only the mutations that were pending
// when it started; mutations landing during the upload stay pending for the
// next cycle.
func (w *Worker) exportCycle(ctx context.Context) {
	captured := w.pending.Load()
	if err := w.Export(ctx); err != nil {
		w.logger.Error().Err(err).Msg("board export failed")
		return
	}
	w.pending.Add(-captured)
}

// Export writes one board snapshot to the configured bucket.
func (w *Worker) Export(ctx context.Context) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}

	now := time.Now().UTC()
	payload := w.snapshotPayload(now)

	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode board export: %w", err)
	}

	objectPath := fmt.Sprintf("boards/%s.json", now.Format("20060102T150405.000000000"))
	start := time.Now()
	if _, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("upload board export: %w", err)
	}

	exportLatency.Observe(time.Since(start).Seconds())
	exportsTotal.Inc()
	w.logger.Info().Str("object", objectPath).Int("ideas", len(payload.Ideas)).Int("comments", len(payload.Comments)).Msg("board exported")
	return nil
}

func (w *Worker) snapshotPayload(now time.Time) Payload {
	payload := Payload{
		ExportedAt: now,
		Ideas:      w.store.ListIdeas(nil),
	}
	for _, idea := range payload.Ideas {
		payload.Comments = append(payload.Comments, w.store.ListComments(idea.ID)...)
	}
	return payload
}

func encodePayload(payload Payload) ([]byte, error) {
	return json.Marshal(payload)
}

// DecodePayload parses a previously exported board document.
func DecodePayload(data []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}
