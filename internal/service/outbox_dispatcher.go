package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/pkg/jobs"
	"github.com/noah-isme/kollect-api/pkg/messaging"
)

const (
	outboxJobType     = "notification"
	maxOutboxBackoff  = time.Hour
	defaultOutboxPoll = 2 * time.Second
)

type outboxStore interface {
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.OutboxEntry, error)
	GetByID(ctx context.Context, id string) (*models.OutboxEntry, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastError string, dead bool) error
	CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error)
}

type notificationInserter interface {
	Insert(ctx context.Context, n *models.Notification) (bool, error)
}

// OutboxConfig tunes the relay and its worker pool.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	Workers      int
	// Lease is how long a claimed row stays invisible to other relays.
	Lease time.Duration
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultOutboxPoll
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	return c
}

// OutboxDispatcher relays due outbox rows into the notifications table and
// the message broker. Delivery is at-least-once; the dedupe key makes the
// inbox insert idempotent.
type OutboxDispatcher struct {
	store     outboxStore
	inbox     notificationInserter
	publisher messaging.Publisher
	queue     *jobs.Queue
	cfg       OutboxConfig
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutboxDispatcher constructs the dispatcher and its worker pool.
func NewOutboxDispatcher(store outboxStore, inbox notificationInserter, publisher messaging.Publisher, cfg OutboxConfig, metrics *MetricsService, logger *zap.Logger) *OutboxDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	cfg = cfg.withDefaults()
	d := &OutboxDispatcher{
		store:     store,
		inbox:     inbox,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "outbox")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	// Retries are scheduled through the outbox row, not the in-memory queue.
	d.queue = jobs.NewQueue("notification-outbox", d.Deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BatchSize * 2,
		MaxRetries: 0,
		Logger:     logger,
	})
	return d
}

// Start launches the worker pool and the polling relay.
func (d *OutboxDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.queue.Start(ctx)

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			if _, err := d.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("outbox relay failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	d.logger.Info("outbox dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("workers", d.cfg.Workers))
}

// Stop halts the relay and drains the worker pool.
func (d *OutboxDispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.queue.Stop()
	d.logger.Info("outbox dispatcher stopped")
}

// RelayOnce claims a batch of due rows and hands them to the workers. It
// returns the number of rows queued. Rows that do not fit in the queue are
// picked up again once their lease expires.
func (d *OutboxDispatcher) RelayOnce(ctx context.Context) (int, error) {
	now := d.now()
	entries, err := d.store.ClaimDue(ctx, now, now.Add(d.cfg.Lease), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, entry := range entries {
		err := d.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: outboxJobType, Payload: entry, Enqueued: now})
		if err != nil {
			if errors.Is(err, jobs.ErrQueueFull) {
				d.logger.Debug("outbox queue full", zap.Int("claimed", len(entries)), zap.Int("queued", queued))
				break
			}
			return queued, err
		}
		queued++
	}
	d.reportDepth(ctx)
	return queued, nil
}

// Deliver processes one outbox job. Failures are recorded on the row and
// never returned, so the worker pool does not retry on its own.
func (d *OutboxDispatcher) Deliver(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(models.OutboxEntry)
	if !ok {
		loaded, err := d.store.GetByID(ctx, job.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			d.logger.Warn("failed to load outbox entry", zap.String("id", job.ID), zap.Error(err))
			return nil
		}
		entry = *loaded
	}
	if entry.Status != models.OutboxStatusPending {
		return nil
	}

	if err := d.deliver(ctx, entry); err != nil {
		d.fail(ctx, entry, err)
		return nil
	}
	if err := d.store.MarkDelivered(ctx, entry.ID, d.now()); err != nil {
		// The row will be re-leased and the insert is idempotent.
		d.logger.Warn("failed to mark outbox entry delivered", zap.String("id", entry.ID), zap.Error(err))
	}
	return nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, entry models.OutboxEntry) error {
	draft := entry.Payload
	data := []byte(`{}`)
	if draft.Data != nil {
		encoded, err := json.Marshal(draft.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
		data = encoded
	}
	n := &models.Notification{
		RecipientID: draft.RecipientID,
		SenderID:    draft.SenderID,
		Type:        draft.Type,
		Message:     draft.Message,
		Data:        types.JSONText(data),
		DedupeKey:   entry.DedupeKey,
	}
	inserted, err := d.inbox.Insert(ctx, n)
	if err != nil {
		return err
	}
	if inserted {
		d.metrics.RecordOutboxResult(OutboxDelivered)
	} else {
		d.metrics.RecordOutboxResult(OutboxDuplicate)
	}

	body, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal notification message: %w", err)
	}
	// Subscribers dedupe on the message id.
	return d.publisher.Publish(ctx, messaging.Message{
		ID:         entry.DedupeKey,
		RoutingKey: messaging.RoutingKey(string(draft.Type)),
		Body:       body,
	})
}

func (d *OutboxDispatcher) fail(ctx context.Context, entry models.OutboxEntry, cause error) {
	attempts := entry.Attempts + 1
	dead := attempts >= d.cfg.MaxAttempts
	next := d.now().Add(d.Backoff(attempts))
	if dead {
		d.metrics.RecordOutboxResult(OutboxDead)
	} else {
		d.metrics.RecordOutboxResult(OutboxRetried)
	}
	d.logger.Warn("notification delivery failed",
		zap.String("id", entry.ID),
		zap.String("dedupe_key", entry.DedupeKey),
		zap.Int("attempts", attempts),
		zap.Bool("dead", dead),
		zap.Error(cause))
	if err := d.store.MarkFailed(ctx, entry.ID, next, cause.Error(), dead); err != nil {
		d.logger.Error("failed to record outbox failure", zap.String("id", entry.ID), zap.Error(err))
	}
}

// Backoff returns the delay before the given attempt is retried. It doubles
// from RetryBackoff and is capped at one hour.
func (d *OutboxDispatcher) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := d.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxOutboxBackoff {
			return maxOutboxBackoff
		}
	}
	return delay
}

func (d *OutboxDispatcher) reportDepth(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		d.logger.Debug("failed to count outbox entries", zap.Error(err))
		return
	}
	for _, status := range []models.OutboxStatus{models.OutboxStatusPending, models.OutboxStatusDelivered, models.OutboxStatusDead} {
		d.metrics.SetOutboxDepth(string(status), counts[status])
	}
}
