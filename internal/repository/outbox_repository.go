package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/pkg/database"
)

const outboxColumns = `id, dedupe_key, payload, status, attempts, next_attempt_at, last_error, created_at, delivered_at`

// OutboxRepository persists notifications awaiting delivery.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs the repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue stores a pending entry. A duplicate dedupe key is silently ignored.
func (r *OutboxRepository) Enqueue(ctx context.Context, entry *models.OutboxEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = entry.CreatedAt
	}
	if entry.Status == "" {
		entry.Status = models.OutboxStatusPending
	}
	const query = `INSERT INTO notification_outbox (` + outboxColumns + `)
	VALUES (:id, :dedupe_key, :payload, :status, :attempts, :next_attempt_at, :last_error, :created_at, :delivered_at)
	ON CONFLICT (dedupe_key) DO NOTHING`
	if _, err := database.ConnFor(ctx, r.db).NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit due entries by pushing their next attempt to
// leaseUntil. Rows locked by another relay are skipped.
func (r *OutboxRepository) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `UPDATE notification_outbox SET next_attempt_at = $3
	WHERE id IN (
		SELECT id FROM notification_outbox
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + outboxColumns
	var entries []models.OutboxEntry
	if err := r.db.SelectContext(ctx, &entries, query, now, limit, leaseUntil); err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	return entries, nil
}

// GetByID fetches one entry.
func (r *OutboxRepository) GetByID(ctx context.Context, id string) (*models.OutboxEntry, error) {
	var entry models.OutboxEntry
	if err := r.db.GetContext(ctx, &entry, `SELECT `+outboxColumns+` FROM notification_outbox WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get outbox entry: %w", err)
	}
	return &entry, nil
}

// MarkDelivered records a successful delivery.
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notification_outbox SET status = 'delivered', delivered_at = $2, attempts = attempts + 1, last_error = NULL
	WHERE id = $1 AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt and either schedules a retry or, when
// dead is set, parks the entry.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastError string, dead bool) error {
	status := models.OutboxStatusPending
	if dead {
		status = models.OutboxStatusDead
	}
	const query = `UPDATE notification_outbox SET status = $2, attempts = attempts + 1, next_attempt_at = $3, last_error = $4
	WHERE id = $1 AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, id, status, nextAttemptAt, lastError); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// CountByStatus reports queue depth per status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error) {
	rows := []struct {
		Status models.OutboxStatus `db:"status"`
		Count  int                 `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM notification_outbox GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count outbox entries: %w", err)
	}
	result := make(map[models.OutboxStatus]int, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Count
	}
	return result, nil
}
