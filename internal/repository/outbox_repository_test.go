package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kollect-api/internal/models"
)

var outboxRowColumns = []string{"id", "dedupe_key", "payload", "status", "attempts", "next_attempt_at", "last_error", "created_at", "delivered_at"}

func TestOutboxEnqueueDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOutboxRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_outbox")).WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.OutboxEntry{DedupeKey: "campaign_accepted:b1:c1:k1", Payload: models.NotificationDraft{RecipientID: "b1", Type: models.NotificationCampaignAccepted}}
	require.NoError(t, repo.Enqueue(context.Background(), entry))
	assert.Equal(t, models.OutboxStatusPending, entry.Status)
	assert.Equal(t, entry.CreatedAt, entry.NextAttemptAt)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxClaimDueSkipsLocked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOutboxRepository(db)

	now := time.Now()
	lease := now.Add(30 * time.Second)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, 10, lease).
		WillReturnRows(sqlmock.NewRows(outboxRowColumns).
			AddRow("o1", "campaign_invite:k1:c1", []byte(`{"recipientId":"k1","senderId":"b1","type":"campaign_invite","message":"hi","data":{"campaignId":"c1"}}`),
				"pending", 0, lease, nil, now, nil))

	entries, err := repo.ClaimDue(context.Background(), now, lease, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k1", entries[0].Payload.RecipientID)
	assert.Equal(t, "c1", entries[0].Payload.Data["campaignId"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxMarkFailedDead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOutboxRepository(db)

	next := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_outbox SET status = $2, attempts = attempts + 1")).
		WithArgs("o1", models.OutboxStatusDead, next, "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), "o1", next, "boom", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxCountByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOutboxRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("pending", 4).AddRow("dead", 1))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[models.OutboxStatusPending])
	assert.Equal(t, 1, counts[models.OutboxStatusDead])
}
