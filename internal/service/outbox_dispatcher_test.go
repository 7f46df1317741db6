package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/pkg/jobs"
	"github.com/noah-isme/kollect-api/pkg/messaging"
)

type outboxStoreStub struct {
	mu        sync.Mutex
	due       []models.OutboxEntry
	delivered []string
	failed    []failedCall
	claimErr  error
}

type failedCall struct {
	id   string
	next time.Time
	err  string
	dead bool
}

func (s *outboxStoreStub) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	claimed := s.due
	s.due = nil
	return claimed, nil
}

func (s *outboxStoreStub) GetByID(ctx context.Context, id string) (*models.OutboxEntry, error) {
	return &models.OutboxEntry{ID: id, Status: models.OutboxStatusDelivered}, nil
}

func (s *outboxStoreStub) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, id)
	return nil
}

func (s *outboxStoreStub) MarkFailed(ctx context.Context, id string, next time.Time, lastError string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failedCall{id: id, next: next, err: lastError, dead: dead})
	return nil
}

func (s *outboxStoreStub) CountByStatus(ctx context.Context) (map[models.OutboxStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[models.OutboxStatus]int{models.OutboxStatusPending: len(s.due)}, nil
}

func (s *outboxStoreStub) deliveredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

type inboxWriterStub struct {
	mu   sync.Mutex
	keys map[string]models.Notification
	err  error
}

func (s *inboxWriterStub) Insert(ctx context.Context, n *models.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.keys == nil {
		s.keys = map[string]models.Notification{}
	}
	if _, ok := s.keys[n.DedupeKey]; ok {
		return false, nil
	}
	s.keys[n.DedupeKey] = *n
	return true, nil
}

type publisherStub struct {
	mu       sync.Mutex
	messages []messaging.Message
	err      error
}

func (p *publisherStub) Publish(ctx context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *publisherStub) Close() error { return nil }

func outboxEntry(id string, attempts int) models.OutboxEntry {
	return models.OutboxEntry{
		ID:        id,
		DedupeKey: "campaign_invite:kol-1:" + id,
		Status:    models.OutboxStatusPending,
		Attempts:  attempts,
		Payload: models.NotificationDraft{
			RecipientID: "kol-1",
			SenderID:    "brand-1",
			Type:        models.NotificationCampaignInvite,
			Message:     "invited you",
			Data:        map[string]interface{}{"campaignId": id},
		},
	}
}

func newDispatcherFixture(cfg OutboxConfig) (*OutboxDispatcher, *outboxStoreStub, *inboxWriterStub, *publisherStub) {
	store := &outboxStoreStub{}
	inbox := &inboxWriterStub{}
	pub := &publisherStub{}
	d := NewOutboxDispatcher(store, inbox, pub, cfg, NewMetricsService(), nil)
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	return d, store, inbox, pub
}

func TestDeliverInsertsAndPublishes(t *testing.T) {
	d, store, inbox, pub := newDispatcherFixture(OutboxConfig{})
	entry := outboxEntry("c1", 0)

	require.NoError(t, d.Deliver(context.Background(), jobs.Job{ID: entry.ID, Payload: entry}))

	stored, ok := inbox.keys[entry.DedupeKey]
	require.True(t, ok)
	assert.Equal(t, "kol-1", stored.RecipientID)
	assert.JSONEq(t, `{"campaignId":"c1"}`, string(stored.Data))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "notification.campaign_invite", pub.messages[0].RoutingKey)
	assert.Equal(t, entry.DedupeKey, pub.messages[0].ID)
	assert.Equal(t, []string{"c1"}, store.delivered)
	assert.Equal(t, 1.0, counterValue(t, d.metrics, "kollect_outbox_deliveries_total", OutboxDelivered))
}

func TestDeliverIsIdempotent(t *testing.T) {
	d, store, inbox, _ := newDispatcherFixture(OutboxConfig{})
	entry := outboxEntry("c1", 0)

	require.NoError(t, d.Deliver(context.Background(), jobs.Job{ID: entry.ID, Payload: entry}))
	require.NoError(t, d.Deliver(context.Background(), jobs.Job{ID: entry.ID, Payload: entry}))
	assert.Len(t, inbox.keys, 1)
	assert.Len(t, store.delivered, 2)
	assert.Equal(t, 1.0, counterValue(t, d.metrics, "kollect_outbox_deliveries_total", OutboxDuplicate))
}

func TestDeliverFailureSchedulesRetry(t *testing.T) {
	d, store, inbox, _ := newDispatcherFixture(OutboxConfig{RetryBackoff: time.Second, MaxAttempts: 3})
	inbox.err = errors.New("insert failed")

	require.NoError(t, d.Deliver(context.Background(), jobs.Job{ID: "c1", Payload: outboxEntry("c1", 1)}))
	require.Len(t, store.failed, 1)
	call := store.failed[0]
	assert.False(t, call.dead)
	assert.Equal(t, d.now().Add(2*time.Second), call.next)
	assert.Equal(t, "insert failed", call.err)
	assert.Empty(t, store.delivered)
}

func TestDeliverMarksDeadAfterMaxAttempts(t *testing.T) {
	d, store, _, pub := newDispatcherFixture(OutboxConfig{MaxAttempts: 3})
	pub.err = errors.New("broker unavailable")

	require.NoError(t, d.Deliver(context.Background(), jobs.Job{ID: "c1", Payload: outboxEntry("c1", 2)}))
	require.Len(t, store.failed, 1)
	assert.True(t, store.failed[0].dead)
	assert.Equal(t, 1.0, counterValue(t, d.metrics, "kollect_outbox_deliveries_total", OutboxDead))
}

func TestDeliverSkipsSettledEntries(t *testing.T) {
	d, store, inbox, _ := newDispatcherFixture(OutboxConfig{})

	// Without a payload the entry is reloaded; the stub reports it delivered.
	require.NoError(t, d.Deliver(context.Background(), jobs.Job{ID: "c1"}))
	assert.Empty(t, inbox.keys)
	assert.Empty(t, store.delivered)
}

func TestOutboxBackoff(t *testing.T) {
	d, _, _, _ := newDispatcherFixture(OutboxConfig{RetryBackoff: 5 * time.Second})
	assert.Equal(t, 5*time.Second, d.Backoff(0))
	assert.Equal(t, 5*time.Second, d.Backoff(1))
	assert.Equal(t, 10*time.Second, d.Backoff(2))
	assert.Equal(t, 40*time.Second, d.Backoff(4))
	assert.Equal(t, time.Hour, d.Backoff(30))
}

func TestDispatcherRelaysClaimedEntries(t *testing.T) {
	d, store, inbox, _ := newDispatcherFixture(OutboxConfig{PollInterval: time.Hour, Workers: 2})
	store.due = []models.OutboxEntry{outboxEntry("a", 0), outboxEntry("b", 0), outboxEntry("c", 0)}

	d.Start(context.Background())
	defer d.Stop()

	require.Eventually(t, func() bool { return len(store.deliveredIDs()) == 3 }, 2*time.Second, 10*time.Millisecond)
	inbox.mu.Lock()
	assert.Len(t, inbox.keys, 3)
	inbox.mu.Unlock()
}

func TestRelayOnceRequiresRunningQueue(t *testing.T) {
	d, store, _, _ := newDispatcherFixture(OutboxConfig{})
	store.due = []models.OutboxEntry{outboxEntry("a", 0)}

	_, err := d.RelayOnce(context.Background())
	assert.Error(t, err)

	store.claimErr = errors.New("db down")
	_, err = d.RelayOnce(context.Background())
	assert.EqualError(t, err, "db down")
}
