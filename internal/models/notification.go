package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationType enumerates pipeline events surfaced to users.
type NotificationType string

const (
	NotificationCampaignInvite     NotificationType = "campaign_invite"
	NotificationCampaignAccepted   NotificationType = "campaign_accepted"
	NotificationCampaignRejected   NotificationType = "campaign_rejected"
	NotificationCampaignCancelled  NotificationType = "campaign_cancelled"
	NotificationSubmissionApproved NotificationType = "submission_approved"
	NotificationSubmissionRejected NotificationType = "submission_rejected"
	NotificationWorkStatusChanged  NotificationType = "work_status_changed"
)

// Notification is a delivered message in a recipient's inbox.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipientId"`
	SenderID    string           `db:"sender_id" json:"senderId"`
	Type        NotificationType `db:"type" json:"type"`
	Message     string           `db:"message" json:"message"`
	Data        types.JSONText   `db:"data" json:"data"`
	IsRead      bool             `db:"is_read" json:"isRead"`
	DedupeKey   string           `db:"dedupe_key" json:"-"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

// NotificationDraft is the payload queued in the outbox.
type NotificationDraft struct {
	RecipientID string                 `json:"recipientId"`
	SenderID    string                 `json:"senderId"`
	Type        NotificationType       `json:"type"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data"`
}

// Value marshals the draft to JSON for persistence.
func (d NotificationDraft) Value() (driver.Value, error) {
	if d.Data == nil {
		d.Data = map[string]interface{}{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal notification draft: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSONB payload.
func (d *NotificationDraft) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*d = NotificationDraft{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for NotificationDraft", value)
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal notification draft: %w", err)
	}
	return nil
}

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusDead      OutboxStatus = "dead"
)

// OutboxEntry is a notification awaiting delivery.
type OutboxEntry struct {
	ID            string            `db:"id" json:"id"`
	DedupeKey     string            `db:"dedupe_key" json:"dedupeKey"`
	Payload       NotificationDraft `db:"payload" json:"payload"`
	Status        OutboxStatus      `db:"status" json:"status"`
	Attempts      int               `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time         `db:"next_attempt_at" json:"nextAttemptAt"`
	LastError     *string           `db:"last_error" json:"lastError,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
	DeliveredAt   *time.Time        `db:"delivered_at" json:"deliveredAt,omitempty"`
}
