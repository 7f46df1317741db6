package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/kollect-api/internal/dto"
	"github.com/noah-isme/kollect-api/internal/models"
	"github.com/noah-isme/kollect-api/pkg/database"
	appErrors "github.com/noah-isme/kollect-api/pkg/errors"
)

const inboxLimit = 50

type outboxWriter interface {
	Enqueue(ctx context.Context, entry *models.OutboxEntry) error
}

type notificationStore interface {
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

type userDirectory interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error)
}

// Notifier is the emit side used by the campaign and work engines.
type Notifier interface {
	Emit(ctx context.Context, draft models.NotificationDraft, keyParts ...string)
}

// NotificationService queues pipeline notifications and serves the inbox.
type NotificationService struct {
	outbox  outboxWriter
	inbox   notificationStore
	users   userDirectory
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(outbox outboxWriter, inbox notificationStore, users userDirectory, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{outbox: outbox, inbox: inbox, users: users, metrics: metrics, logger: logger}
}

// NotificationKey builds the idempotency key for a notification.
func NotificationKey(t models.NotificationType, recipientID string, parts ...string) string {
	return string(t) + ":" + recipientID + ":" + strings.Join(parts, ":")
}

// Emit writes the draft to the outbox inside a savepoint of the caller's
// transaction. Failures are logged and never returned; self-notifications
// and drafts without a recipient are dropped.
func (s *NotificationService) Emit(ctx context.Context, draft models.NotificationDraft, keyParts ...string) {
	if draft.RecipientID == "" || draft.RecipientID == draft.SenderID {
		return
	}
	entry := &models.OutboxEntry{
		DedupeKey: NotificationKey(draft.Type, draft.RecipientID, keyParts...),
		Payload:   draft,
	}
	err := database.Savepoint(ctx, "notification_outbox", func(ctx context.Context) error {
		return s.outbox.Enqueue(ctx, entry)
	})
	if err != nil {
		s.metrics.RecordEvent(EventNotificationDrop)
		s.logger.Warn("failed to enqueue notification",
			zap.String("type", string(draft.Type)),
			zap.String("recipient_id", draft.RecipientID),
			zap.String("dedupe_key", entry.DedupeKey),
			zap.Error(err))
	}
}

// List returns the newest notifications of the recipient with sender details.
func (s *NotificationService) List(ctx context.Context, recipientID string) (*dto.NotificationList, error) {
	items, err := s.inbox.ListByRecipient(ctx, recipientID, inboxLimit)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list notifications")
	}
	unread, err := s.inbox.CountUnread(ctx, recipientID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count notifications")
	}

	senders := map[string]models.User{}
	ids := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, n := range items {
		if n.SenderID == "" {
			continue
		}
		if _, ok := seen[n.SenderID]; ok {
			continue
		}
		seen[n.SenderID] = struct{}{}
		ids = append(ids, n.SenderID)
	}
	if len(ids) > 0 && s.users != nil {
		found, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("failed to resolve notification senders", zap.Error(err))
		} else {
			senders = found
		}
	}

	views := make([]dto.NotificationView, 0, len(items))
	for _, n := range items {
		view := dto.NotificationView{
			ID:        n.ID,
			Type:      n.Type,
			Message:   n.Message,
			Data:      n.Data,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		}
		if u, ok := senders[n.SenderID]; ok {
			view.Sender = &dto.NotificationSender{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName()}
		}
		views = append(views, view)
	}
	return &dto.NotificationList{Notifications: views, UnreadCount: unread}, nil
}

// MarkAllRead flags every unread notification of the recipient as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.inbox.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to update notifications")
	}
	return n, nil
}
