package dto

import (
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/kollect-api/internal/models"
)

// NotificationSender is the public view of the user who triggered a notification.
type NotificationSender struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// NotificationView is a notification as listed to its recipient.
type NotificationView struct {
	ID        string                  `json:"id"`
	Type      models.NotificationType `json:"type"`
	Sender    *NotificationSender     `json:"sender,omitempty"`
	Message   string                  `json:"message"`
	Data      types.JSONText          `json:"data"`
	IsRead    bool                    `json:"isRead"`
	CreatedAt time.Time               `json:"createdAt"`
}

// NotificationList is the inbox response.
type NotificationList struct {
	Notifications []NotificationView `json:"notifications"`
	UnreadCount   int                `json:"unreadCount"`
}
