package notification

import (
	"context"

	"github.com/rongwang/sts-clearance/internal/models"
)

// Store persists per-user notifications. Implementations are safe for concurrent use.
type Store interface {
	Publish(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, email string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, email string) error
	CountUnread(ctx context.Context, email string) (int, error)
}
