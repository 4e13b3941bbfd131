package notification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rongwang/sts-clearance/internal/models"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Publish(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.UserEmail = strings.ToLower(n.UserEmail)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_email, room_id, kind, title, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserEmail, n.RoomID, n.Kind, n.Title, n.Message, n.Read, n.CreatedAt)
	return err
}

func (s *PostgresStore) List(ctx context.Context, email string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `SELECT * FROM notifications WHERE user_email = $1`
	if unreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	var out []models.Notification
	if err := s.db.SelectContext(ctx, &out, query, strings.ToLower(email), limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, id, email string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_email = $2`, id, strings.ToLower(email))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, email string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM notifications WHERE user_email = $1 AND NOT read`, strings.ToLower(email))
	return n, err
}
