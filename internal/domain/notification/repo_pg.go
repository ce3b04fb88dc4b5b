package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/carelink/internal/platform/db"
)

type repoPG struct {
	q db.Querier
}

func NewRepoPG(q db.Querier) Repository {
	return &repoPG{q: q}
}

const notificationColumns = `id, user_id, type, title, message, priority, is_read, read_at, metadata, created_at`

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New().String()
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO notification (id, user_id, type, title, message, priority, is_read, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, string(n.Priority), n.IsRead, metadata, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *repoPG) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	rows, err := r.q.Query(ctx, `SELECT `+notificationColumns+`
		FROM notification WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		var n Notification
		var typ, priority string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &priority,
			&n.IsRead, &n.ReadAt, &n.Metadata, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		n.Priority = Priority(priority)
		items = append(items, &n)
	}
	return items, rows.Err()
}

func (r *repoPG) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification WHERE user_id = $1 AND NOT is_read`, userID,
	).Scan(&count)
	return count, err
}

func (r *repoPG) MarkRead(ctx context.Context, id, userID string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE notification SET is_read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`,
		id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, userID string) (int, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE notification SET is_read = TRUE, read_at = $2 WHERE user_id = $1 AND NOT is_read`,
		userID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
