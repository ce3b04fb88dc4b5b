package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/carelink/internal/platform/db"
)

type repoPG struct {
	q db.Querier
}

func NewRepoPG(q db.Querier) Repository {
	return &repoPG{q: q}
}

const messageColumns = `id, sender_id, sender_role, receiver_id, receiver_role, message, room_id,
	COALESCE(medical_request_id, ''), COALESCE(pharmacy_id, ''), COALESCE(appointment_id, ''),
	created_at, is_read`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New().String()
	_, err := r.q.Exec(ctx, `
		INSERT INTO chat_message (
			id, sender_id, sender_role, receiver_id, receiver_role, message, room_id,
			medical_request_id, pharmacy_id, appointment_id, created_at, is_read
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.SenderID, m.SenderRole, m.ReceiverID, m.ReceiverRole, m.Message, m.RoomID,
		nullable(m.MedicalRequestID), nullable(m.PharmacyID), nullable(m.AppointmentID),
		m.Timestamp, m.IsRead,
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (r *repoPG) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM chat_message WHERE room_id = $1`, roomID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count room messages: %w", err)
	}

	rows, err := r.q.Query(ctx, `SELECT `+messageColumns+`
		FROM chat_message WHERE room_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`, roomID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list room messages: %w", err)
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderRole, &m.ReceiverID, &m.ReceiverRole,
			&m.Message, &m.RoomID, &m.MedicalRequestID, &m.PharmacyID, &m.AppointmentID,
			&m.Timestamp, &m.IsRead); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}

func (r *repoPG) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM chat_message
		WHERE room_id = $1 AND (sender_id = $2 OR receiver_id = $2))`, roomID, userID).Scan(&ok)
	return ok, err
}

func (r *repoPG) MarkRoomRead(ctx context.Context, roomID, readerID string) (int, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE chat_message SET is_read = TRUE WHERE room_id = $1 AND receiver_id = $2 AND NOT is_read`,
		roomID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark room read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_message WHERE receiver_id = $1 AND NOT is_read`, userID,
	).Scan(&count)
	return count, err
}
