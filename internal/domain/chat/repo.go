package chat

import "context"

// Repository persists chat messages. ListByRoom is ascending by timestamp.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]*Message, int, error)
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	MarkRoomRead(ctx context.Context, roomID, readerID string) (int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}
