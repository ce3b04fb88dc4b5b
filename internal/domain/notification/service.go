package notification

import (
	"context"
	"fmt"
)

// Service is the inbox read side. It shares the dispatcher's repository so
// unread counts reflect dispatcher writes immediately.
type Service struct {
	repo       Repository
	dispatcher *Dispatcher
}

func NewService(repo Repository, dispatcher *Dispatcher) *Service {
	return &Service{repo: repo, dispatcher: dispatcher}
}

// List returns at most MaxInbox notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > MaxInbox {
		limit = MaxInbox
	}
	items, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return items, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	return s.repo.MarkRead(ctx, id, userID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// Send validates req up front, then dispatches it. A nil result with a nil
// error means the store rejected the write.
func (s *Service) Send(ctx context.Context, req Request) (*Notification, error) {
	candidate := req
	s.dispatcher.templates.apply(&candidate)
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	return s.dispatcher.Notify(ctx, req), nil
}
