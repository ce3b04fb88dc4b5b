package user

import "context"

// Repository looks up users by id. Implementations return ErrNotFound for
// unknown ids.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
