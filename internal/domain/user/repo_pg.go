package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/carelink/internal/platform/db"
)

type userRepoPG struct {
	q db.Querier
}

func NewRepoPG(q db.Querier) Repository {
	return &userRepoPG{q: q}
}

func (r *userRepoPG) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.q.QueryRow(ctx, `SELECT id, name, role FROM app_user WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}
