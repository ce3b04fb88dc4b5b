package user

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Directory resolves display names and roles for broadcast payloads.
// Lookups never fail the caller: unknown users resolve to "".
type Directory struct {
	repo   Repository
	logger zerolog.Logger
}

func NewDirectory(repo Repository, logger zerolog.Logger) *Directory {
	return &Directory{repo: repo, logger: logger.With().Str("component", "user-directory").Logger()}
}

func (d *Directory) lookup(ctx context.Context, id string) *User {
	if d == nil || d.repo == nil || id == "" {
		return nil
	}
	u, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.logger.Warn().Err(err).Str("user_id", id).Msg("user lookup failed")
		}
		return nil
	}
	return u
}

// DisplayName returns the user's name, or "" when it cannot be resolved.
func (d *Directory) DisplayName(ctx context.Context, id string) string {
	if u := d.lookup(ctx, id); u != nil {
		return u.Name
	}
	return ""
}

// Role returns the user's role, or "" when it cannot be resolved.
func (d *Directory) Role(ctx context.Context, id string) string {
	if u := d.lookup(ctx, id); u != nil {
		return u.Role
	}
	return ""
}
