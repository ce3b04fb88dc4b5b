// Package notification persists user notifications and pushes them to every
// socket surface the target may be listening on.
package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/carelink/internal/platform/auth"
	"github.com/ehr/carelink/internal/platform/websocket"
)

// Emitter is the part of websocket.Publisher the dispatcher uses.
type Emitter interface {
	ConnectionsFor(userID string) []string
	ToConnection(connID string, kind websocket.Kind, payload interface{}) bool
	ToRoom(room string, kind websocket.Kind, payload interface{})
}

// RoleResolver looks up a user's role; "" means unknown.
type RoleResolver interface {
	Role(ctx context.Context, userID string) string
}

// Dispatcher creates notifications on behalf of other domain actions. Notify
// never returns an error: failures are logged and swallowed so the triggering
// action still succeeds.
type Dispatcher struct {
	repo      Repository
	emitter   Emitter
	roles     RoleResolver
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time
}

func NewDispatcher(repo Repository, emitter Emitter, roles RoleResolver, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		emitter:   emitter,
		roles:     roles,
		templates: NewTemplateEngine(),
		logger:    logger.With().Str("component", "notification-dispatcher").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Templates exposes the engine so callers can register extra templates.
func (d *Dispatcher) Templates() *TemplateEngine {
	return d.templates
}

// Notify persists one notification and emits new-notification to (a) every
// registry connection of the user, (b) the user_{id} room and (c) the
// pharmacy_{id} room for pharmacy targets. Emissions are not de-duplicated.
// It returns nil when the notification could not be created.
func (d *Dispatcher) Notify(ctx context.Context, req Request) (n *Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("user_id", req.UserID).Msg("notification dispatch panicked")
			n = nil
		}
	}()

	d.templates.apply(&req)
	if err := req.Validate(); err != nil {
		d.logger.Warn().Err(err).Str("user_id", req.UserID).Str("type", string(req.Type)).Msg("notification rejected")
		return nil
	}

	n = req.toNotification(d.now())
	if err := d.repo.Create(ctx, n); err != nil {
		d.logger.Error().Err(err).Str("user_id", req.UserID).Str("type", string(req.Type)).Msg("failed to persist notification")
		return nil
	}

	d.emit(ctx, n, req.Role)
	return n
}

func (d *Dispatcher) emit(ctx context.Context, n *Notification, role string) {
	if d.emitter == nil {
		return
	}
	for _, connID := range d.emitter.ConnectionsFor(n.UserID) {
		d.emitter.ToConnection(connID, websocket.KindNotification, n)
	}
	d.emitter.ToRoom(websocket.UserRoomID(n.UserID), websocket.KindNotification, n)

	if role == "" && d.roles != nil {
		role = d.roles.Role(ctx, n.UserID)
	}
	if role == auth.RolePharmacy {
		d.emitter.ToRoom(websocket.PharmacyRoomID(n.UserID), websocket.KindNotification, n)
	}
}
