// Package chat is the message persistence and delivery pipeline: every send
// goes received, persisted, fanned out, then notification dispatched.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/ehr/carelink/internal/domain/notification"
	"github.com/ehr/carelink/internal/domain/pharmacy"
	"github.com/ehr/carelink/internal/platform/auth"
	"github.com/ehr/carelink/internal/platform/websocket"
	"github.com/ehr/carelink/pkg/pagination"
)

// Emitter is the part of websocket.Publisher the pipeline fans out with.
type Emitter interface {
	ToRoom(room string, kind websocket.Kind, payload interface{})
	ToConnection(connID string, kind websocket.Kind, payload interface{}) bool
	ConnectionsFor(userID string) []string
	UserInRoom(userID, room string) bool
}

// Notifier is satisfied by *notification.Dispatcher. It must not fail.
type Notifier interface {
	Notify(ctx context.Context, req notification.Request) *notification.Notification
}

// Directory resolves display names for broadcasts.
type Directory interface {
	DisplayName(ctx context.Context, userID string) string
}

// Sanitizer strips markup from user text.
type Sanitizer interface {
	Sanitize(s string) string
}

// plainText strips all markup but keeps the text itself unescaped; clients
// escape on render.
type plainText struct {
	policy *bluemonday.Policy
}

func (p plainText) Sanitize(s string) string {
	return html.UnescapeString(p.policy.Sanitize(s))
}

type Service struct {
	repo      Repository
	requests  pharmacy.Repository
	emitter   Emitter
	notifier  Notifier
	dir       Directory
	sanitizer Sanitizer
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, requests pharmacy.Repository, emitter Emitter, notifier Notifier, dir Directory, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		requests:  requests,
		emitter:   emitter,
		notifier:  notifier,
		dir:       dir,
		sanitizer: plainText{policy: bluemonday.StrictPolicy()},
		logger:    logger.With().Str("component", "chat").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) cleanText(text string) (string, error) {
	clean := strings.TrimSpace(s.sanitizer.Sanitize(text))
	if clean == "" {
		return "", fmt.Errorf("%w: message text is required", ErrValidation)
	}
	return clean, nil
}

// ResolveRoom picks the room for a generic send: the explicit override, the
// pairwise room of sender and receiver, then a room derived from a link id.
// It returns "" when nothing can be resolved.
func ResolveRoom(req SendRequest) string {
	switch {
	case req.RoomID != "":
		return req.RoomID
	case req.SenderID != "" && req.ReceiverID != "":
		return websocket.DeriveRoomID(req.SenderID, req.ReceiverID)
	case req.Links.PharmacyID != "" && req.Links.MedicalRequestID != "":
		return websocket.DerivePharmacyRequestRoomID(req.Links.PharmacyID, req.Links.MedicalRequestID)
	case req.Links.AppointmentID != "":
		return websocket.AppointmentRoomID(req.Links.AppointmentID)
	}
	return ""
}

// Send runs the generic pipeline.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if req.SenderID == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrValidation)
	}
	text, err := s.cleanText(req.Text)
	if err != nil {
		return nil, err
	}
	room := ResolveRoom(req)
	if room == "" {
		return nil, fmt.Errorf("%w: a receiver or room is required", ErrValidation)
	}

	msg := &Message{
		SenderID:         req.SenderID,
		SenderRole:       req.SenderRole,
		ReceiverID:       req.ReceiverID,
		ReceiverRole:     normalizeRole(req.ReceiverRole),
		Message:          text,
		RoomID:           room,
		MedicalRequestID: req.Links.MedicalRequestID,
		PharmacyID:       req.Links.PharmacyID,
		AppointmentID:    req.Links.AppointmentID,
	}
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}

	s.deliver(ctx, msg, websocket.KindChatMessage)
	s.notify(ctx, msg)
	return msg, nil
}

// SendPharmacyMessage runs the request-scoped pipeline. Pharmacy senders
// must own the referenced medical request. Other senders must be its patient.
func (s *Service) SendPharmacyMessage(ctx context.Context, pm PharmacyMessage) (*Message, error) {
	if pm.SenderID == "" {
		return nil, fmt.Errorf("%w: sender is required", ErrValidation)
	}
	text, err := s.cleanText(pm.Text)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		SenderID:         pm.SenderID,
		SenderRole:       pm.SenderRole,
		Message:          text,
		MedicalRequestID: pm.MedicalRequestID,
		PharmacyID:       pm.PharmacyID,
	}

	if pm.SenderRole == auth.RolePharmacy {
		req, err := s.loadRequest(ctx, pm.MedicalRequestID)
		if err != nil {
			return nil, err
		}
		if req.PharmacyID != pm.SenderID {
			s.logger.Warn().
				Str("sender_id", pm.SenderID).
				Str("request_id", req.ID).
				Str("owner_pharmacy_id", req.PharmacyID).
				Msg("pharmacy message rejected: request owned by another pharmacy")
			return nil, fmt.Errorf("%w: pharmacy %s does not own request %s", ErrUnauthorized, pm.SenderID, req.ID)
		}
		msg.PharmacyID = req.PharmacyID
		msg.ReceiverID = req.PatientID
		if msg.ReceiverID == "" {
			msg.ReceiverID = pm.PatientID
		}
		msg.ReceiverRole = auth.RolePatient
	} else {
		if msg.SenderRole == "" {
			msg.SenderRole = auth.RolePatient
		}
		// A supplied pharmacyId never skips the request check.
		if pm.MedicalRequestID != "" || msg.PharmacyID == "" {
			req, err := s.loadRequest(ctx, pm.MedicalRequestID)
			if err != nil {
				return nil, err
			}
			if req.PatientID != "" && req.PatientID != pm.SenderID {
				return nil, fmt.Errorf("%w: request %s belongs to another patient", ErrUnauthorized, req.ID)
			}
			if msg.PharmacyID != "" && msg.PharmacyID != req.PharmacyID {
				return nil, fmt.Errorf("%w: request %s is not held by pharmacy %s", ErrUnauthorized, req.ID, msg.PharmacyID)
			}
			msg.PharmacyID = req.PharmacyID
		}
		msg.ReceiverID = msg.PharmacyID
		msg.ReceiverRole = auth.RolePharmacy
	}

	msg.RoomID = pm.RoomID
	if msg.RoomID == "" {
		if msg.MedicalRequestID == "" {
			return nil, fmt.Errorf("%w: medicalRequestId is required", ErrValidation)
		}
		msg.RoomID = websocket.DerivePharmacyRequestRoomID(msg.PharmacyID, msg.MedicalRequestID)
	}

	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}

	s.deliver(ctx, msg, websocket.KindPharmacyMessage)
	if msg.SenderRole != auth.RolePharmacy && msg.PharmacyID != "" {
		s.emitter.ToRoom(websocket.PharmacyRoomID(msg.PharmacyID), websocket.KindPharmacyInbox, InboxEvent{
			Message:          msg,
			RoomID:           msg.RoomID,
			MedicalRequestID: msg.MedicalRequestID,
		})
	}
	s.notify(ctx, msg)
	return msg, nil
}

func (s *Service) loadRequest(ctx context.Context, id string) (*pharmacy.MedicalRequest, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: medicalRequestId is required", ErrValidation)
	}
	req, err := s.requests.GetRequest(ctx, id)
	if errors.Is(err, pharmacy.ErrNotFound) {
		return nil, fmt.Errorf("%w: medical request %s", ErrNotFound, id)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", id).Msg("medical request lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return req, nil
}

func (s *Service) persist(ctx context.Context, msg *Message) error {
	msg.Timestamp = s.now()
	if err := s.repo.Create(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("room_id", msg.RoomID).Str("sender_id", msg.SenderID).Msg("failed to persist chat message")
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

// deliver broadcasts to the room, then emits directly to a receiver that is
// online but has no connection joined to the room yet.
func (s *Service) deliver(ctx context.Context, msg *Message, kind websocket.Kind) {
	if s.dir != nil {
		msg.SenderName = s.dir.DisplayName(ctx, msg.SenderID)
	}
	s.emitter.ToRoom(msg.RoomID, kind, msg)

	if msg.ReceiverID == "" || msg.ReceiverID == msg.SenderID {
		return
	}
	conns := s.emitter.ConnectionsFor(msg.ReceiverID)
	if len(conns) == 0 || s.emitter.UserInRoom(msg.ReceiverID, msg.RoomID) {
		return
	}
	for _, connID := range conns {
		s.emitter.ToConnection(connID, websocket.KindDirectMessage, msg)
	}
}

// notify is best-effort; the dispatcher logs its own failures.
func (s *Service) notify(ctx context.Context, msg *Message) {
	if s.notifier == nil || msg.ReceiverID == "" || msg.ReceiverID == msg.SenderID {
		return
	}
	sender := msg.SenderName
	if sender == "" {
		sender = senderLabel(msg.SenderRole)
	}

	metadata := map[string]string{"roomId": msg.RoomID, "senderId": msg.SenderID, "messageId": msg.ID}
	if msg.MedicalRequestID != "" {
		metadata["medicalRequestId"] = msg.MedicalRequestID
	}
	if msg.PharmacyID != "" {
		metadata["pharmacyId"] = msg.PharmacyID
	}
	if msg.AppointmentID != "" {
		metadata["appointmentId"] = msg.AppointmentID
	}

	s.notifier.Notify(ctx, notification.Request{
		UserID:   msg.ReceiverID,
		Type:     notification.TypeChat,
		Priority: notification.PriorityMedium,
		Role:     msg.ReceiverRole,
		Metadata: metadata,
		Data:     map[string]string{"sender": sender, "preview": Preview(msg.Message)},
	})
}

func senderLabel(role string) string {
	switch role {
	case auth.RolePatient:
		return "your patient"
	case auth.RoleDoctor:
		return "your doctor"
	case auth.RolePharmacy:
		return "your pharmacy"
	default:
		return "CareLink"
	}
}

// CanAccessRoom reports whether userID may read room. Participants are
// parsed from the room id where its shape is known, then looked up in
// message history.
func (s *Service) CanAccessRoom(ctx context.Context, userID, role, room string) (bool, error) {
	if role == auth.RoleAdmin {
		return true, nil
	}
	if userID == "" {
		return false, nil
	}
	if pharmacyID, requestID, ok := websocket.ParsePharmacyRequestRoomID(room); ok {
		if pharmacyID == userID {
			return true, nil
		}
		if s.requests != nil {
			req, err := s.requests.GetRequest(ctx, requestID)
			if err == nil && req.PharmacyID == pharmacyID && req.PatientID == userID {
				return true, nil
			}
		}
	} else if room == websocket.UserRoomID(userID) || room == websocket.PharmacyRoomID(userID) {
		return true, nil
	} else if _, ok := websocket.PairwisePeer(room, userID); ok {
		return true, nil
	}
	return s.repo.IsParticipant(ctx, room, userID)
}

// History returns a room's messages in ascending timestamp order.
func (s *Service) History(ctx context.Context, room string, p pagination.Params) ([]*Message, int, error) {
	if room == "" {
		return nil, 0, fmt.Errorf("%w: roomId is required", ErrValidation)
	}
	items, total, err := s.repo.ListByRoom(ctx, room, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if items == nil {
		items = []*Message{}
	}
	return items, total, nil
}

// Conversation is the pairwise history between a and b.
func (s *Service) Conversation(ctx context.Context, a, b string, p pagination.Params) ([]*Message, int, error) {
	if a == "" || b == "" {
		return nil, 0, fmt.Errorf("%w: both participants are required", ErrValidation)
	}
	return s.History(ctx, websocket.DeriveRoomID(a, b), p)
}

// MarkRoomRead flags every message in room addressed to readerID as read.
func (s *Service) MarkRoomRead(ctx context.Context, room, readerID string) (int, error) {
	n, err := s.repo.MarkRoomRead(ctx, room, readerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return n, nil
}
