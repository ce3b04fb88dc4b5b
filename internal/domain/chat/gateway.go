package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/carelink/internal/domain/pharmacy"
	"github.com/ehr/carelink/internal/platform/auth"
	"github.com/ehr/carelink/internal/platform/websocket"
)

// Client→server event names.
const (
	EventAuthenticate              = "authenticate"
	EventJoinChatRoom              = "join-chat-room"
	EventJoinChatRoomByID          = "join-chat-room-by-id"
	EventLeaveChatRoom             = "leave-chat-room"
	EventJoinPharmacyChatRoom      = "joinPharmacyChatRoom"
	EventJoinOrderChatRoom         = "joinOrderChatRoom"
	EventJoinPharmacyRoom          = "joinPharmacyRoom"
	EventSubscribePharmacyRequests = "subscribe-pharmacy-requests"
	EventPatientSendMessage        = "patientSendMessage"
	EventPharmacySendMessage       = "pharmacySendMessage"
	EventSendChatMessage           = "send-chat-message"
	EventTypingStart               = "typing-start"
	EventTypingStop                = "typing-stop"
)

// RoleResolver looks up a user's role for development-mode authentication.
type RoleResolver interface {
	Role(ctx context.Context, userID string) string
}

// GatewayOptions configures socket authentication.
type GatewayOptions struct {
	// DevMode trusts a bare userId on authenticate. Otherwise a token is
	// required.
	DevMode bool
}

// Gateway binds the socket protocol to the chat pipeline.
type Gateway struct {
	hub      *websocket.Hub
	svc      *Service
	requests pharmacy.Repository
	verifier *auth.TokenVerifier
	roles    RoleResolver
	opts     GatewayOptions
	logger   zerolog.Logger
}

func NewGateway(hub *websocket.Hub, svc *Service, requests pharmacy.Repository, verifier *auth.TokenVerifier, roles RoleResolver, opts GatewayOptions, logger zerolog.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		svc:      svc,
		requests: requests,
		verifier: verifier,
		roles:    roles,
		opts:     opts,
		logger:   logger.With().Str("component", "chat-gateway").Logger(),
	}
}

// Register installs every chat event handler on r.
func (g *Gateway) Register(r *websocket.Router) {
	r.On(EventAuthenticate, g.authenticate)
	r.On(EventJoinChatRoom, g.joinChatRoom)
	r.On(EventJoinChatRoomByID, g.joinChatRoomByID)
	r.On(EventLeaveChatRoom, g.leaveChatRoom)
	r.On(EventJoinPharmacyChatRoom, g.joinPharmacyChatRoom)
	r.On(EventJoinOrderChatRoom, g.joinOrderChatRoom)
	r.On(EventJoinPharmacyRoom, g.joinPharmacyRoom)
	r.On(EventSubscribePharmacyRequests, g.subscribePharmacyRequests)
	r.On(EventPatientSendMessage, g.pharmacySend(auth.RolePatient))
	r.On(EventPharmacySendMessage, g.pharmacySend(auth.RolePharmacy))
	r.On(EventSendChatMessage, g.sendChatMessage)
	r.On(EventTypingStart, g.typingStart)
	r.On(EventTypingStop, g.typingStop)

	r.OnDisconnect(func(c *websocket.Client, userID string) {
		g.logger.Debug().Str("conn_id", c.ID).Str("user_id", userID).Msg("socket disconnected")
	})
}

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

type authPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type roomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	DoctorID string `json:"doctorId"`
}

// pharmacyPayload is shared by the pharmacy join and send events. OrderID is
// an alias of MedicalRequestID, folded in by normalize.
type pharmacyPayload struct {
	RoomID           string `json:"roomId"`
	Message          string `json:"message"`
	PharmacyID       string `json:"pharmacyId"`
	MedicalRequestID string `json:"medicalRequestId"`
	OrderID          string `json:"orderId"`
	PatientID        string `json:"patientId"`
}

func (p *pharmacyPayload) normalize() {
	if p.MedicalRequestID == "" {
		p.MedicalRequestID = p.OrderID
	}
	p.OrderID = ""
}

type directPayload struct {
	ReceiverID    string `json:"receiverId"`
	Message       string `json:"message"`
	ReceiverModel string `json:"receiverModel"`
	RoomID        string `json:"roomId"`
	AppointmentID string `json:"appointmentId"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

func decode(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", ErrValidation)
	}
	return nil
}

// decodeID accepts either a bare JSON string or an object carrying field.
func decodeID(data json.RawMessage, field string) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	switch v := m[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func (g *Gateway) chatError(c *websocket.Client, err error) {
	g.hub.EmitToConnection(c.ID, websocket.EventChatError, map[string]string{"message": PublicMessage(err)})
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

func (g *Gateway) authenticate(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	var p authPayload
	if err := json.Unmarshal(data, &p.UserID); err != nil {
		if err := decode(data, &p); err != nil {
			return err
		}
	}
	p.UserID = strings.TrimSpace(p.UserID)

	userID, role := p.UserID, ""
	switch {
	case p.Token != "" && g.verifier != nil:
		claims, err := g.verifier.Verify(p.Token)
		if err != nil {
			return errors.New("authentication failed")
		}
		if userID != "" && userID != claims.Subject {
			return errors.New("authentication failed: token does not match userId")
		}
		userID, role = claims.Subject, claims.PrimaryRole()
	case g.opts.DevMode:
		if userID == "" {
			return errors.New("userId is required")
		}
		if g.roles != nil {
			role = g.roles.Role(ctx, userID)
		}
	default:
		return errors.New("authentication token is required")
	}

	if !g.hub.Authenticate(c, userID, role) {
		return nil
	}
	g.hub.Join(c.ID, websocket.UserRoomID(userID))
	g.hub.EmitToConnection(c.ID, websocket.EventAuthenticated, map[string]string{
		"userId":       userID,
		"connectionId": c.ID,
	})
	g.logger.Debug().Str("conn_id", c.ID).Str("user_id", userID).Str("role", role).Msg("socket authenticated")
	return nil
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

func (g *Gateway) joinChatRoom(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		g.chatError(c, err)
		return nil
	}
	room := p.RoomID
	if room == "" && p.UserID != "" && p.DoctorID != "" {
		room = websocket.DeriveRoomID(p.UserID, p.DoctorID)
	}
	if room == "" {
		g.chatError(c, fmt.Errorf("%w: roomId or userId and doctorId are required", ErrValidation))
		return nil
	}
	g.hub.Join(c.ID, room)
	g.hub.EmitToConnection(c.ID, websocket.EventChatRoomJoined, map[string]string{"roomId": room})
	return nil
}

func (g *Gateway) joinChatRoomByID(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	room := decodeID(data, "roomId")
	if room == "" {
		g.chatError(c, fmt.Errorf("%w: roomId is required", ErrValidation))
		return nil
	}
	g.hub.Join(c.ID, room)
	g.hub.EmitToConnection(c.ID, websocket.EventChatRoomJoined, map[string]string{"roomId": room})
	return nil
}

func (g *Gateway) leaveChatRoom(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	if room := decodeID(data, "roomId"); room != "" {
		g.hub.Leave(c.ID, room)
	}
	return nil
}

func (g *Gateway) joinedPharmacyChat(c *websocket.Client, room, pharmacyID, requestID string) {
	g.hub.Join(c.ID, room)
	g.hub.EmitToConnection(c.ID, websocket.EventPharmacyChatRoomJoined, map[string]string{
		"roomId":           room,
		"pharmacyId":       pharmacyID,
		"medicalRequestId": requestID,
	})
}

func (g *Gateway) joinPharmacyChatRoom(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	var p pharmacyPayload
	if err := decode(data, &p); err != nil {
		g.chatError(c, err)
		return nil
	}
	p.normalize()

	room := p.RoomID
	if room == "" {
		if p.PharmacyID == "" || p.MedicalRequestID == "" {
			g.chatError(c, fmt.Errorf("%w: pharmacyId and medicalRequestId are required", ErrValidation))
			return nil
		}
		room = websocket.DerivePharmacyRequestRoomID(p.PharmacyID, p.MedicalRequestID)
	}
	g.joinedPharmacyChat(c, room, p.PharmacyID, p.MedicalRequestID)
	return nil
}

func (g *Gateway) joinOrderChatRoom(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	orderID := decodeID(data, "orderId")
	if orderID == "" {
		g.chatError(c, fmt.Errorf("%w: orderId is required", ErrValidation))
		return nil
	}

	order, err := g.requests.GetOrder(ctx, orderID)
	if errors.Is(err, pharmacy.ErrNotFound) {
		g.chatError(c, fmt.Errorf("%w: order %s", ErrNotFound, orderID))
		return nil
	}
	if err != nil {
		g.logger.Error().Err(err).Str("order_id", orderID).Msg("order lookup failed")
		g.chatError(c, fmt.Errorf("%w: %v", ErrTransient, err))
		return nil
	}

	room := websocket.DerivePharmacyRequestRoomID(order.PharmacyID, order.RequestID())
	g.joinedPharmacyChat(c, room, order.PharmacyID, order.RequestID())
	return nil
}

// requirePharmacyIdentity checks that the caller is the pharmacy it names.
// Failures surface as "error" events via the router.
func (g *Gateway) requirePharmacyIdentity(c *websocket.Client, pharmacyID string) error {
	if pharmacyID == "" {
		return errors.New("pharmacyId is required")
	}
	if c.UserID() != pharmacyID {
		g.logger.Warn().Str("conn_id", c.ID).Str("user_id", c.UserID()).Str("pharmacy_id", pharmacyID).
			Msg("pharmacy room subscription rejected")
		return fmt.Errorf("Unauthorized: cannot subscribe to pharmacy %s", pharmacyID)
	}
	return nil
}

func (g *Gateway) joinPharmacyRoom(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	pharmacyID := decodeID(data, "pharmacyId")
	if err := g.requirePharmacyIdentity(c, pharmacyID); err != nil {
		return err
	}
	room := websocket.PharmacyRoomID(pharmacyID)
	g.hub.Join(c.ID, room)
	g.hub.EmitToConnection(c.ID, websocket.EventPharmacyRoomJoined, map[string]string{
		"pharmacyId": pharmacyID,
		"roomId":     room,
	})
	return nil
}

func (g *Gateway) subscribePharmacyRequests(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	pharmacyID := decodeID(data, "pharmacyId")
	if err := g.requirePharmacyIdentity(c, pharmacyID); err != nil {
		return err
	}
	g.hub.Join(c.ID, websocket.PharmacyRoomID(pharmacyID))
	g.hub.EmitToConnection(c.ID, websocket.EventPharmacyRequestsWatched, map[string]string{"pharmacyId": pharmacyID})
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// admitSend enforces authentication and the per-connection send limit.
func (g *Gateway) admitSend(c *websocket.Client) bool {
	if !c.Authenticated() {
		g.chatError(c, fmt.Errorf("%w: authenticate before sending messages", ErrUnauthorized))
		return false
	}
	if !c.Allow() {
		g.hub.EmitToConnection(c.ID, websocket.EventChatError, map[string]string{"message": "Too many messages, slow down"})
		return false
	}
	return true
}

// senderRoleFor checks the connection's role against the role an event
// implies. Connections without a resolved role may only send as patients.
func senderRoleFor(c *websocket.Client, eventRole string) (string, error) {
	role := c.Role()
	if role == "" && eventRole == auth.RolePatient {
		return auth.RolePatient, nil
	}
	if role != eventRole {
		return "", fmt.Errorf("%w: %s cannot send as %s", ErrUnauthorized, c.UserID(), eventRole)
	}
	return role, nil
}

func (g *Gateway) pharmacySend(eventRole string) websocket.HandlerFunc {
	return func(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
		if !g.admitSend(c) {
			return nil
		}
		senderRole, err := senderRoleFor(c, eventRole)
		if err != nil {
			g.logger.Warn().Str("conn_id", c.ID).Str("user_id", c.UserID()).Str("role", c.Role()).
				Str("event_role", eventRole).Msg("pharmacy send rejected: role mismatch")
			g.chatError(c, err)
			return nil
		}
		var p pharmacyPayload
		if err := decode(data, &p); err != nil {
			g.chatError(c, err)
			return nil
		}
		p.normalize()

		_, err = g.svc.SendPharmacyMessage(ctx, PharmacyMessage{
			SenderID:         c.UserID(),
			SenderRole:       senderRole,
			RoomID:           p.RoomID,
			Text:             p.Message,
			PharmacyID:       p.PharmacyID,
			MedicalRequestID: p.MedicalRequestID,
			PatientID:        p.PatientID,
		})
		if err != nil {
			g.chatError(c, err)
		}
		return nil
	}
}

func (g *Gateway) sendChatMessage(ctx context.Context, c *websocket.Client, data json.RawMessage) error {
	if !g.admitSend(c) {
		return nil
	}
	var p directPayload
	if err := decode(data, &p); err != nil {
		g.chatError(c, err)
		return nil
	}

	_, err := g.svc.Send(ctx, SendRequest{
		SenderID:     c.UserID(),
		SenderRole:   c.Role(),
		ReceiverID:   p.ReceiverID,
		ReceiverRole: p.ReceiverModel,
		Text:         p.Message,
		RoomID:       p.RoomID,
		Links:        Links{AppointmentID: p.AppointmentID},
	})
	if err != nil {
		g.chatError(c, err)
	}
	return nil
}

func (g *Gateway) typingStart(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	var p typingPayload
	if err := decode(data, &p); err != nil || p.RoomID == "" {
		return nil
	}
	g.hub.EmitToRoomExcept(p.RoomID, c.ID, websocket.EventUserTyping, map[string]string{"userName": p.UserName})
	return nil
}

func (g *Gateway) typingStop(_ context.Context, c *websocket.Client, data json.RawMessage) error {
	var p typingPayload
	if err := decode(data, &p); err != nil || p.RoomID == "" {
		return nil
	}
	g.hub.EmitToRoomExcept(p.RoomID, c.ID, websocket.EventUserStoppedTyping, map[string]string{})
	return nil
}
