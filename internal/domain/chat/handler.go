package chat

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carelink/internal/platform/auth"
	"github.com/ehr/carelink/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat")
	g.POST("/messages", h.SendMessage)
	g.GET("/rooms/:roomId/messages", h.RoomHistory)
	g.POST("/rooms/:roomId/read", h.MarkRoomRead)
	g.GET("/conversations/:userId", h.Conversation)
	g.GET("/unread-count", h.UnreadCount)
}

// httpError maps pipeline error kinds to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, PublicMessage(err))
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, PublicMessage(err))
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, PublicMessage(err))
	default:
		return echo.NewHTTPError(http.StatusServiceUnavailable, GenericSendFailure)
	}
}

func caller(c echo.Context) (string, string, error) {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return userID, auth.PrimaryRoleFromContext(ctx), nil
}

type sendBody struct {
	ReceiverID       string `json:"receiverId"`
	ReceiverRole     string `json:"receiverRole"`
	Message          string `json:"message"`
	RoomID           string `json:"roomId"`
	MedicalRequestID string `json:"medicalRequestId"`
	OrderID          string `json:"orderId"`
	PharmacyID       string `json:"pharmacyId"`
	PatientID        string `json:"patientId"`
	AppointmentID    string `json:"appointmentId"`
}

// SendMessage runs the same pipeline as the socket events. Messages tagged
// with a medical request take the pharmacy path.
func (h *Handler) SendMessage(c echo.Context) error {
	userID, role, err := caller(c)
	if err != nil {
		return err
	}
	var body sendBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.MedicalRequestID == "" {
		body.MedicalRequestID = body.OrderID
	}

	var msg *Message
	if body.MedicalRequestID != "" && (role == auth.RolePatient || role == auth.RolePharmacy) {
		msg, err = h.svc.SendPharmacyMessage(c.Request().Context(), PharmacyMessage{
			SenderID:         userID,
			SenderRole:       role,
			RoomID:           body.RoomID,
			Text:             body.Message,
			PharmacyID:       body.PharmacyID,
			MedicalRequestID: body.MedicalRequestID,
			PatientID:        body.PatientID,
		})
	} else {
		msg, err = h.svc.Send(c.Request().Context(), SendRequest{
			SenderID:     userID,
			SenderRole:   role,
			ReceiverID:   body.ReceiverID,
			ReceiverRole: body.ReceiverRole,
			Text:         body.Message,
			RoomID:       body.RoomID,
			Links: Links{
				MedicalRequestID: body.MedicalRequestID,
				PharmacyID:       body.PharmacyID,
				AppointmentID:    body.AppointmentID,
			},
		})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) RoomHistory(c echo.Context) error {
	userID, role, err := caller(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	room := c.Param("roomId")

	ok, err := h.svc.CanAccessRoom(ctx, userID, role, room)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant of this room")
	}

	p := pagination.FromContext(c)
	items, total, err := h.svc.History(ctx, room, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) Conversation(c echo.Context) error {
	userID, _, err := caller(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.Conversation(c.Request().Context(), userID, c.Param("userId"), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) MarkRoomRead(c echo.Context) error {
	userID, _, err := caller(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkRoomRead(c.Request().Context(), c.Param("roomId"), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) UnreadCount(c echo.Context) error {
	userID, _, err := caller(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}
