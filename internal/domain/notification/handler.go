package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carelink/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.PATCH("/read-all", h.MarkAllRead)
	g.PATCH("/:id/read", h.MarkRead)

	// Dispatch on behalf of other services.
	g.POST("", h.Create, auth.RequireRole(auth.RoleAdmin))
}

func callerID(c echo.Context) (string, error) {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return userID, nil
}

func (h *Handler) List(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.svc.List(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to load notifications")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	count, err := h.svc.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to count notifications")
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

func (h *Handler) MarkRead(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	err = h.svc.MarkRead(c.Request().Context(), c.Param("id"), userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to update notification")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to update notifications")
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) Create(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.Send(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if n == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to create notification")
	}
	return c.JSON(http.StatusCreated, n)
}
