package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/carelink/internal/platform/auth"
)

const stackSize = 4 << 10

// Recovery turns handler panics into a 500 and logs them with the caller and
// the room being addressed, if any. A panic after the response was committed
// (an upgraded socket, a streamed body) is logged only.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]

				evt := logger.Error().
					Str("request_id", RequestIDFromContext(c)).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack)
				if userID := auth.UserIDFromContext(c.Request().Context()); userID != "" {
					evt = evt.Str("user_id", userID)
				}
				if room := c.Param("roomId"); room != "" {
					evt = evt.Str("room_id", room)
				}
				committed := c.Response().Committed
				evt.Bool("committed", committed).Msg("panic recovered")

				if !committed {
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}
