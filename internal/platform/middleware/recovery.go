package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
)

func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					ev := logger.Error().
						Str("request_id", fmt.Sprintf("%v", c.Get(RequestIDKey))).
						Str("route", c.Path()).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n]))
					if id := c.Param("doctorId"); id != "" {
						ev = ev.Str("doctor_id", id)
					}
					ev.Msg("panic recovered")

					err = echo.NewHTTPError(http.StatusInternalServerError, apperr.Body{
						Kind:    apperr.KindPersistence,
						Message: "internal error",
					})
				}
			}()
			return next(c)
		}
	}
}
