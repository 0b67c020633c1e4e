package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
)

// RequestTimeout puts a deadline on the request context. Handlers that
// return after the deadline with a context error get a 504. Paths containing
// any of longPaths get longTimeout instead.
func RequestTimeout(timeout, longTimeout time.Duration, longPaths ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := timeout
			for _, p := range longPaths {
				if strings.Contains(c.Request().URL.Path, p) {
					d = longTimeout
					break
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && (err == nil || errors.Is(err, context.DeadlineExceeded)) {
				if c.Response().Committed {
					return err
				}
				return echo.NewHTTPError(http.StatusGatewayTimeout, apperr.Body{
					Kind:    apperr.KindExternalService,
					Message: "request exceeded its time limit",
				})
			}
			return err
		}
	}
}
