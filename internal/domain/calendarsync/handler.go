package calendarsync

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/auth"
	"github.com/irfank123/CareSync-sub002/internal/platform/calendar"
)

// Runner is the operation surface the handler drives.
type Runner interface {
	SyncWithCalendar(ctx context.Context, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error)
	ExportToCalendar(ctx context.Context, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error)
}

type Handler struct {
	engine Runner
}

func NewHandler(engine Runner) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/doctors/:doctorId/calendar/sync", h.Sync)
	api.POST("/doctors/:doctorId/calendar/export", h.Export)
}

func (h *Handler) Sync(c echo.Context) error {
	return h.run(c, h.engine.SyncWithCalendar)
}

func (h *Handler) Export(c echo.Context) error {
	return h.run(c, h.engine.ExportToCalendar)
}

type runFunc func(ctx context.Context, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error)

func (h *Handler) run(c echo.Context, fn runFunc) error {
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	var w calendar.Window
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := fn(ctx, doctorID, w, auth.ActorFromContext(ctx))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
