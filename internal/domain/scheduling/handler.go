package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Time slots
	api.GET("/doctors/:doctorId/timeslots", h.ListTimeSlots)
	api.POST("/doctors/:doctorId/timeslots", h.CreateTimeSlot)
	api.GET("/doctors/:doctorId/timeslots/available", h.ListAvailableTimeSlots)
	api.POST("/doctors/:doctorId/timeslots/generate/standard", h.GenerateStandard)
	api.POST("/doctors/:doctorId/timeslots/generate/recurring", h.GenerateRecurring)
	api.POST("/doctors/:doctorId/timeslots/check-overlap", h.CheckOverlap)
	api.GET("/timeslots/:id", h.GetTimeSlot)
	api.PATCH("/timeslots/:id", h.UpdateTimeSlot)
	api.DELETE("/timeslots/:id", h.DeleteTimeSlot)

	// Unavailability
	api.GET("/doctors/:doctorId/unavailability", h.ListUnavailability)
	api.POST("/doctors/:doctorId/unavailability", h.CreateUnavailability)
	api.GET("/unavailability/:id", h.GetUnavailability)
	api.PUT("/unavailability/:id", h.UpdateUnavailability)
	api.DELETE("/unavailability/:id", h.DeleteUnavailability)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func actor(c echo.Context) string {
	return auth.ActorFromContext(c.Request().Context())
}

// -- Time slot handlers --

func (h *Handler) ListTimeSlots(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	slots, err := h.svc.GetTimeSlots(c.Request().Context(), doctorID, SlotFilter{
		From:   c.QueryParam("from"),
		Until:  c.QueryParam("until"),
		Status: c.QueryParam("status"),
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, listResponse(slots))
}

func (h *Handler) ListAvailableTimeSlots(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	slots, err := h.svc.GetAvailableTimeSlots(c.Request().Context(), doctorID, c.QueryParam("from"), c.QueryParam("until"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, listResponse(slots))
}

func listResponse(slots []*TimeSlot) map[string]interface{} {
	if slots == nil {
		slots = []*TimeSlot{}
	}
	return map[string]interface{}{"data": slots, "total": len(slots)}
}

func (h *Handler) CreateTimeSlot(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	var sl TimeSlot
	if err := c.Bind(&sl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sl.ID = uuid.Nil
	sl.DoctorID = doctorID
	if err := h.svc.CreateTimeSlot(c.Request().Context(), &sl, actor(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) GetTimeSlot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sl, err := h.svc.GetTimeSlotByID(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) UpdateTimeSlot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var patch SlotPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sl, err := h.svc.UpdateTimeSlot(c.Request().Context(), id, patch, actor(c))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) DeleteTimeSlot(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTimeSlot(c.Request().Context(), id, actor(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GenerateStandard(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	var req StandardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.DoctorID = doctorID
	req.ActorID = actor(c)
	res, err := h.svc.GenerateStandardTimeSlots(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GenerateRecurring(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	var req RecurringRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.DoctorID = doctorID
	req.ActorID = actor(c)
	res, err := h.svc.GenerateRecurringTimeSlots(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

type overlapRequest struct {
	Date      string     `json:"date"`
	StartTime string     `json:"startTime"`
	EndTime   string     `json:"endTime"`
	ExcludeID *uuid.UUID `json:"excludeId,omitempty"`
}

type overlapResponse struct {
	Overlaps bool      `json:"overlaps"`
	Conflict *TimeSlot `json:"conflict,omitempty"`
}

func (h *Handler) CheckOverlap(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	var req overlapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conflict, err := h.svc.CheckOverlappingTimeSlots(c.Request().Context(), doctorID, req.Date, req.StartTime, req.EndTime, req.ExcludeID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, overlapResponse{Overlaps: conflict != nil, Conflict: conflict})
}

// -- Unavailability handlers --

func (h *Handler) ListUnavailability(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	periods, err := h.svc.ListUnavailability(c.Request().Context(), doctorID, c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	if periods == nil {
		periods = []*UnavailabilityPeriod{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": periods, "total": len(periods)})
}

func (h *Handler) CreateUnavailability(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}
	var p UnavailabilityPeriod
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = uuid.Nil
	p.DoctorID = doctorID
	if err := h.svc.CreateUnavailability(c.Request().Context(), &p, actor(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetUnavailability(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetUnavailability(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateUnavailability(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var p UnavailabilityPeriod
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdateUnavailability(c.Request().Context(), &p, actor(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteUnavailability(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUnavailability(c.Request().Context(), id, actor(c)); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
