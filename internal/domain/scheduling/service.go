package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/audit"
	"github.com/irfank123/CareSync-sub002/internal/platform/lock"
)

// Auditor is the best-effort audit collaborator.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// GenerationObserver receives per-run generation counts.
type GenerationObserver interface {
	ObserveGeneration(created, skipped int)
}

// Service owns the time-slot and unavailability lifecycle. It holds no
// per-call state; every write for a doctor runs under that doctor's lock.
type Service struct {
	slots   TimeSlotRepository
	periods UnavailabilityRepository
	doctors DoctorDirectory
	tx      TxRunner
	locker  lock.DoctorLocker
	audit   Auditor
	metrics GenerationObserver
	logger  zerolog.Logger
}

func NewService(slots TimeSlotRepository, periods UnavailabilityRepository, doctors DoctorDirectory,
	tx TxRunner, locker lock.DoctorLocker, auditor Auditor, logger zerolog.Logger) *Service {
	return &Service{
		slots:   slots,
		periods: periods,
		doctors: doctors,
		tx:      tx,
		locker:  locker,
		audit:   auditor,
		logger:  logger,
	}
}

// SetMetrics attaches an optional generation observer.
func (s *Service) SetMetrics(m GenerationObserver) { s.metrics = m }

func (s *Service) requireDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctorId is required")
	}
	d, err := s.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, apperr.Persistence(err, "load doctor")
	}
	return d, nil
}

func (s *Service) record(ctx context.Context, action string, doctorID uuid.UUID, actorID string, payload map[string]interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Entry{Action: action, DoctorID: doctorID, ActorID: actorID, Payload: payload})
}

// -- Time slot reads --

func (s *Service) GetTimeSlots(ctx context.Context, doctorID uuid.UUID, f SlotFilter) ([]*TimeSlot, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctorId is required")
	}
	if f.From != "" {
		if _, err := ParseDate(f.From); err != nil {
			return nil, err
		}
	}
	if f.Until != "" {
		if _, err := ParseDate(f.Until); err != nil {
			return nil, err
		}
	}
	if f.Status != "" && !validSlotStatuses[f.Status] {
		return nil, apperr.Validation("invalid status %q", f.Status)
	}
	return s.slots.ListByDoctor(ctx, doctorID, f)
}

func (s *Service) GetAvailableTimeSlots(ctx context.Context, doctorID uuid.UUID, from, until string) ([]*TimeSlot, error) {
	return s.GetTimeSlots(ctx, doctorID, SlotFilter{From: from, Until: until, Status: StatusAvailable})
}

func (s *Service) GetTimeSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.slots.GetByID(ctx, id)
}

// CheckOverlappingTimeSlots returns the first slot of doctorID on date that
// overlaps [start, end), or nil when the interval is free.
func (s *Service) CheckOverlappingTimeSlots(ctx context.Context, doctorID uuid.UUID, date, start, end string, excludeID *uuid.UUID) (*TimeSlot, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctorId is required")
	}
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	if _, _, err := interval(start, end); err != nil {
		return nil, err
	}
	existing, err := s.slots.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return FindConflict(existing, doctorID, date, start, end, excludeID)
}

// -- Time slot writes --

func (s *Service) CreateTimeSlot(ctx context.Context, sl *TimeSlot, actorID string) error {
	if err := normalizeSlot(sl); err != nil {
		return err
	}
	if _, err := s.requireDoctor(ctx, sl.DoctorID); err != nil {
		return err
	}
	sl.CreatedBy = actorID

	return s.locker.WithDoctorLock(ctx, sl.DoctorID, func(ctx context.Context) error {
		conflict, err := s.CheckOverlappingTimeSlots(ctx, sl.DoctorID, sl.Date, sl.StartTime, sl.EndTime, nil)
		if err != nil {
			return err
		}
		if conflict != nil {
			return apperr.Conflict("slot %s-%s on %s overlaps existing slot %s (%s-%s)",
				sl.StartTime, sl.EndTime, sl.Date, conflict.ID, conflict.StartTime, conflict.EndTime)
		}
		if err := s.slots.Create(ctx, sl); err != nil {
			return err
		}
		s.record(ctx, "timeslots.create", sl.DoctorID, actorID, map[string]interface{}{
			"slotId": sl.ID, "date": sl.Date, "startTime": sl.StartTime, "endTime": sl.EndTime,
		})
		return nil
	})
}

// normalizeSlot validates a new slot and fills defaults.
func normalizeSlot(sl *TimeSlot) error {
	if sl.DoctorID == uuid.Nil {
		return apperr.Validation("doctorId is required")
	}
	if _, err := ParseDate(sl.Date); err != nil {
		return err
	}
	if _, _, err := interval(sl.StartTime, sl.EndTime); err != nil {
		return err
	}
	sl.StartTime, _ = NormalizeTime(sl.StartTime)
	sl.EndTime, _ = NormalizeTime(sl.EndTime)
	if sl.Status == "" {
		sl.Status = StatusAvailable
	}
	if !validSlotStatuses[sl.Status] {
		return apperr.Validation("invalid status %q", sl.Status)
	}
	if sl.Status == StatusBooked && sl.PatientID == nil {
		return apperr.Validation("patientId is required for a booked slot")
	}
	if sl.Status != StatusBooked && sl.PatientID != nil {
		return apperr.Validation("patientId is only allowed on a booked slot")
	}
	sl.ExternalEventID = nil
	return nil
}

// UpdateTimeSlot applies patch to the slot. A booked slot keeps its date and
// times; only its status and patient may change.
func (s *Service) UpdateTimeSlot(ctx context.Context, id uuid.UUID, patch SlotPatch, actorID string) (*TimeSlot, error) {
	current, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *TimeSlot
	err = s.locker.WithDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		sl, err := s.slots.GetByID(ctx, id)
		if err != nil {
			return err
		}
		scheduleChanged := patch.changes(sl)
		if sl.IsBooked() && scheduleChanged {
			return apperr.LockedResource("slot %s is booked; its date and times cannot change", sl.ID)
		}
		next := *sl
		if err := applyPatch(&next, patch); err != nil {
			return err
		}
		if scheduleChanged {
			conflict, err := s.CheckOverlappingTimeSlots(ctx, next.DoctorID, next.Date, next.StartTime, next.EndTime, &next.ID)
			if err != nil {
				return err
			}
			if conflict != nil {
				return apperr.Conflict("slot %s-%s on %s overlaps existing slot %s",
					next.StartTime, next.EndTime, next.Date, conflict.ID)
			}
		}
		if err := s.slots.Update(ctx, &next); err != nil {
			return err
		}
		s.record(ctx, "timeslots.update", next.DoctorID, actorID, map[string]interface{}{
			"slotId": next.ID, "fromStatus": sl.Status, "toStatus": next.Status,
			"scheduleChanged": scheduleChanged,
		})
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyPatch(sl *TimeSlot, p SlotPatch) error {
	if p.Date != nil {
		if _, err := ParseDate(*p.Date); err != nil {
			return err
		}
		sl.Date = *p.Date
	}
	if p.StartTime != nil {
		sl.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		sl.EndTime = *p.EndTime
	}
	if p.touchesSchedule() {
		if _, _, err := interval(sl.StartTime, sl.EndTime); err != nil {
			return err
		}
		sl.StartTime, _ = NormalizeTime(sl.StartTime)
		sl.EndTime, _ = NormalizeTime(sl.EndTime)
	}

	if p.Status != nil {
		if !validSlotStatuses[*p.Status] {
			return apperr.Validation("invalid status %q", *p.Status)
		}
		sl.Status = *p.Status
	}
	if p.PatientID != nil {
		if sl.Status != StatusBooked {
			return apperr.Validation("patientId is only allowed on a booked slot")
		}
		sl.PatientID = p.PatientID
	}
	if sl.Status == StatusBooked && sl.PatientID == nil {
		return apperr.Validation("patientId is required for a booked slot")
	}
	if sl.Status != StatusBooked {
		sl.PatientID = nil
	}
	return nil
}

func (s *Service) DeleteTimeSlot(ctx context.Context, id uuid.UUID, actorID string) error {
	current, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.locker.WithDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		sl, err := s.slots.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sl.IsBooked() {
			return apperr.LockedResource("slot %s is booked; cancel the booking before deleting", sl.ID)
		}
		if err := s.slots.Delete(ctx, id); err != nil {
			return err
		}
		s.record(ctx, "timeslots.delete", sl.DoctorID, actorID, map[string]interface{}{
			"slotId": sl.ID, "date": sl.Date, "startTime": sl.StartTime, "endTime": sl.EndTime,
		})
		return nil
	})
}

// -- Unavailability --

func validatePeriod(p *UnavailabilityPeriod) error {
	if p.DoctorID == uuid.Nil {
		return apperr.Validation("doctorId is required")
	}
	if _, err := ParseDate(p.StartDate); err != nil {
		return err
	}
	if _, err := ParseDate(p.EndDate); err != nil {
		return err
	}
	if p.EndDate < p.StartDate {
		return apperr.Validation("endDate %s is before startDate %s", p.EndDate, p.StartDate)
	}
	return nil
}

func (s *Service) CreateUnavailability(ctx context.Context, p *UnavailabilityPeriod, actorID string) error {
	if err := validatePeriod(p); err != nil {
		return err
	}
	if _, err := s.requireDoctor(ctx, p.DoctorID); err != nil {
		return err
	}
	if err := s.periods.Create(ctx, p); err != nil {
		return err
	}
	s.record(ctx, "unavailability.create", p.DoctorID, actorID, map[string]interface{}{
		"periodId": p.ID, "startDate": p.StartDate, "endDate": p.EndDate,
	})
	return nil
}

func (s *Service) GetUnavailability(ctx context.Context, id uuid.UUID) (*UnavailabilityPeriod, error) {
	return s.periods.GetByID(ctx, id)
}

func (s *Service) UpdateUnavailability(ctx context.Context, p *UnavailabilityPeriod, actorID string) error {
	existing, err := s.periods.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.DoctorID = existing.DoctorID
	if err := validatePeriod(p); err != nil {
		return err
	}
	if err := s.periods.Update(ctx, p); err != nil {
		return err
	}
	s.record(ctx, "unavailability.update", p.DoctorID, actorID, map[string]interface{}{
		"periodId": p.ID, "startDate": p.StartDate, "endDate": p.EndDate,
	})
	return nil
}

func (s *Service) DeleteUnavailability(ctx context.Context, id uuid.UUID, actorID string) error {
	existing, err := s.periods.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.periods.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, "unavailability.delete", existing.DoctorID, actorID, map[string]interface{}{"periodId": id})
	return nil
}

func (s *Service) ListUnavailability(ctx context.Context, doctorID uuid.UUID, from, to string) ([]*UnavailabilityPeriod, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctorId is required")
	}
	if from == "" {
		from = "0001-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}
	if _, err := ParseDate(from); err != nil {
		return nil, err
	}
	if _, err := ParseDate(to); err != nil {
		return nil, err
	}
	return s.periods.ListByDoctor(ctx, doctorID, from, to)
}
