package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
)

// maxGenerationDays bounds a single generation call.
const maxGenerationDays = 366

// StandardRequest describes a fixed-grid generation over [StartDate, EndDate].
type StandardRequest struct {
	DoctorID            uuid.UUID `json:"doctorId"`
	StartDate           string    `json:"startDate"`
	EndDate             string    `json:"endDate"`
	SlotDurationMinutes int       `json:"slotDurationMinutes"`
	WorkingHours        TimeBlock `json:"workingHours"`
	ActorID             string    `json:"-"`
}

// RecurringRequest describes a weekly-template generation over [StartDate, EndDate].
type RecurringRequest struct {
	DoctorID      uuid.UUID      `json:"doctorId"`
	StartDate     string         `json:"startDate"`
	EndDate       string         `json:"endDate"`
	RecurringDays []time.Weekday `json:"recurringDays"`
	TimeBlocks    []TimeBlock    `json:"timeBlocks"`
	ActorID       string         `json:"-"`
}

// candidateFunc yields the intervals to try on one day.
type candidateFunc func(day time.Time) []TimeBlock

// GenerateStandardTimeSlots replaces the doctor's non-booked slots in the
// range with a fixed grid of SlotDurationMinutes inside WorkingHours.
func (s *Service) GenerateStandardTimeSlots(ctx context.Context, req StandardRequest) (*GenerationResult, error) {
	if req.SlotDurationMinutes <= 0 {
		return nil, apperr.Validation("slotDurationMinutes must be positive, got %d", req.SlotDurationMinutes)
	}
	ws, we, err := interval(req.WorkingHours.StartTime, req.WorkingHours.EndTime)
	if err != nil {
		return nil, err
	}

	var grid []TimeBlock
	for m := ws; m+req.SlotDurationMinutes <= we; m += req.SlotDurationMinutes {
		start, _ := MinutesToTime(m)
		end, err := MinutesToTime(m + req.SlotDurationMinutes)
		if err != nil {
			break
		}
		grid = append(grid, TimeBlock{StartTime: start, EndTime: end})
	}

	return s.generate(ctx, "timeslots.generate.standard", req.DoctorID, req.StartDate, req.EndDate, req.ActorID,
		func(time.Time) []TimeBlock { return grid })
}

// GenerateRecurringTimeSlots is GenerateStandardTimeSlots driven by explicit
// time blocks on the listed weekdays.
func (s *Service) GenerateRecurringTimeSlots(ctx context.Context, req RecurringRequest) (*GenerationResult, error) {
	if len(req.RecurringDays) == 0 {
		return nil, apperr.Validation("recurringDays is required")
	}
	if len(req.TimeBlocks) == 0 {
		return nil, apperr.Validation("timeBlocks is required")
	}
	days := make(map[time.Weekday]bool, len(req.RecurringDays))
	for _, d := range req.RecurringDays {
		if d < time.Sunday || d > time.Saturday {
			return nil, apperr.Validation("invalid weekday %d", d)
		}
		days[d] = true
	}
	blocks := make([]TimeBlock, 0, len(req.TimeBlocks))
	for _, b := range req.TimeBlocks {
		if _, _, err := interval(b.StartTime, b.EndTime); err != nil {
			return nil, err
		}
		start, _ := NormalizeTime(b.StartTime)
		end, _ := NormalizeTime(b.EndTime)
		blocks = append(blocks, TimeBlock{StartTime: start, EndTime: end})
	}

	return s.generate(ctx, "timeslots.generate.recurring", req.DoctorID, req.StartDate, req.EndDate, req.ActorID,
		func(day time.Time) []TimeBlock {
			if !days[day.Weekday()] {
				return nil
			}
			return blocks
		})
}

func (s *Service) generate(ctx context.Context, action string, doctorID uuid.UUID, from, to, actorID string, candidates candidateFunc) (*GenerationResult, error) {
	first, err := ParseDate(from)
	if err != nil {
		return nil, err
	}
	last, err := ParseDate(to)
	if err != nil {
		return nil, err
	}
	if last.Before(first) {
		return nil, apperr.Validation("endDate %s is before startDate %s", to, from)
	}
	if days := int(last.Sub(first).Hours()/24) + 1; days > maxGenerationDays {
		return nil, apperr.Validation("date range spans %d days, limit is %d", days, maxGenerationDays)
	}
	if _, err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	result := &GenerationResult{Skipped: []SkippedCandidate{}}
	err = s.locker.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			deleted, retained, err := s.slots.DeleteUnbookedInRange(ctx, doctorID, from, to)
			if err != nil {
				return err
			}
			periods, err := s.periods.ListByDoctor(ctx, doctorID, from, to)
			if err != nil {
				return err
			}

			// occupied starts as the retained booked slots and grows with
			// every accepted candidate.
			occupied := make(map[string][]*TimeSlot)
			for _, sl := range retained {
				occupied[sl.Date] = append(occupied[sl.Date], sl)
			}

			var created []*TimeSlot
			for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
				date := day.Format(dateLayout)
				if blocked(periods, date) {
					continue
				}
				for _, b := range candidates(day) {
					conflict, err := FindConflict(occupied[date], doctorID, date, b.StartTime, b.EndTime, nil)
					if err != nil {
						return err
					}
					if conflict != nil {
						result.Skipped = append(result.Skipped, SkippedCandidate{
							Date: date, StartTime: b.StartTime, EndTime: b.EndTime, ConflictsWith: conflict.ID,
						})
						continue
					}
					sl := &TimeSlot{
						ID:        uuid.New(),
						DoctorID:  doctorID,
						Date:      date,
						StartTime: b.StartTime,
						EndTime:   b.EndTime,
						Status:    StatusAvailable,
						CreatedBy: actorID,
					}
					occupied[date] = append(occupied[date], sl)
					created = append(created, sl)
				}
			}

			if err := s.slots.CreateBatch(ctx, created); err != nil {
				return err
			}

			result.Deleted = deleted
			result.Retained = len(retained)
			result.Created = len(created)
			result.Slots = append(append(make([]*TimeSlot, 0, len(retained)+len(created)), retained...), created...)
			return nil
		})
	})
	if err != nil {
		return nil, apperr.Persistence(err, "generate time slots")
	}

	sortSlots(result.Slots)
	if s.metrics != nil {
		s.metrics.ObserveGeneration(result.Created, len(result.Skipped))
	}
	s.record(ctx, action, doctorID, actorID, map[string]interface{}{
		"startDate": from,
		"endDate":   to,
		"deleted":   result.Deleted,
		"created":   result.Created,
		"retained":  result.Retained,
		"skipped":   len(result.Skipped),
	})
	s.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("action", action).
		Int("created", result.Created).
		Int("deleted", result.Deleted).
		Int("skipped", len(result.Skipped)).
		Msg("time slots generated")
	return result, nil
}

func blocked(periods []*UnavailabilityPeriod, date string) bool {
	for _, p := range periods {
		if p.Covers(date) {
			return true
		}
	}
	return false
}

func sortSlots(slots []*TimeSlot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}
