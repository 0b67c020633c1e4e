package scheduling

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusAvailable   = "available"
	StatusBooked      = "booked"
	StatusUnavailable = "unavailable"
)

var validSlotStatuses = map[string]bool{
	StatusAvailable:   true,
	StatusBooked:      true,
	StatusUnavailable: true,
}

// TimeSlot maps to the time_slot table. Date is a calendar day (YYYY-MM-DD)
// and StartTime/EndTime are minute-of-day strings normalized to HH:MM.
type TimeSlot struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctorId"`
	Date            string     `db:"slot_date" json:"date"`
	StartTime       string     `db:"start_time" json:"startTime"`
	EndTime         string     `db:"end_time" json:"endTime"`
	Status          string     `db:"status" json:"status"`
	PatientID       *uuid.UUID `db:"patient_id" json:"patientId,omitempty"`
	ExternalEventID *string    `db:"external_event_id" json:"externalEventId,omitempty"`
	CreatedBy       string     `db:"created_by" json:"createdBy"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

func (s *TimeSlot) IsBooked() bool { return s.Status == StatusBooked }

// UnavailabilityPeriod suppresses slot generation for every day in
// [StartDate, EndDate], both ends inclusive.
type UnavailabilityPeriod struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctorId"`
	StartDate string    `db:"start_date" json:"startDate"`
	EndDate   string    `db:"end_date" json:"endDate"`
	Reason    *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Covers reports whether the period includes the given YYYY-MM-DD day.
func (p *UnavailabilityPeriod) Covers(date string) bool {
	return p.StartDate <= date && date <= p.EndDate
}

// Doctor is the scheduling view of a clinician owned by the identity service.
type Doctor struct {
	ID            uuid.UUID `json:"id"`
	CalendarID    *string   `json:"calendarId,omitempty"`
	HasCredential bool      `json:"hasCredential"`
}

// SlotFilter narrows a doctor's slots to [From, Until). Empty bounds are open.
type SlotFilter struct {
	From   string
	Until  string
	Status string
}

// SlotPatch carries the mutable fields of an update; nil fields are left alone.
type SlotPatch struct {
	Date      *string    `json:"date,omitempty"`
	StartTime *string    `json:"startTime,omitempty"`
	EndTime   *string    `json:"endTime,omitempty"`
	Status    *string    `json:"status,omitempty"`
	PatientID *uuid.UUID `json:"patientId,omitempty"`
}

func (p SlotPatch) touchesSchedule() bool {
	return p.Date != nil || p.StartTime != nil || p.EndTime != nil
}

// changes reports whether applying p would move sl. Unparsable times count as
// a change.
func (p SlotPatch) changes(sl *TimeSlot) bool {
	if p.Date != nil && *p.Date != sl.Date {
		return true
	}
	for _, pair := range [][2]*string{{p.StartTime, &sl.StartTime}, {p.EndTime, &sl.EndTime}} {
		if pair[0] == nil {
			continue
		}
		n, err := NormalizeTime(*pair[0])
		if err != nil || n != *pair[1] {
			return true
		}
	}
	return false
}

// TimeBlock is one explicit interval of a recurring template.
type TimeBlock struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// SkippedCandidate is a generated interval that was not inserted because it
// overlapped a retained booked slot or an earlier candidate.
type SkippedCandidate struct {
	Date          string    `json:"date"`
	StartTime     string    `json:"startTime"`
	EndTime       string    `json:"endTime"`
	ConflictsWith uuid.UUID `json:"conflictsWith"`
}

// GenerationResult is returned by both generator entry points. Slots holds the
// inserted slots plus the retained booked slots, ordered by date and start.
type GenerationResult struct {
	Slots    []*TimeSlot        `json:"slots"`
	Created  int                `json:"created"`
	Deleted  int                `json:"deleted"`
	Retained int                `json:"retained"`
	Skipped  []SkippedCandidate `json:"skipped"`
}
