package scheduling

import (
	"github.com/google/uuid"
)

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. Touching intervals do not overlap.
func Overlaps(s1, e1, s2, e2 int) bool {
	return s1 < e2 && s2 < e1
}

// FindConflict returns the first slot among existing that belongs to doctorID
// on date and overlaps [start, end). excludeID skips the slot being updated.
// Slots with unparsable stored times are ignored; the candidate itself must be
// well formed.
func FindConflict(existing []*TimeSlot, doctorID uuid.UUID, date, start, end string, excludeID *uuid.UUID) (*TimeSlot, error) {
	s, e, err := interval(start, end)
	if err != nil {
		return nil, err
	}
	for _, sl := range existing {
		if sl.DoctorID != doctorID || sl.Date != date {
			continue
		}
		if excludeID != nil && sl.ID == *excludeID {
			continue
		}
		bs, be, err := interval(sl.StartTime, sl.EndTime)
		if err != nil {
			continue
		}
		if Overlaps(s, e, bs, be) {
			return sl, nil
		}
	}
	return nil, nil
}
