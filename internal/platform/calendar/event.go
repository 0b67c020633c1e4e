// Package calendar adapts an external calendar service to the small surface
// the sync engine needs: list a window, insert, update and delete events.
package calendar

import (
	"fmt"
	"time"
)

// Window is a half-open range of calendar days [Start, End), YYYY-MM-DD.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Bounds returns the window as instants at midnight in loc.
func (w Window) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, w.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window start %q", w.Start)
	}
	end, err := time.ParseInLocation(dateLayout, w.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window end %q", w.End)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %s must be after start %s", w.End, w.Start)
	}
	return start, end, nil
}

const dateLayout = "2006-01-02"

type TimeKind int

const (
	// DateOnly is an all-day value with no time component.
	DateOnly TimeKind = iota + 1
	// DateTime is an instant with an offset.
	DateTime
)

// EventTime is one of the two representations a remote event boundary can
// take. Exactly one of Date or Instant is meaningful, selected by Kind.
type EventTime struct {
	Kind    TimeKind
	Date    string
	Instant time.Time
}

func NewDateOnly(date string) EventTime { return EventTime{Kind: DateOnly, Date: date} }

func NewDateTime(t time.Time) EventTime { return EventTime{Kind: DateTime, Instant: t} }

// DecodeEventTime validates a raw remote boundary. Exactly one of date
// (YYYY-MM-DD) or dateTime (RFC 3339) must be set.
func DecodeEventTime(date, dateTime string) (EventTime, error) {
	switch {
	case date != "" && dateTime != "":
		return EventTime{}, fmt.Errorf("event time has both date %q and dateTime %q", date, dateTime)
	case date != "":
		if _, err := time.Parse(dateLayout, date); err != nil {
			return EventTime{}, fmt.Errorf("event date %q: %w", date, err)
		}
		return NewDateOnly(date), nil
	case dateTime != "":
		t, err := time.Parse(time.RFC3339, dateTime)
		if err != nil {
			return EventTime{}, fmt.Errorf("event dateTime %q: %w", dateTime, err)
		}
		return NewDateTime(t), nil
	default:
		return EventTime{}, fmt.Errorf("event time has neither date nor dateTime")
	}
}

// Equal compares kinds and values; instants compare by moment, not offset.
func (t EventTime) Equal(o EventTime) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind == DateOnly {
		return t.Date == o.Date
	}
	return t.Instant.Equal(o.Instant)
}

func (t EventTime) String() string {
	switch t.Kind {
	case DateOnly:
		return t.Date
	case DateTime:
		return t.Instant.Format(time.RFC3339)
	}
	return "<invalid>"
}

// Marker keys live in the event's private extended properties.
const (
	MarkerSourceKey = "caresync.source"
	MarkerSlotKey   = "caresync.slot_id"
	MarkerStatusKey = "caresync.status"
	MarkerSource    = "caresync"
)

// Marker identifies events this system created. Events without it belong to
// the doctor's personal calendar and are never modified.
type Marker struct {
	Source string
	SlotID string
	Status string
}

func SystemMarker(slotID, status string) Marker {
	return Marker{Source: MarkerSource, SlotID: slotID, Status: status}
}

func (m Marker) IsSystem() bool { return m.Source == MarkerSource }

func (m Marker) Properties() map[string]string {
	if !m.IsSystem() {
		return nil
	}
	return map[string]string{
		MarkerSourceKey: m.Source,
		MarkerSlotKey:   m.SlotID,
		MarkerStatusKey: m.Status,
	}
}

func MarkerFromProperties(props map[string]string) Marker {
	return Marker{
		Source: props[MarkerSourceKey],
		SlotID: props[MarkerSlotKey],
		Status: props[MarkerStatusKey],
	}
}

// Event is the remote calendar entry as seen by the sync engine.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       EventTime
	End         EventTime
	Marker      Marker
}
