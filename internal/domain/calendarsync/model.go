// Package calendarsync reconciles a doctor's local time slots with the
// events on their external calendar.
package calendarsync

import (
	"time"

	"github.com/google/uuid"

	"github.com/irfank123/CareSync-sub002/internal/platform/calendar"
)

const (
	ModeSync   = "sync"
	ModeExport = "export"
)

// Counts are the six per-run totals of a reconciliation.
type Counts struct {
	LocalCreated  int `json:"localCreated"`
	LocalUpdated  int `json:"localUpdated"`
	LocalDeleted  int `json:"localDeleted"`
	RemoteCreated int `json:"remoteCreated"`
	RemoteUpdated int `json:"remoteUpdated"`
	RemoteDeleted int `json:"remoteDeleted"`
}

// IsZero reports whether the run changed nothing.
func (c Counts) IsZero() bool { return c == Counts{} }

// SyncError is one remote call that failed and was skipped.
type SyncError struct {
	Op      string `json:"op"`
	SlotID  string `json:"slotId,omitempty"`
	EventID string `json:"eventId,omitempty"`
	Message string `json:"message"`
}

// SyncAuditRecord summarizes one sync or export call. It is built once at the
// end of the run and never changed afterwards.
type SyncAuditRecord struct {
	DoctorID  uuid.UUID       `json:"doctorId"`
	Window    calendar.Window `json:"window"`
	Mode      string          `json:"mode"`
	Counts    Counts          `json:"counts"`
	Errors    []SyncError     `json:"errors,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ActorID   string          `json:"actorId"`
}
