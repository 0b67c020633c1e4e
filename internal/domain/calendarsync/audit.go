package calendarsync

import (
	"context"

	"github.com/irfank123/CareSync-sub002/internal/platform/audit"
)

// Auditor is the best-effort audit collaborator.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// SyncAuditRecorder turns a finished run into one audit entry.
type SyncAuditRecorder struct {
	auditor Auditor
}

func NewSyncAuditRecorder(a Auditor) *SyncAuditRecorder {
	return &SyncAuditRecorder{auditor: a}
}

func (r *SyncAuditRecorder) Record(ctx context.Context, rec *SyncAuditRecord) {
	if r == nil || r.auditor == nil || rec == nil {
		return
	}
	r.auditor.Record(ctx, toEntry(rec))
}

func toEntry(rec *SyncAuditRecord) audit.Entry {
	payload := map[string]interface{}{
		"windowStart":   rec.Window.Start,
		"windowEnd":     rec.Window.End,
		"localCreated":  rec.Counts.LocalCreated,
		"localUpdated":  rec.Counts.LocalUpdated,
		"localDeleted":  rec.Counts.LocalDeleted,
		"remoteCreated": rec.Counts.RemoteCreated,
		"remoteUpdated": rec.Counts.RemoteUpdated,
		"remoteDeleted": rec.Counts.RemoteDeleted,
	}
	if len(rec.Errors) > 0 {
		payload["errors"] = rec.Errors
	}
	return audit.Entry{
		Action:    "calendar." + rec.Mode,
		DoctorID:  rec.DoctorID,
		ActorID:   rec.ActorID,
		Timestamp: rec.Timestamp,
		Payload:   payload,
	}
}
