package calendarsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/irfank123/CareSync-sub002/internal/domain/scheduling"
	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/calendar"
	"github.com/irfank123/CareSync-sub002/internal/platform/lock"
)

// maxWindowDays bounds a single reconciliation window.
const maxWindowDays = 366

// SlotStore is the part of the time-slot repository the engine touches.
type SlotStore interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f scheduling.SlotFilter) ([]*scheduling.TimeSlot, error)
	SetExternalEventIDs(ctx context.Context, links map[uuid.UUID]string) error
	GetByExternalEventID(ctx context.Context, doctorID uuid.UUID, eventID string) (*scheduling.TimeSlot, error)
}

// ClientFactory hands out a calendar client bound to one doctor.
type ClientFactory interface {
	ClientFor(ctx context.Context, doctorID uuid.UUID) (calendar.Client, error)
}

// Metrics receives run and per-call outcomes.
type Metrics interface {
	ObserveSyncRun(mode, result string, d time.Duration)
	ObserveRemoteOp(op string, ok bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSyncRun(string, string, time.Duration) {}
func (nopMetrics) ObserveRemoteOp(string, bool)                 {}

// Options tune remote calls and event derivation.
type Options struct {
	Location      *time.Location
	RemoteTimeout time.Duration
	Concurrency   int
}

// Engine runs sync and export for one doctor at a time. It keeps no per-call
// state, so one instance serves the whole process.
type Engine struct {
	slots    SlotStore
	doctors  scheduling.DoctorDirectory
	clients  ClientFactory
	tx       scheduling.TxRunner
	locker   lock.DoctorLocker
	recorder *SyncAuditRecorder
	metrics  Metrics
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(slots SlotStore, doctors scheduling.DoctorDirectory, clients ClientFactory, tx scheduling.TxRunner,
	locker lock.DoctorLocker, recorder *SyncAuditRecorder, metrics Metrics, opts Options, logger zerolog.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Engine{
		slots:    slots,
		doctors:  doctors,
		clients:  clients,
		tx:       tx,
		locker:   locker,
		recorder: recorder,
		metrics:  metrics,
		opts:     opts,
		logger:   logger.With().Str("component", "calendarsync").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SyncWithCalendar reconciles local slots in w with the doctor's remote
// events: missing events are created or recreated, drifted ones updated and
// orphaned system events deleted. Personal events are never touched.
func (e *Engine) SyncWithCalendar(ctx context.Context, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error) {
	return e.run(ctx, ModeSync, doctorID, w, actorID)
}

// ExportToCalendar creates a remote event for every slot in w that has none.
// It never updates or deletes remote events.
func (e *Engine) ExportToCalendar(ctx context.Context, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error) {
	return e.run(ctx, ModeExport, doctorID, w, actorID)
}

func (e *Engine) run(ctx context.Context, mode string, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error) {
	started := time.Now()
	rec, err := e.reconcile(ctx, mode, doctorID, w, actorID)

	result := "ok"
	switch {
	case err != nil:
		result = string(apperr.KindOf(err))
		if result == "" {
			result = "error"
		}
	case len(rec.Errors) > 0:
		result = "partial"
	}
	e.metrics.ObserveSyncRun(mode, result, time.Since(started))
	if err != nil {
		return nil, err
	}

	if e.recorder != nil {
		e.recorder.Record(ctx, rec)
	}
	e.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("mode", mode).
		Str("window", w.Start+".."+w.End).
		Int("remote_created", rec.Counts.RemoteCreated).
		Int("remote_updated", rec.Counts.RemoteUpdated).
		Int("remote_deleted", rec.Counts.RemoteDeleted).
		Int("local_updated", rec.Counts.LocalUpdated).
		Int("errors", len(rec.Errors)).
		Msg("calendar reconciliation finished")
	return rec, nil
}

func (e *Engine) reconcile(ctx context.Context, mode string, doctorID uuid.UUID, w calendar.Window, actorID string) (*SyncAuditRecord, error) {
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctorId is required")
	}
	start, end, err := w.Bounds(e.opts.Location)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if days := int(end.Sub(start).Hours() / 24); days > maxWindowDays {
		return nil, apperr.Validation("window spans %d days, limit is %d", days, maxWindowDays)
	}

	doc, err := e.doctors.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, apperr.Persistence(err, "load doctor")
	}
	if !doc.HasCredential {
		return nil, apperr.CredentialMissing("doctor %s has not connected a calendar", doctorID)
	}
	client, err := e.clients.ClientFor(ctx, doctorID)
	if err != nil {
		if apperr.KindOf(err) == "" {
			return nil, apperr.ExternalService(err, "calendar client for doctor %s", doctorID)
		}
		return nil, err
	}

	rec := &SyncAuditRecord{DoctorID: doctorID, Window: w, Mode: mode, ActorID: actorID}
	err = e.locker.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		local, remote, err := e.collect(ctx, mode, client, doctorID, w)
		if err != nil {
			return err
		}

		p := e.partition(mode, local, remote)
		res := e.apply(ctx, client, doctorID, p)

		rec.Counts = res.counts
		rec.Errors = res.errors
		if len(res.links) == 0 {
			return nil
		}
		if err := e.tx.InTx(ctx, func(ctx context.Context) error {
			return e.slots.SetExternalEventIDs(ctx, res.links)
		}); err != nil {
			return apperr.Persistence(err, "store external event links")
		}
		rec.Counts.LocalUpdated = len(res.links)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.Timestamp = e.now()
	return rec, nil
}

// collect reads local slots and, for sync, remote events in parallel.
func (e *Engine) collect(ctx context.Context, mode string, client calendar.Client, doctorID uuid.UUID,
	w calendar.Window) ([]*scheduling.TimeSlot, []calendar.Event, error) {
	var (
		local  []*scheduling.TimeSlot
		remote []calendar.Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slots, err := e.slots.ListByDoctor(gctx, doctorID, scheduling.SlotFilter{From: w.Start, Until: w.End})
		if err != nil {
			return apperr.Persistence(err, "list local slots")
		}
		local = slots
		return nil
	})
	if mode == ModeSync {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.opts.RemoteTimeout)
			defer cancel()
			events, err := client.List(cctx, w)
			e.metrics.ObserveRemoteOp("list", err == nil)
			if err != nil {
				return apperr.ExternalService(err, "list remote events")
			}
			remote = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return local, remote, nil
}

type opKind string

const (
	opCreate   opKind = "create"
	opRecreate opKind = "recreate"
	opUpdate   opKind = "update"
	opAdopt    opKind = "adopt"
	opDelete   opKind = "delete"
)

type remoteOp struct {
	kind    opKind
	slot    *scheduling.TimeSlot
	eventID string
	event   calendar.Event
	// changed is set for adopt when the adopted event has drifted.
	changed bool
}

// partition decides the remote call for every slot and orphaned event.
func (e *Engine) partition(mode string, local []*scheduling.TimeSlot, remote []calendar.Event) []remoteOp {
	byID := make(map[string]calendar.Event, len(remote))
	for _, ev := range remote {
		byID[ev.ID] = ev
	}
	referenced := make(map[string]bool, len(local))
	for _, sl := range local {
		if sl.ExternalEventID != nil && *sl.ExternalEventID != "" {
			referenced[*sl.ExternalEventID] = true
		}
	}

	// Unreferenced system events that name a slot are adopted instead of
	// duplicated. They are left over when a run dies before storing links.
	orphanBySlot := make(map[string]calendar.Event)
	if mode == ModeSync {
		for _, ev := range remote {
			if !referenced[ev.ID] && ev.Marker.IsSystem() && ev.Marker.SlotID != "" {
				if _, dup := orphanBySlot[ev.Marker.SlotID]; !dup {
					orphanBySlot[ev.Marker.SlotID] = ev
				}
			}
		}
	}

	var ops []remoteOp
	adopted := make(map[string]bool)
	for _, sl := range local {
		want := e.deriveEvent(sl)
		linked := sl.ExternalEventID != nil && *sl.ExternalEventID != ""

		if mode == ModeExport {
			if !linked {
				ops = append(ops, remoteOp{kind: opCreate, slot: sl, event: want})
			}
			continue
		}

		switch {
		case linked:
			got, ok := byID[*sl.ExternalEventID]
			if !ok {
				ops = append(ops, remoteOp{kind: opRecreate, slot: sl, eventID: *sl.ExternalEventID, event: want})
			} else if !sameEvent(got, want) {
				ops = append(ops, remoteOp{kind: opUpdate, slot: sl, eventID: got.ID, event: want})
			}
		default:
			if orphan, ok := orphanBySlot[sl.ID.String()]; ok {
				adopted[orphan.ID] = true
				ops = append(ops, remoteOp{kind: opAdopt, slot: sl, eventID: orphan.ID, event: want, changed: !sameEvent(orphan, want)})
			} else {
				ops = append(ops, remoteOp{kind: opCreate, slot: sl, event: want})
			}
		}
	}

	if mode == ModeSync {
		for _, ev := range remote {
			if referenced[ev.ID] || adopted[ev.ID] || !ev.Marker.IsSystem() {
				continue
			}
			ops = append(ops, remoteOp{kind: opDelete, eventID: ev.ID})
		}
	}
	return ops
}

type applyResult struct {
	mu     sync.Mutex
	counts Counts
	errors []SyncError
	links  map[uuid.UUID]string
}

func (r *applyResult) fail(op remoteOp, err error) {
	se := SyncError{Op: string(op.kind), EventID: op.eventID, Message: err.Error()}
	if op.slot != nil {
		se.SlotID = op.slot.ID.String()
	}
	r.mu.Lock()
	r.errors = append(r.errors, se)
	r.mu.Unlock()
}

func (r *applyResult) link(slotID uuid.UUID, eventID string) {
	r.mu.Lock()
	r.links[slotID] = eventID
	r.mu.Unlock()
}

func (r *applyResult) count(f func(c *Counts)) {
	r.mu.Lock()
	f(&r.counts)
	r.mu.Unlock()
}

// apply issues every remote call independently. A failed call is recorded
// and skipped; it never cancels its siblings.
func (e *Engine) apply(ctx context.Context, client calendar.Client, doctorID uuid.UUID, ops []remoteOp) *applyResult {
	res := &applyResult{links: make(map[uuid.UUID]string)}
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for _, op := range ops {
		op := op
		g.Go(func() error {
			if err := e.applyOne(ctx, client, doctorID, op, res); err != nil {
				res.fail(op, err)
				ev := e.logger.Warn().Err(err).
					Str("doctor_id", doctorID.String()).
					Str("event_id", op.eventID).
					Str("op", string(op.kind))
				if op.slot != nil {
					ev = ev.Str("slot_id", op.slot.ID.String())
				}
				ev.Msg("remote calendar call failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (e *Engine) applyOne(ctx context.Context, client calendar.Client, doctorID uuid.UUID, op remoteOp, res *applyResult) error {
	cctx, cancel := context.WithTimeout(ctx, e.opts.RemoteTimeout)
	defer cancel()

	switch op.kind {
	case opCreate, opRecreate:
		created, err := client.Insert(cctx, op.event)
		e.metrics.ObserveRemoteOp("create", err == nil)
		if err != nil {
			return err
		}
		if created.ID == "" {
			return fmt.Errorf("remote calendar returned an event without id")
		}
		res.link(op.slot.ID, created.ID)
		res.count(func(c *Counts) { c.RemoteCreated++ })

	case opUpdate:
		_, err := client.Update(cctx, op.eventID, op.event)
		e.metrics.ObserveRemoteOp("update", err == nil)
		if err != nil {
			return err
		}
		res.count(func(c *Counts) { c.RemoteUpdated++ })

	case opAdopt:
		if op.changed {
			_, err := client.Update(cctx, op.eventID, op.event)
			e.metrics.ObserveRemoteOp("update", err == nil)
			if err != nil {
				return err
			}
			res.count(func(c *Counts) { c.RemoteUpdated++ })
		}
		res.link(op.slot.ID, op.eventID)

	case opDelete:
		// A slot outside the window may still reference the event.
		owner, err := e.slots.GetByExternalEventID(cctx, doctorID, op.eventID)
		switch {
		case err == nil && owner != nil:
			return nil
		case err != nil && !apperr.IsKind(err, apperr.KindNotFound):
			return fmt.Errorf("check event owner: %w", err)
		}
		err = client.Delete(cctx, op.eventID)
		e.metrics.ObserveRemoteOp("delete", err == nil)
		if err != nil {
			return err
		}
		res.count(func(c *Counts) { c.RemoteDeleted++ })
	}
	return nil
}

var summaries = map[string]string{
	scheduling.StatusAvailable:   "Available appointment slot",
	scheduling.StatusBooked:      "Booked appointment",
	scheduling.StatusUnavailable: "Unavailable",
}

// deriveEvent renders a slot as the remote event it should mirror.
func (e *Engine) deriveEvent(sl *scheduling.TimeSlot) calendar.Event {
	day, _ := time.ParseInLocation("2006-01-02", sl.Date, e.opts.Location)
	at := func(hhmm string) time.Time {
		m, _ := scheduling.TimeToMinutes(hhmm)
		return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, e.opts.Location)
	}
	summary, ok := summaries[sl.Status]
	if !ok {
		summary = "Appointment slot"
	}
	return calendar.Event{
		Summary:     summary,
		Description: fmt.Sprintf("CareSync slot %s (%s)", sl.ID, sl.Status),
		Start:       calendar.NewDateTime(at(sl.StartTime)),
		End:         calendar.NewDateTime(at(sl.EndTime)),
		Marker:      calendar.SystemMarker(sl.ID.String(), sl.Status),
	}
}

// sameEvent compares the fields the engine owns: the time window and the
// marker. Summary edits made by the doctor are left alone.
func sameEvent(got, want calendar.Event) bool {
	return got.Start.Equal(want.Start) &&
		got.End.Equal(want.End) &&
		got.Marker.IsSystem() &&
		got.Marker.SlotID == want.Marker.SlotID &&
		got.Marker.Status == want.Marker.Status
}
