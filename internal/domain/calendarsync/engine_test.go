package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/irfank123/CareSync-sub002/internal/domain/scheduling"
	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/audit"
	"github.com/irfank123/CareSync-sub002/internal/platform/calendar"
	"github.com/irfank123/CareSync-sub002/internal/platform/lock"
)

// -- Fakes --

type fakeSlots struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]*scheduling.TimeSlot
	linkErr  error
	listErr  error
	linkRuns int
}

func newFakeSlots() *fakeSlots {
	return &fakeSlots{slots: make(map[uuid.UUID]*scheduling.TimeSlot)}
}

func (f *fakeSlots) add(sl *scheduling.TimeSlot) *scheduling.TimeSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sl.ID == uuid.Nil {
		sl.ID = uuid.New()
	}
	f.slots[sl.ID] = sl
	return sl
}

func (f *fakeSlots) get(id uuid.UUID) scheduling.TimeSlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.slots[id]
}

func (f *fakeSlots) ListByDoctor(_ context.Context, doctorID uuid.UUID, flt scheduling.SlotFilter) ([]*scheduling.TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*scheduling.TimeSlot
	for _, sl := range f.slots {
		if sl.DoctorID != doctorID {
			continue
		}
		if flt.From != "" && sl.Date < flt.From {
			continue
		}
		if flt.Until != "" && sl.Date >= flt.Until {
			continue
		}
		cp := *sl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (f *fakeSlots) SetExternalEventIDs(_ context.Context, links map[uuid.UUID]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkRuns++
	if f.linkErr != nil {
		return f.linkErr
	}
	for id, ev := range links {
		if sl, ok := f.slots[id]; ok {
			ev := ev
			sl.ExternalEventID = &ev
		}
	}
	return nil
}

func (f *fakeSlots) GetByExternalEventID(_ context.Context, doctorID uuid.UUID, eventID string) (*scheduling.TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sl := range f.slots {
		if sl.DoctorID == doctorID && sl.ExternalEventID != nil && *sl.ExternalEventID == eventID {
			cp := *sl
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("time slot not found")
}

type fakeDoctors struct {
	doctors map[uuid.UUID]*scheduling.Doctor
}

func (f *fakeDoctors) GetDoctor(_ context.Context, id uuid.UUID) (*scheduling.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	return d, nil
}

// fakeCalendar is an in-memory remote calendar.
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]calendar.Event
	seq     int
	listErr error
	// failSlots makes Insert and Update fail for events marked with these slot ids.
	failSlots map[string]bool
	calls     map[string]int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		events:    make(map[string]calendar.Event),
		failSlots: make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func eventDate(t calendar.EventTime) string {
	if t.Kind == calendar.DateOnly {
		return t.Date
	}
	return t.Instant.UTC().Format("2006-01-02")
}

func (f *fakeCalendar) put(ev calendar.Event) calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.ID == "" {
		f.seq++
		ev.ID = fmt.Sprintf("seed-%d", f.seq)
	}
	f.events[ev.ID] = ev
	return ev
}

func (f *fakeCalendar) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.events[id]
	return ok
}

func (f *fakeCalendar) event(id string) calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id]
}

func (f *fakeCalendar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeCalendar) List(_ context.Context, w calendar.Window) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []calendar.Event
	for _, ev := range f.events {
		d := eventDate(ev.Start)
		if d >= w.Start && d < w.End {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeCalendar) Insert(_ context.Context, ev calendar.Event) (calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["insert"]++
	if f.failSlots[ev.Marker.SlotID] {
		return calendar.Event{}, errors.New("googleapi: Error 503: backend error")
	}
	f.seq++
	ev.ID = fmt.Sprintf("ev-%d", f.seq)
	f.events[ev.ID] = ev
	return ev, nil
}

func (f *fakeCalendar) Update(_ context.Context, id string, ev calendar.Event) (calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	if f.failSlots[ev.Marker.SlotID] {
		return calendar.Event{}, errors.New("googleapi: Error 503: backend error")
	}
	if _, ok := f.events[id]; !ok {
		return calendar.Event{}, errors.New("googleapi: Error 404: not found")
	}
	ev.ID = id
	f.events[id] = ev
	return ev, nil
}

func (f *fakeCalendar) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	delete(f.events, id)
	return nil
}

type fakeFactory struct {
	client calendar.Client
	err    error
	calls  int
}

func (f *fakeFactory) ClientFor(context.Context, uuid.UUID) (calendar.Client, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAuditor) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type recordingMetrics struct {
	mu   sync.Mutex
	runs []string
	ops  map[string]int
}

func (m *recordingMetrics) ObserveSyncRun(mode, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, mode+":"+result)
}

func (m *recordingMetrics) ObserveRemoteOp(op string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = make(map[string]int)
	}
	m.ops[fmt.Sprintf("%s:%v", op, ok)]++
}

// -- Fixture --

type fixture struct {
	engine   *Engine
	slots    *fakeSlots
	cal      *fakeCalendar
	factory  *fakeFactory
	doctors  *fakeDoctors
	auditor  *recordingAuditor
	metrics  *recordingMetrics
	locker   *lock.LocalLocker
	doctorID uuid.UUID
}

var week = calendar.Window{Start: "2025-03-10", End: "2025-03-17"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		slots:    newFakeSlots(),
		cal:      newFakeCalendar(),
		auditor:  &recordingAuditor{},
		metrics:  &recordingMetrics{},
		locker:   lock.NewLocalLocker(),
		doctorID: uuid.New(),
	}
	f.factory = &fakeFactory{client: f.cal}
	f.doctors = &fakeDoctors{doctors: map[uuid.UUID]*scheduling.Doctor{
		f.doctorID: {ID: f.doctorID, HasCredential: true},
	}}
	f.engine = NewEngine(f.slots, f.doctors, f.factory, passthroughTx{}, f.locker,
		NewSyncAuditRecorder(f.auditor), f.metrics,
		Options{Location: time.UTC, RemoteTimeout: time.Second, Concurrency: 3}, zerolog.Nop())
	return f
}

func (f *fixture) slot(date, start, end, status string) *scheduling.TimeSlot {
	return f.slots.add(&scheduling.TimeSlot{
		DoctorID:  f.doctorID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Status:    status,
	})
}

func (f *fixture) linkedSlot(date, start, end, status string) (*scheduling.TimeSlot, calendar.Event) {
	sl := f.slot(date, start, end, status)
	ev := f.cal.put(f.engine.deriveEvent(sl))
	id := ev.ID
	sl.ExternalEventID = &id
	return sl, ev
}

func (f *fixture) sync(t *testing.T) *SyncAuditRecord {
	t.Helper()
	rec, err := f.engine.SyncWithCalendar(context.Background(), f.doctorID, week, "admin-1")
	if err != nil {
		t.Fatalf("SyncWithCalendar: %v", err)
	}
	return rec
}

// -- Tests --

func TestExportToCalendar_LinksEverySlotInWindow(t *testing.T) {
	f := newFixture(t)
	in := []*scheduling.TimeSlot{
		f.slot("2025-03-10", "09:00", "09:30", scheduling.StatusAvailable),
		f.slot("2025-03-12", "10:00", "10:30", scheduling.StatusBooked),
		f.slot("2025-03-16", "14:00", "14:30", scheduling.StatusUnavailable),
	}
	outside := f.slot("2025-03-17", "09:00", "09:30", scheduling.StatusAvailable)

	rec, err := f.engine.ExportToCalendar(context.Background(), f.doctorID, week, "admin-1")
	if err != nil {
		t.Fatalf("ExportToCalendar: %v", err)
	}
	if rec.Counts.RemoteCreated != 3 {
		t.Errorf("expected 3 remote creates, got %d", rec.Counts.RemoteCreated)
	}
	if rec.Counts.LocalUpdated != 3 {
		t.Errorf("expected 3 local link updates, got %d", rec.Counts.LocalUpdated)
	}
	if rec.Counts.RemoteUpdated != 0 || rec.Counts.RemoteDeleted != 0 {
		t.Errorf("expected export to only create, got %+v", rec.Counts)
	}
	for _, sl := range in {
		got := f.slots.get(sl.ID)
		if got.ExternalEventID == nil {
			t.Fatalf("expected slot %s on %s to be linked", sl.ID, sl.Date)
		}
		ev := f.cal.event(*got.ExternalEventID)
		if !ev.Marker.IsSystem() || ev.Marker.SlotID != sl.ID.String() {
			t.Errorf("expected system marker for slot %s, got %+v", sl.ID, ev.Marker)
		}
	}
	if f.slots.get(outside.ID).ExternalEventID != nil {
		t.Error("expected slot on the window end date to stay unlinked")
	}
	if f.cal.calls["list"] != 0 {
		t.Errorf("expected export not to list remote events, got %d calls", f.cal.calls["list"])
	}

	again, err := f.engine.ExportToCalendar(context.Background(), f.doctorID, week, "admin-1")
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if !again.Counts.IsZero() {
		t.Errorf("expected second export to do nothing, got %+v", again.Counts)
	}
}

func TestExportToCalendar_LeavesStaleEventsAlone(t *testing.T) {
	f := newFixture(t)
	sl, _ := f.linkedSlot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	f.slots.slots[sl.ID].Status = scheduling.StatusBooked
	f.cal.put(calendar.Event{
		Start:  calendar.NewDateTime(time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)),
		End:    calendar.NewDateTime(time.Date(2025, 3, 11, 13, 0, 0, 0, time.UTC)),
		Marker: calendar.SystemMarker(uuid.NewString(), scheduling.StatusAvailable),
	})

	rec, err := f.engine.ExportToCalendar(context.Background(), f.doctorID, week, "admin-1")
	if err != nil {
		t.Fatalf("ExportToCalendar: %v", err)
	}
	if !rec.Counts.IsZero() {
		t.Errorf("expected no changes, got %+v", rec.Counts)
	}
	if f.cal.count() != 2 {
		t.Errorf("expected both remote events kept, got %d", f.cal.count())
	}
}

func TestSyncWithCalendar_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.slot("2025-03-10", "09:00", "09:30", scheduling.StatusAvailable)
	f.slot("2025-03-10", "09:30", "10:00", scheduling.StatusBooked)
	f.linkedSlot("2025-03-13", "11:00", "11:30", scheduling.StatusAvailable)

	first := f.sync(t)
	if first.Counts.RemoteCreated != 2 {
		t.Errorf("expected 2 creates on first run, got %d", first.Counts.RemoteCreated)
	}

	second := f.sync(t)
	if !second.Counts.IsZero() {
		t.Errorf("expected all-zero counts on second run, got %+v", second.Counts)
	}
	if len(second.Errors) != 0 {
		t.Errorf("expected no errors, got %v", second.Errors)
	}

	entries := f.auditor.all()
	if len(entries) != 2 {
		t.Fatalf("expected one audit entry per run, got %d", len(entries))
	}
	if entries[0].Action != "calendar.sync" || entries[0].ActorID != "admin-1" {
		t.Errorf("unexpected audit entry %+v", entries[0])
	}
	if entries[0].Payload["remoteCreated"] != 2 {
		t.Errorf("expected remoteCreated=2 in payload, got %v", entries[0].Payload["remoteCreated"])
	}
}

func TestSyncWithCalendar_NeverDeletesPersonalEvents(t *testing.T) {
	f := newFixture(t)
	personal := f.cal.put(calendar.Event{
		Summary: "Dentist",
		Start:   calendar.NewDateTime(time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)),
		End:     calendar.NewDateTime(time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)),
	})
	holiday := f.cal.put(calendar.Event{
		Summary: "Holiday",
		Start:   calendar.NewDateOnly("2025-03-14"),
		End:     calendar.NewDateOnly("2025-03-15"),
	})
	orphan := f.cal.put(calendar.Event{
		Start:  calendar.NewDateTime(time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)),
		End:    calendar.NewDateTime(time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC)),
		Marker: calendar.SystemMarker(uuid.NewString(), scheduling.StatusAvailable),
	})

	rec := f.sync(t)
	if rec.Counts.RemoteDeleted != 1 {
		t.Errorf("expected 1 remote delete, got %d", rec.Counts.RemoteDeleted)
	}
	if f.cal.has(orphan.ID) {
		t.Error("expected orphaned system event to be deleted")
	}
	if !f.cal.has(personal.ID) || !f.cal.has(holiday.ID) {
		t.Error("expected personal events to survive")
	}
}

func TestSyncWithCalendar_ReferenceOutsideWindowProtectsEvent(t *testing.T) {
	f := newFixture(t)
	ev := f.cal.put(calendar.Event{
		Start:  calendar.NewDateTime(time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)),
		End:    calendar.NewDateTime(time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC)),
		Marker: calendar.SystemMarker(uuid.NewString(), scheduling.StatusAvailable),
	})
	owner := f.slot("2025-04-01", "10:00", "10:30", scheduling.StatusAvailable)
	id := ev.ID
	owner.ExternalEventID = &id

	rec := f.sync(t)
	if rec.Counts.RemoteDeleted != 0 {
		t.Errorf("expected no deletes, got %d", rec.Counts.RemoteDeleted)
	}
	if !f.cal.has(ev.ID) {
		t.Error("expected event referenced by a slot outside the window to survive")
	}
}

func TestSyncWithCalendar_RecreatesDeletedEvent(t *testing.T) {
	f := newFixture(t)
	sl := f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	gone := "deleted-by-doctor"
	sl.ExternalEventID = &gone

	rec := f.sync(t)
	if rec.Counts.RemoteCreated != 1 || rec.Counts.LocalUpdated != 1 {
		t.Errorf("expected 1 remote create and 1 local update, got %+v", rec.Counts)
	}
	got := f.slots.get(sl.ID)
	if got.ExternalEventID == nil || *got.ExternalEventID == gone {
		t.Fatalf("expected a new event id, got %v", got.ExternalEventID)
	}
	if !f.cal.has(*got.ExternalEventID) {
		t.Error("expected recreated event to exist remotely")
	}
}

func TestSyncWithCalendar_UpdatesDriftedEvent(t *testing.T) {
	f := newFixture(t)
	sl, ev := f.linkedSlot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	f.slots.slots[sl.ID].Status = scheduling.StatusBooked
	f.slots.slots[sl.ID].EndTime = "10:00"

	rec := f.sync(t)
	if rec.Counts.RemoteUpdated != 1 {
		t.Errorf("expected 1 remote update, got %d", rec.Counts.RemoteUpdated)
	}
	if rec.Counts.LocalUpdated != 0 {
		t.Errorf("expected the link to be kept, got %d local updates", rec.Counts.LocalUpdated)
	}
	remote := f.cal.event(ev.ID)
	if remote.Marker.Status != scheduling.StatusBooked {
		t.Errorf("expected remote status booked, got %q", remote.Marker.Status)
	}
	wantEnd := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	if !remote.End.Instant.Equal(wantEnd) {
		t.Errorf("expected end %v, got %v", wantEnd, remote.End)
	}
}

func TestSyncWithCalendar_IgnoresSummaryEdits(t *testing.T) {
	f := newFixture(t)
	_, ev := f.linkedSlot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	ev.Summary = "renamed by doctor"
	f.cal.put(ev)

	rec := f.sync(t)
	if !rec.Counts.IsZero() {
		t.Errorf("expected summary edits to be ignored, got %+v", rec.Counts)
	}
}

func TestSyncWithCalendar_AdoptsUnlinkedSystemEvent(t *testing.T) {
	f := newFixture(t)
	sl := f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	leftover := f.cal.put(f.engine.deriveEvent(sl))

	rec := f.sync(t)
	if rec.Counts.RemoteCreated != 0 || rec.Counts.RemoteDeleted != 0 {
		t.Errorf("expected no duplicate and no delete, got %+v", rec.Counts)
	}
	if rec.Counts.LocalUpdated != 1 {
		t.Errorf("expected link to be stored, got %d", rec.Counts.LocalUpdated)
	}
	got := f.slots.get(sl.ID)
	if got.ExternalEventID == nil || *got.ExternalEventID != leftover.ID {
		t.Errorf("expected slot linked to %s, got %v", leftover.ID, got.ExternalEventID)
	}
}

func TestSyncWithCalendar_AggregatesPerEventFailures(t *testing.T) {
	f := newFixture(t)
	ok1 := f.slot("2025-03-10", "09:00", "09:30", scheduling.StatusAvailable)
	bad := f.slot("2025-03-10", "09:30", "10:00", scheduling.StatusAvailable)
	ok2 := f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	f.cal.failSlots[bad.ID.String()] = true

	rec := f.sync(t)
	if rec.Counts.RemoteCreated != 2 {
		t.Errorf("expected 2 creates, got %d", rec.Counts.RemoteCreated)
	}
	if len(rec.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(rec.Errors))
	}
	if rec.Errors[0].SlotID != bad.ID.String() || rec.Errors[0].Op != "create" {
		t.Errorf("unexpected error entry %+v", rec.Errors[0])
	}
	if f.slots.get(bad.ID).ExternalEventID != nil {
		t.Error("expected failed slot to stay unlinked")
	}
	for _, sl := range []*scheduling.TimeSlot{ok1, ok2} {
		if f.slots.get(sl.ID).ExternalEventID == nil {
			t.Errorf("expected slot %s to be linked", sl.ID)
		}
	}
	if f.metrics.ops["create:false"] != 1 || f.metrics.ops["create:true"] != 2 {
		t.Errorf("unexpected op metrics %v", f.metrics.ops)
	}
	if len(f.metrics.runs) != 1 || f.metrics.runs[0] != "sync:partial" {
		t.Errorf("expected a partial run, got %v", f.metrics.runs)
	}
	if _, ok := f.auditor.all()[0].Payload["errors"]; !ok {
		t.Error("expected errors in the audit payload")
	}

	delete(f.cal.failSlots, bad.ID.String())
	retry := f.sync(t)
	if retry.Counts.RemoteCreated != 1 || len(retry.Errors) != 0 {
		t.Errorf("expected the retry to create the missing event, got %+v errors=%v", retry.Counts, retry.Errors)
	}
}

func TestSyncWithCalendar_TerminalErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) (uuid.UUID, calendar.Window)
		kind  apperr.Kind
	}{
		{
			name: "window end before start",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				return f.doctorID, calendar.Window{Start: "2025-03-17", End: "2025-03-10"}
			},
			kind: apperr.KindValidation,
		},
		{
			name: "empty window",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				return f.doctorID, calendar.Window{Start: "2025-03-10", End: "2025-03-10"}
			},
			kind: apperr.KindValidation,
		},
		{
			name: "malformed date",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				return f.doctorID, calendar.Window{Start: "10/03/2025", End: "2025-03-17"}
			},
			kind: apperr.KindValidation,
		},
		{
			name: "window too long",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				return f.doctorID, calendar.Window{Start: "2025-01-01", End: "2026-06-01"}
			},
			kind: apperr.KindValidation,
		},
		{
			name: "unknown doctor",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				return uuid.New(), week
			},
			kind: apperr.KindNotFound,
		},
		{
			name: "no credential",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				f.doctors.doctors[f.doctorID].HasCredential = false
				return f.doctorID, week
			},
			kind: apperr.KindCredentialMissing,
		},
		{
			name: "credential cannot be decrypted",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				f.factory.err = apperr.CredentialMissing("stored calendar credential is unreadable")
				return f.doctorID, week
			},
			kind: apperr.KindCredentialMissing,
		},
		{
			name: "client construction fails",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				f.factory.err = errors.New("oauth2: cannot fetch token")
				return f.doctorID, week
			},
			kind: apperr.KindExternalService,
		},
		{
			name: "remote list fails",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				f.cal.listErr = errors.New("googleapi: Error 500")
				return f.doctorID, week
			},
			kind: apperr.KindExternalService,
		},
		{
			name: "local list fails",
			setup: func(f *fixture) (uuid.UUID, calendar.Window) {
				f.slots.listErr = errors.New("connection reset")
				return f.doctorID, week
			},
			kind: apperr.KindPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
			doctorID, w := tt.setup(f)

			rec, err := f.engine.SyncWithCalendar(context.Background(), doctorID, w, "admin-1")
			if err == nil {
				t.Fatalf("expected %s error, got record %+v", tt.kind, rec)
			}
			if got := apperr.KindOf(err); got != tt.kind {
				t.Errorf("expected kind %s, got %s (%v)", tt.kind, got, err)
			}
			if f.cal.calls["insert"] != 0 {
				t.Error("expected no remote writes")
			}
			if len(f.auditor.all()) != 0 {
				t.Error("expected no audit entry for a failed run")
			}
		})
	}
}

func TestSyncWithCalendar_LinkWriteFailureIsPersistence(t *testing.T) {
	f := newFixture(t)
	f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	f.slots.linkErr = errors.New("deadlock detected")

	_, err := f.engine.SyncWithCalendar(context.Background(), f.doctorID, week, "admin-1")
	if !apperr.IsKind(err, apperr.KindPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if f.cal.count() != 1 {
		t.Errorf("expected the remote create to stand, got %d events", f.cal.count())
	}

	// The next run adopts the event created before the failure.
	f.slots.linkErr = nil
	rec := f.sync(t)
	if rec.Counts.RemoteCreated != 0 || rec.Counts.LocalUpdated != 1 {
		t.Errorf("expected recovery by adoption, got %+v", rec.Counts)
	}
	if f.cal.count() != 1 {
		t.Errorf("expected no duplicate event, got %d", f.cal.count())
	}
}

func TestSyncWithCalendar_ConcurrentRunRejected(t *testing.T) {
	f := newFixture(t)
	f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)

	err := f.locker.WithDoctorLock(context.Background(), f.doctorID, func(ctx context.Context) error {
		_, err := f.engine.SyncWithCalendar(ctx, f.doctorID, week, "admin-1")
		return err
	})
	if !apperr.IsKind(err, apperr.KindConcurrency) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
	if f.cal.calls["list"] != 0 {
		t.Error("expected no remote calls while the doctor is locked")
	}
}

func TestSyncWithCalendar_LocalCountsStayZero(t *testing.T) {
	f := newFixture(t)
	f.slot("2025-03-11", "09:00", "09:30", scheduling.StatusAvailable)
	f.cal.put(calendar.Event{
		Start:  calendar.NewDateTime(time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)),
		End:    calendar.NewDateTime(time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC)),
		Marker: calendar.SystemMarker(uuid.NewString(), scheduling.StatusAvailable),
	})

	rec := f.sync(t)
	if rec.Counts.LocalCreated != 0 || rec.Counts.LocalDeleted != 0 {
		t.Errorf("expected sync never to create or delete local slots, got %+v", rec.Counts)
	}
	if len(f.slots.slots) != 1 {
		t.Errorf("expected local slot count unchanged, got %d", len(f.slots.slots))
	}
}

func TestDeriveEvent_UsesConfiguredLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	e := NewEngine(nil, nil, nil, nil, nil, nil, nil, Options{Location: berlin}, zerolog.Nop())
	sl := &scheduling.TimeSlot{ID: uuid.New(), Date: "2025-03-11", StartTime: "09:00", EndTime: "09:30", Status: scheduling.StatusBooked}

	ev := e.deriveEvent(sl)
	want := time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC)
	if !ev.Start.Instant.Equal(want) {
		t.Errorf("expected start %v, got %v", want, ev.Start.Instant.UTC())
	}
	if ev.Marker.Status != scheduling.StatusBooked || ev.Marker.SlotID != sl.ID.String() {
		t.Errorf("unexpected marker %+v", ev.Marker)
	}
	if ev.Summary != "Booked appointment" {
		t.Errorf("unexpected summary %q", ev.Summary)
	}
}
