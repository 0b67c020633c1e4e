package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const pgUniqueViolation = "23505"

// mapErr converts driver errors into domain kinds.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperr.Conflict("%s violates %s", what, pgErr.ConstraintName)
	}
	return apperr.Persistence(err, what)
}

// =========== TimeSlot Repository ===========

type timeSlotRepoPG struct{ pool *pgxpool.Pool }

func NewTimeSlotRepoPG(pool *pgxpool.Pool) TimeSlotRepository { return &timeSlotRepoPG{pool: pool} }

func (r *timeSlotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, doctor_id, to_char(slot_date, 'YYYY-MM-DD'), start_time, end_time, status,
	patient_id, external_event_id, created_by, created_at, updated_at`

func (r *timeSlotRepoPG) scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.Status,
		&s.PatientID, &s.ExternalEventID, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *timeSlotRepoPG) collect(rows pgx.Rows) ([]*TimeSlot, error) {
	defer rows.Close()
	var items []*TimeSlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const insertSlotSQL = `
	INSERT INTO time_slot (id, doctor_id, slot_date, start_time, end_time, status,
		patient_id, external_event_id, created_by)
	VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,$9)
	RETURNING created_at, updated_at`

func (r *timeSlotRepoPG) Create(ctx context.Context, s *TimeSlot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, insertSlotSQL,
		s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.Status,
		s.PatientID, s.ExternalEventID, s.CreatedBy).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err, "time slot")
}

func (r *timeSlotRepoPG) CreateBatch(ctx context.Context, slots []*TimeSlot) error {
	if len(slots) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, s := range slots {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		b.Queue(insertSlotSQL, s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.Status,
			s.PatientID, s.ExternalEventID, s.CreatedBy)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()
	for _, s := range slots {
		if err := br.QueryRow().Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			return mapErr(err, "time slot batch")
		}
	}
	return nil
}

func (r *timeSlotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	s, err := r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM time_slot WHERE id = $1`, id))
	return s, mapErr(err, "time slot")
}

func (r *timeSlotRepoPG) Update(ctx context.Context, s *TimeSlot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE time_slot SET slot_date=$2::date, start_time=$3, end_time=$4, status=$5,
			patient_id=$6, external_event_id=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Date, s.StartTime, s.EndTime, s.Status, s.PatientID, s.ExternalEventID).Scan(&s.UpdatedAt)
	return mapErr(err, "time slot")
}

func (r *timeSlotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM time_slot WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "time slot")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("time slot not found")
	}
	return nil
}

func (r *timeSlotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f SlotFilter) ([]*TimeSlot, error) {
	query := `SELECT ` + slotCols + ` FROM time_slot WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	idx := 2
	if f.From != "" {
		query += fmt.Sprintf(" AND slot_date >= $%d::date", idx)
		args = append(args, f.From)
		idx++
	}
	if f.Until != "" {
		query += fmt.Sprintf(" AND slot_date < $%d::date", idx)
		args = append(args, f.Until)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
	}
	query += " ORDER BY slot_date, start_time"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "list time slots")
	}
	items, err := r.collect(rows)
	return items, mapErr(err, "list time slots")
}

func (r *timeSlotRepoPG) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*TimeSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM time_slot
		WHERE doctor_id = $1 AND slot_date = $2::date ORDER BY start_time`, doctorID, date)
	if err != nil {
		return nil, mapErr(err, "list time slots")
	}
	items, err := r.collect(rows)
	return items, mapErr(err, "list time slots")
}

func (r *timeSlotRepoPG) DeleteUnbookedInRange(ctx context.Context, doctorID uuid.UUID, from, to string) (int, []*TimeSlot, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM time_slot
		WHERE doctor_id = $1 AND slot_date BETWEEN $2::date AND $3::date AND status <> $4`,
		doctorID, from, to, StatusBooked)
	if err != nil {
		return 0, nil, mapErr(err, "delete unbooked slots")
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM time_slot
		WHERE doctor_id = $1 AND slot_date BETWEEN $2::date AND $3::date
		ORDER BY slot_date, start_time FOR UPDATE`, doctorID, from, to)
	if err != nil {
		return 0, nil, mapErr(err, "load retained slots")
	}
	retained, err := r.collect(rows)
	if err != nil {
		return 0, nil, mapErr(err, "load retained slots")
	}
	return int(tag.RowsAffected()), retained, nil
}

func (r *timeSlotRepoPG) SetExternalEventIDs(ctx context.Context, links map[uuid.UUID]string) error {
	if len(links) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for id, eventID := range links {
		b.Queue(`UPDATE time_slot SET external_event_id = $2, updated_at = NOW() WHERE id = $1`, id, eventID)
	}
	br := r.conn(ctx).SendBatch(ctx, b)
	defer br.Close()
	for range links {
		if _, err := br.Exec(); err != nil {
			return mapErr(err, "link external event")
		}
	}
	return nil
}

func (r *timeSlotRepoPG) GetByExternalEventID(ctx context.Context, doctorID uuid.UUID, eventID string) (*TimeSlot, error) {
	s, err := r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM time_slot
		WHERE doctor_id = $1 AND external_event_id = $2`, doctorID, eventID))
	return s, mapErr(err, "time slot")
}

// =========== Unavailability Repository ===========

type unavailabilityRepoPG struct{ pool *pgxpool.Pool }

func NewUnavailabilityRepoPG(pool *pgxpool.Pool) UnavailabilityRepository {
	return &unavailabilityRepoPG{pool: pool}
}

func (r *unavailabilityRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const periodCols = `id, doctor_id, to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
	reason, created_at, updated_at`

func (r *unavailabilityRepoPG) scanPeriod(row pgx.Row) (*UnavailabilityPeriod, error) {
	var p UnavailabilityPeriod
	err := row.Scan(&p.ID, &p.DoctorID, &p.StartDate, &p.EndDate, &p.Reason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *unavailabilityRepoPG) Create(ctx context.Context, p *UnavailabilityPeriod) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO unavailability_period (id, doctor_id, start_date, end_date, reason)
		VALUES ($1,$2,$3::date,$4::date,$5)
		RETURNING created_at, updated_at`,
		p.ID, p.DoctorID, p.StartDate, p.EndDate, p.Reason).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, "unavailability period")
}

func (r *unavailabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*UnavailabilityPeriod, error) {
	p, err := r.scanPeriod(r.conn(ctx).QueryRow(ctx,
		`SELECT `+periodCols+` FROM unavailability_period WHERE id = $1`, id))
	return p, mapErr(err, "unavailability period")
}

func (r *unavailabilityRepoPG) Update(ctx context.Context, p *UnavailabilityPeriod) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE unavailability_period SET start_date=$2::date, end_date=$3::date, reason=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.StartDate, p.EndDate, p.Reason).Scan(&p.UpdatedAt)
	return mapErr(err, "unavailability period")
}

func (r *unavailabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM unavailability_period WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "unavailability period")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("unavailability period not found")
	}
	return nil
}

func (r *unavailabilityRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to string) ([]*UnavailabilityPeriod, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+periodCols+` FROM unavailability_period
		WHERE doctor_id = $1 AND start_date <= $3::date AND end_date >= $2::date
		ORDER BY start_date`, doctorID, from, to)
	if err != nil {
		return nil, mapErr(err, "list unavailability")
	}
	defer rows.Close()
	var items []*UnavailabilityPeriod
	for rows.Next() {
		p, err := r.scanPeriod(rows)
		if err != nil {
			return nil, mapErr(err, "list unavailability")
		}
		items = append(items, p)
	}
	return items, mapErr(rows.Err(), "list unavailability")
}

// =========== Doctor Directory ===========

type doctorDirectoryPG struct{ pool *pgxpool.Pool }

// NewDoctorDirectoryPG reads the doctor table maintained by the identity
// service. HasCredential is true when an encrypted refresh token is on file.
func NewDoctorDirectoryPG(pool *pgxpool.Pool) DoctorDirectory { return &doctorDirectoryPG{pool: pool} }

func (r *doctorDirectoryPG) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.pool.QueryRow(ctx, `SELECT id, calendar_id, refresh_token_ciphertext IS NOT NULL
		FROM doctor WHERE id = $1`, id).Scan(&d.ID, &d.CalendarID, &d.HasCredential)
	if err != nil {
		return nil, mapErr(err, "doctor")
	}
	return &d, nil
}
