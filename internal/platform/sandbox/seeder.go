// Package sandbox fills a development database with fake doctors, calendar
// credentials and generated slots for demos and manual testing.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/irfank123/CareSync-sub002/internal/domain/scheduling"
)

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	Doctors   int
	Days      int
	StartDate string
	// Seed makes runs reproducible; zero picks a time-based seed.
	Seed uint64
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Doctors:   10,
		Days:      14,
		StartDate: time.Now().UTC().Format("2006-01-02"),
	}
}

// DoctorSeed is one fake doctor row.
type DoctorSeed struct {
	ID        uuid.UUID
	Name      string
	Specialty string
}

type DoctorWriter interface {
	InsertDoctor(ctx context.Context, d DoctorSeed) error
}

type SlotGenerator interface {
	GenerateStandardTimeSlots(ctx context.Context, req scheduling.StandardRequest) (*scheduling.GenerationResult, error)
}

// CredentialWriter stores an encrypted calendar credential for a doctor.
type CredentialWriter interface {
	SaveCredential(ctx context.Context, doctorID uuid.UUID, refreshToken string, calendarID *string) error
}

type SeedResult struct {
	Doctors      []uuid.UUID `json:"doctors"`
	SlotsCreated int         `json:"slotsCreated"`
	WithCalendar int         `json:"withCalendar"`
}

var specialties = []string{
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Neurology",
	"Orthopedics",
	"Psychiatry",
	"Endocrinology",
}

var workingHours = []scheduling.TimeBlock{
	{StartTime: "08:00", EndTime: "12:00"},
	{StartTime: "09:00", EndTime: "17:00"},
	{StartTime: "13:00", EndTime: "18:30"},
}

var durations = []int{15, 20, 30, 45}

type Seeder struct {
	cfg     SeedConfig
	doctors DoctorWriter
	slots   SlotGenerator
	creds   CredentialWriter
	logger  zerolog.Logger
}

// NewSeeder wires a seeder. creds may be nil, in which case no doctor gets a
// calendar credential.
func NewSeeder(cfg SeedConfig, doctors DoctorWriter, slots SlotGenerator, creds CredentialWriter, logger zerolog.Logger) *Seeder {
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	return &Seeder{cfg: cfg, doctors: doctors, slots: slots, creds: creds, logger: logger}
}

func (s *Seeder) Run(ctx context.Context) (*SeedResult, error) {
	if s.cfg.Doctors <= 0 || s.cfg.Days <= 0 {
		return nil, fmt.Errorf("doctors and days must be positive, got %d and %d", s.cfg.Doctors, s.cfg.Days)
	}
	start, err := scheduling.ParseDate(s.cfg.StartDate)
	if err != nil {
		return nil, err
	}
	end := start.AddDate(0, 0, s.cfg.Days-1).Format("2006-01-02")

	faker := gofakeit.New(s.cfg.Seed)
	res := &SeedResult{}
	for i := 0; i < s.cfg.Doctors; i++ {
		d := DoctorSeed{
			ID:        uuid.New(),
			Name:      "Dr. " + faker.Name(),
			Specialty: specialties[faker.Number(0, len(specialties)-1)],
		}
		if err := s.doctors.InsertDoctor(ctx, d); err != nil {
			return nil, fmt.Errorf("insert doctor %d: %w", i, err)
		}
		// Two in three doctors get a placeholder calendar credential.
		if s.creds != nil && faker.Number(0, 2) > 0 {
			calendarID := faker.Email()
			if err := s.creds.SaveCredential(ctx, d.ID, "seed-"+faker.LetterN(40), &calendarID); err != nil {
				return nil, fmt.Errorf("save credential for %s: %w", d.ID, err)
			}
			res.WithCalendar++
		}

		gen, err := s.slots.GenerateStandardTimeSlots(ctx, scheduling.StandardRequest{
			DoctorID:            d.ID,
			StartDate:           s.cfg.StartDate,
			EndDate:             end,
			SlotDurationMinutes: durations[faker.Number(0, len(durations)-1)],
			WorkingHours:        workingHours[faker.Number(0, len(workingHours)-1)],
			ActorID:             "seed",
		})
		if err != nil {
			return nil, fmt.Errorf("generate slots for %s: %w", d.ID, err)
		}

		res.Doctors = append(res.Doctors, d.ID)
		res.SlotsCreated += gen.Created
		s.logger.Debug().Str("doctor_id", d.ID.String()).Str("name", d.Name).Int("slots", gen.Created).Msg("seeded doctor")
	}

	s.logger.Info().
		Int("doctors", len(res.Doctors)).
		Int("with_calendar", res.WithCalendar).
		Int("slots", res.SlotsCreated).
		Msg("seed complete")
	return res, nil
}

// PGDoctorWriter inserts seed doctors into the doctor table.
type PGDoctorWriter struct {
	pool *pgxpool.Pool
}

func NewPGDoctorWriter(pool *pgxpool.Pool) *PGDoctorWriter {
	return &PGDoctorWriter{pool: pool}
}

func (w *PGDoctorWriter) InsertDoctor(ctx context.Context, d DoctorSeed) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO doctor (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, d.ID, d.Name, d.Specialty)
	return err
}
