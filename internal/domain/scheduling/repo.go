package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type TimeSlotRepository interface {
	Create(ctx context.Context, sl *TimeSlot) error
	CreateBatch(ctx context.Context, slots []*TimeSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	Update(ctx context.Context, sl *TimeSlot) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f SlotFilter) ([]*TimeSlot, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) ([]*TimeSlot, error)
	// DeleteUnbookedInRange removes every non-booked slot with from <= date <= to
	// and returns how many were removed together with the booked slots left behind.
	DeleteUnbookedInRange(ctx context.Context, doctorID uuid.UUID, from, to string) (int, []*TimeSlot, error)
	SetExternalEventIDs(ctx context.Context, links map[uuid.UUID]string) error
	GetByExternalEventID(ctx context.Context, doctorID uuid.UUID, eventID string) (*TimeSlot, error)
}

type UnavailabilityRepository interface {
	Create(ctx context.Context, p *UnavailabilityPeriod) error
	GetByID(ctx context.Context, id uuid.UUID) (*UnavailabilityPeriod, error)
	Update(ctx context.Context, p *UnavailabilityPeriod) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByDoctor returns periods intersecting [from, to], both inclusive.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to string) ([]*UnavailabilityPeriod, error)
}

// DoctorDirectory resolves doctors owned by the identity service.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// TxRunner runs fn inside one storage transaction; repositories called with
// the ctx passed to fn join it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
