package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
	"github.com/irfank123/CareSync-sub002/internal/platform/calendar"
)

// PGStore reads and writes the calendar columns of the doctor table.
type PGStore struct {
	pool   *pgxpool.Pool
	cipher *Cipher
}

// NewPGStore returns a store that encrypts saved refresh tokens with cipher.
// Reads return ciphertext as stored.
func NewPGStore(pool *pgxpool.Pool, cipher *Cipher) *PGStore {
	return &PGStore{pool: pool, cipher: cipher}
}

func (s *PGStore) GetCredential(ctx context.Context, doctorID uuid.UUID) (*calendar.Credential, error) {
	var cred calendar.Credential
	err := s.pool.QueryRow(ctx, `SELECT refresh_token_ciphertext, calendar_id FROM doctor WHERE id = $1`, doctorID).
		Scan(&cred.Ciphertext, &cred.CalendarID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor %s not found", doctorID)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential encrypts refreshToken and stores it for doctorID.
func (s *PGStore) SaveCredential(ctx context.Context, doctorID uuid.UUID, refreshToken string, calendarID *string) error {
	if s.cipher == nil {
		return errors.New("save credential: no cipher configured")
	}
	ct, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE doctor SET refresh_token_ciphertext = $2, calendar_id = $3, updated_at = NOW()
		WHERE id = $1`, doctorID, ct, calendarID)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("doctor %s not found", doctorID)
	}
	return nil
}
