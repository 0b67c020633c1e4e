package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/irfank123/CareSync-sub002/internal/platform/apperr"
)

// Credential is the stored calendar authorisation of one doctor.
type Credential struct {
	Ciphertext *string
	CalendarID *string
}

type CredentialStore interface {
	GetCredential(ctx context.Context, doctorID uuid.UUID) (*Credential, error)
}

// Decrypter returns ok=false for ciphertext it cannot open.
type Decrypter interface {
	Decrypt(ciphertext string) (string, bool)
}

// ClientBuilder turns a decrypted refresh token into a Client.
type ClientBuilder func(ctx context.Context, refreshToken, calendarID string) (Client, error)

type Factory struct {
	creds  CredentialStore
	cipher Decrypter
	build  ClientBuilder
}

func NewFactory(creds CredentialStore, cipher Decrypter, build ClientBuilder) *Factory {
	return &Factory{creds: creds, cipher: cipher, build: build}
}

// GoogleConfig holds what every Google client of a factory shares.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	Location     *time.Location
}

// GoogleBuilder returns a ClientBuilder for the Google Calendar API. The
// breaker is shared across doctors so an outage trips once.
func GoogleBuilder(cfg GoogleConfig, breaker *gobreaker.CircuitBreaker[any], logger zerolog.Logger) ClientBuilder {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarEventsScope},
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return func(ctx context.Context, refreshToken, calendarID string) (Client, error) {
		// the token source outlives ctx, which may be a request context
		return NewGoogleClient(context.WithoutCancel(ctx), oauthCfg, refreshToken, calendarID, loc, breaker, logger)
	}
}

// ClientFor resolves a calendar client for doctorID. A missing or
// undecryptable credential is CredentialMissing; anything else that stops the
// client being built is ExternalService.
func (f *Factory) ClientFor(ctx context.Context, doctorID uuid.UUID) (Client, error) {
	cred, err := f.creds.GetCredential(ctx, doctorID)
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.KindNotFound || k == apperr.KindCredentialMissing {
			return nil, err
		}
		return nil, apperr.ExternalService(err, "load calendar credential for doctor %s", doctorID)
	}
	if cred == nil || cred.Ciphertext == nil || *cred.Ciphertext == "" {
		return nil, apperr.CredentialMissing("doctor %s has not connected a calendar", doctorID)
	}
	token, ok := f.cipher.Decrypt(*cred.Ciphertext)
	if !ok || token == "" {
		return nil, apperr.CredentialMissing("calendar credential for doctor %s is unreadable; reconnect the calendar", doctorID)
	}
	calendarID := ""
	if cred.CalendarID != nil {
		calendarID = *cred.CalendarID
	}
	client, err := f.build(ctx, token, calendarID)
	if err != nil {
		return nil, apperr.ExternalService(err, "build calendar client for doctor %s", doctorID)
	}
	return client, nil
}
