// Package audit records scheduling and sync activity. Recording is best
// effort: a full buffer or a failing sink never fails the caller.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one audit event.
type Entry struct {
	Action    string                 `json:"action"`
	DoctorID  uuid.UUID              `json:"doctorId"`
	ActorID   string                 `json:"actorId"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Sink persists entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Write(ctx context.Context, e Entry) error { return f(ctx, e) }

// DropCounter is notified for every entry that could not be queued.
type DropCounter interface {
	Inc()
}

const defaultBufferSize = 1024

// Recorder queues entries and writes them to a Sink from a single worker.
type Recorder struct {
	sink    Sink
	logger  zerolog.Logger
	dropped DropCounter
	entries chan Entry
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewRecorder(sink Sink, logger zerolog.Logger, bufferSize int, dropped DropCounter) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	r := &Recorder{
		sink:    sink,
		logger:  logger,
		dropped: dropped,
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go r.worker()
	return r
}

// Record enqueues e without blocking. Entries arriving after Close, or while
// the buffer is full, are dropped and logged.
func (r *Recorder) Record(_ context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "recorder closed")
		return
	}
	select {
	case r.entries <- e:
	default:
		r.drop(e, "audit buffer full")
	}
}

func (r *Recorder) drop(e Entry, reason string) {
	if r.dropped != nil {
		r.dropped.Inc()
	}
	r.logger.Warn().
		Str("action", e.Action).
		Str("doctor_id", e.DoctorID.String()).
		Msg(reason + ", dropping entry")
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.entries)
		r.mu.Unlock()
	})
	<-r.done
}

func (r *Recorder) worker() {
	defer close(r.done)
	for e := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Write(ctx, e); err != nil {
			r.logger.Error().Err(err).
				Str("action", e.Action).
				Str("doctor_id", e.DoctorID.String()).
				Msg("failed to persist audit entry")
		}
		cancel()
	}
}

// PGSink inserts entries into scheduling_audit_log.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

func (s *PGSink) Write(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduling_audit_log (id, action, doctor_id, actor_id, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), e.Action, e.DoctorID, e.ActorID, payload, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// LogSink writes entries to a zerolog logger. Used by CLI commands that run
// without a long-lived database sink.
func LogSink(logger zerolog.Logger) Sink {
	return SinkFunc(func(_ context.Context, e Entry) error {
		logger.Info().
			Str("action", e.Action).
			Str("doctor_id", e.DoctorID.String()).
			Str("actor_id", e.ActorID).
			Time("timestamp", e.Timestamp).
			Interface("payload", e.Payload).
			Msg("audit")
		return nil
	})
}
