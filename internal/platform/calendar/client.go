package calendar

import (
	"context"
)

// Client talks to one doctor's calendar.
type Client interface {
	List(ctx context.Context, w Window) ([]Event, error)
	Insert(ctx context.Context, ev Event) (Event, error)
	Update(ctx context.Context, eventID string, ev Event) (Event, error)
	Delete(ctx context.Context, eventID string) error
}
