package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// NewBreaker returns the circuit breaker shared by every Google client built
// from one factory. It opens after five consecutive failures.
func NewBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a missing event is the caller's concern, not an outage
			return err == nil || isGone(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("calendar circuit breaker state change")
		},
	})
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

// GoogleClient implements Client over the Google Calendar v3 API.
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
	loc        *time.Location
	breaker    *gobreaker.CircuitBreaker[any]
	logger     zerolog.Logger
}

// NewGoogleClient builds a client authorised by a refresh token. The access
// token is minted lazily on the first request.
func NewGoogleClient(ctx context.Context, oauthCfg *oauth2.Config, refreshToken, calendarID string,
	loc *time.Location, breaker *gobreaker.CircuitBreaker[any], logger zerolog.Logger) (*GoogleClient, error) {
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return newGoogleClient(svc, calendarID, loc, breaker, logger), nil
}

func newGoogleClient(svc *gcal.Service, calendarID string, loc *time.Location,
	breaker *gobreaker.CircuitBreaker[any], logger zerolog.Logger) *GoogleClient {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &GoogleClient{
		svc:        svc,
		calendarID: calendarID,
		loc:        loc,
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *GoogleClient) List(ctx context.Context, w Window) ([]Event, error) {
	start, end, err := w.Bounds(c.loc)
	if err != nil {
		return nil, err
	}

	var events []Event
	pageToken := ""
	for {
		call := c.svc.Events.List(c.calendarID).Context(ctx).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(false).
			MaxResults(250)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := c.breaker.Execute(func() (any, error) { return call.Do() })
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		page := res.(*gcal.Events)
		for _, item := range page.Items {
			ev, err := c.fromAPI(item)
			if err != nil && !ev.Marker.IsSystem() {
				c.logger.Debug().Err(err).Str("event_id", item.Id).Msg("skipping undecodable personal event")
				continue
			}
			// a system event with bad times is kept so the engine rewrites it
			events = append(events, ev)
		}
		if page.NextPageToken == "" {
			return events, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *GoogleClient) Insert(ctx context.Context, ev Event) (Event, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.svc.Events.Insert(c.calendarID, c.toAPI(ev)).Context(ctx).Do()
	})
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	// the write succeeded; callers only need the id
	out, _ := c.fromAPI(res.(*gcal.Event))
	return out, nil
}

func (c *GoogleClient) Update(ctx context.Context, eventID string, ev Event) (Event, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.svc.Events.Update(c.calendarID, eventID, c.toAPI(ev)).Context(ctx).Do()
	})
	if err != nil {
		return Event{}, fmt.Errorf("update event %s: %w", eventID, err)
	}
	out, _ := c.fromAPI(res.(*gcal.Event))
	return out, nil
}

// Delete treats an already deleted event as success.
func (c *GoogleClient) Delete(ctx context.Context, eventID string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	})
	if err != nil && !isGone(err) {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

func (c *GoogleClient) toAPI(ev Event) *gcal.Event {
	out := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       c.toAPITime(ev.Start),
		End:         c.toAPITime(ev.End),
	}
	if props := ev.Marker.Properties(); props != nil {
		out.ExtendedProperties = &gcal.EventExtendedProperties{Private: props}
	}
	return out
}

func (c *GoogleClient) toAPITime(t EventTime) *gcal.EventDateTime {
	if t.Kind == DateOnly {
		return &gcal.EventDateTime{Date: t.Date}
	}
	return &gcal.EventDateTime{DateTime: t.Instant.In(c.loc).Format(time.RFC3339), TimeZone: c.loc.String()}
}

// fromAPI returns the event with whatever it could decode. On a time decoding
// error ID and Marker are still populated.
func (c *GoogleClient) fromAPI(item *gcal.Event) (Event, error) {
	ev := Event{ID: item.Id, Summary: item.Summary, Description: item.Description}
	if item.ExtendedProperties != nil {
		ev.Marker = MarkerFromProperties(item.ExtendedProperties.Private)
	}
	if item.Start == nil || item.End == nil {
		return ev, fmt.Errorf("event %s has no start or end", item.Id)
	}
	start, err := DecodeEventTime(item.Start.Date, item.Start.DateTime)
	if err != nil {
		return ev, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := DecodeEventTime(item.End.Date, item.End.DateTime)
	if err != nil {
		return ev, fmt.Errorf("event %s end: %w", item.Id, err)
	}
	ev.Start, ev.End = start, end
	return ev, nil
}
