// Package googlecalendar reads the primary Google Calendar.
package googlecalendar

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/jun/soapnote/internal/model"
)

// Adapter implements adapter.CalendarGateway.
type Adapter struct {
	service *calendar.Service
}

// New creates a calendar adapter.
func New(ctx context.Context, opts ...option.ClientOption) (*Adapter, error) {
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return &Adapter{service: srv}, nil
}

// ListEvents lists primary calendar events between from and to, expanding
// recurring events and ordering by start time.
func (a *Adapter) ListEvents(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	res, err := a.service.Events.List("primary").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		ShowDeleted(false).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("unable to list events: %w", err)
	}

	events := make([]model.CalendarEvent, 0, len(res.Items))
	for _, e := range res.Items {
		events = append(events, model.CalendarEvent{
			ID:      e.Id,
			Summary: e.Summary,
			Start:   eventTime(e.Start),
			End:     eventTime(e.End),
		})
	}
	return events, nil
}

func eventTime(t *calendar.EventDateTime) model.EventTime {
	if t == nil {
		return model.EventTime{}
	}
	return model.EventTime{Date: t.Date, DateTime: t.DateTime}
}
