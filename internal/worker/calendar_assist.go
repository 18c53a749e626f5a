package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/event"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/gcal"
)

// rewindOnTooOld is how far the sync bookmark moves back when Calendar
// refuses an updatedMin that is too old
const rewindOnTooOld = 10 * 24 * time.Hour

// CalendarAssist wraps the user's Google calendars with retry, pacing and error classification
type CalendarAssist struct {
	api    CalendarAPI
	store  Store
	wc     *WorkContext
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

func newCalendarAssist(api CalendarAPI, store Store, wc *WorkContext, policy Policy, now func() time.Time, logger *slog.Logger) *CalendarAssist {
	return &CalendarAssist{api: api, store: store, wc: wc, policy: policy, now: now, logger: logger}
}

func (a *CalendarAssist) call(ctx context.Context, ignores []ignoreRule, op func(ctx context.Context) error) error {
	rules := append([]ignoreRule{calendarAlreadyDeleted}, ignores...)
	if err := a.policy.Do(ctx, rules, op); err != nil {
		return classifyCalendar(err)
	}
	return nil
}

func (a *CalendarAssist) list(ctx context.Context, cal *db.Calendar, opts gcal.ListOptions) ([]*calendar.Event, error) {
	var items []*calendar.Event
	err := a.call(ctx, nil, func(ctx context.Context) error {
		var err error
		items, err = a.api.ListEvents(ctx, cal.GoogleCalendarID, opts)
		return err
	})
	return items, err
}

// UpdatedEvents returns events changed within the sync window across every
// connected calendar, each carrying its event link
func (a *CalendarAssist) UpdatedEvents(ctx context.Context, links *LinkAssist) ([]*event.Event, error) {
	period := a.wc.Period
	opts := gcal.ListOptions{
		TimeMin:     a.wc.TimeMin,
		TimeMax:     a.wc.TimeMax,
		UpdatedMin:  period.Start.UTC().Format(time.RFC3339),
		TimeZone:    a.wc.User.UserTimeZone,
		ShowDeleted: true,
	}

	var events []*event.Event
	for _, cal := range a.wc.ConnectedCalendars {
		items, err := a.list(ctx, cal, opts)
		if err != nil {
			var se *SyncError
			if errors.As(err, &se) && se.Code == CodeGoogleUpdatedMinTooOld {
				a.rewind(ctx)
			}
			return nil, err
		}
		for _, item := range items {
			if !gcal.ParseTime(item.Updated).Before(period.End) {
				continue
			}
			e, err := event.FromCalendar(item, cal)
			if err != nil {
				a.logger.Warn("skipping calendar event", "calendar_id", cal.GoogleCalendarID, "event_id", item.Id, "error", err)
				continue
			}
			events = append(events, e)
		}
	}
	events = dedupeMoved(events)

	for _, e := range events {
		link, err := links.FindByGoogleEventID(ctx, e.GoogleCalendarEventID)
		if err != nil {
			return nil, err
		}
		if link != nil {
			e.EventLink = link
			e.NotionPageID = link.NotionPageID
		}
	}

	a.wc.Result.SyncEvents.GCalCalendarCount = len(a.wc.ConnectedCalendars)
	a.wc.Result.SyncEvents.GCal2NotionCount = len(events)
	return events, nil
}

func (a *CalendarAssist) rewind(ctx context.Context) {
	at := a.now().Add(-rewindOnTooOld)
	if err := a.store.SetUserLastCalendarSync(ctx, a.wc.User.ID, at); err != nil {
		a.logger.Error("failed to rewind last calendar sync", "error", err)
		return
	}
	a.logger.Warn("updatedMin too old, rewound last calendar sync", "last_calendar_sync", at)
}

// dedupeMoved collapses events seen in more than one calendar. A moved event
// leaves a cancelled copy behind in its old calendar; the live copy wins.
func dedupeMoved(events []*event.Event) []*event.Event {
	index := map[string]int{}
	out := events[:0]
	for _, e := range events {
		i, seen := index[e.GoogleCalendarEventID]
		if !seen {
			index[e.GoogleCalendarEventID] = len(out)
			out = append(out, e)
			continue
		}
		if out[i].IsDeleted() && !e.IsDeleted() {
			out[i] = e
		}
	}
	return out
}

// EventsByCalendar returns every live event of cal within the date bounds
func (a *CalendarAssist) EventsByCalendar(ctx context.Context, cal *db.Calendar) ([]*event.Event, error) {
	items, err := a.list(ctx, cal, gcal.ListOptions{
		TimeMin:  a.wc.TimeMin,
		TimeMax:  a.wc.TimeMax,
		TimeZone: a.wc.User.UserTimeZone,
	})
	if err != nil {
		return nil, err
	}

	events := make([]*event.Event, 0, len(items))
	for _, item := range items {
		e, err := event.FromCalendar(item, cal)
		if err != nil {
			a.logger.Warn("skipping calendar event", "calendar_id", cal.GoogleCalendarID, "event_id", item.Id, "error", err)
			continue
		}
		if e.IsDeleted() {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Create inserts e into its calendar
func (a *CalendarAssist) Create(ctx context.Context, e *event.Event) (*calendar.Event, error) {
	g, err := e.ToCalendar()
	if err != nil {
		return nil, err
	}
	body := g.ToAPI(nil)

	var created *calendar.Event
	err = a.call(ctx, nil, func(ctx context.Context) error {
		var err error
		created, err = a.api.InsertEvent(ctx, e.Calendar.GoogleCalendarID, body)
		return err
	})
	return created, err
}

// Update overwrites the event with e, keeping fields the bot does not own.
// Events that are gone or owned by someone else are left alone and a nil event is returned.
func (a *CalendarAssist) Update(ctx context.Context, e *event.Event) (*calendar.Event, error) {
	g, err := e.ToCalendar()
	if err != nil {
		return nil, err
	}
	calendarID := e.Calendar.GoogleCalendarID

	var existing *calendar.Event
	err = a.call(ctx, []ignoreRule{ignoreCalendarNotFound}, func(ctx context.Context) error {
		var err error
		existing, err = a.api.GetEvent(ctx, calendarID, e.GoogleCalendarEventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a.update(ctx, calendarID, e.GoogleCalendarEventID, g.ToAPI(existing))
}

// AttachNotionPage adds the page attachment to an event that was just imported into Notion
func (a *CalendarAssist) AttachNotionPage(ctx context.Context, e *event.Event) (*calendar.Event, error) {
	g, err := e.ToCalendar()
	if err != nil {
		return nil, err
	}
	return a.update(ctx, e.Calendar.GoogleCalendarID, e.GoogleCalendarEventID, g.ToAPI(e.OriginalGoogle))
}

func (a *CalendarAssist) update(ctx context.Context, calendarID, eventID string, body *calendar.Event) (*calendar.Event, error) {
	var updated *calendar.Event
	err := a.call(ctx, []ignoreRule{ignoreCalendarNotFound, ignoreNonOrganizer}, func(ctx context.Context) error {
		var err error
		updated, err = a.api.UpdateEvent(ctx, calendarID, eventID, body)
		return err
	})
	return updated, err
}

// Delete removes an event. Missing or already deleted events count as done.
func (a *CalendarAssist) Delete(ctx context.Context, calendarID, eventID string) error {
	return a.call(ctx, []ignoreRule{ignoreCalendarNotFound, ignoreCalendarGone}, func(ctx context.Context) error {
		return a.api.DeleteEvent(ctx, calendarID, eventID)
	})
}

// Move transfers an event to another calendar
func (a *CalendarAssist) Move(ctx context.Context, fromCalendarID, eventID, toCalendarID string) (*calendar.Event, error) {
	var moved *calendar.Event
	err := a.call(ctx, nil, func(ctx context.Context) error {
		var err error
		moved, err = a.api.MoveEvent(ctx, fromCalendarID, eventID, toCalendarID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to move event %s: %w", eventID, err)
	}
	return moved, nil
}
