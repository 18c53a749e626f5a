package worker

import (
	"fmt"
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
)

// Period is the half-open window [Start, End) of changes a run picks up
type Period struct {
	Start time.Time
	End   time.Time
}

// IsEmpty reports whether the window selects nothing
func (p Period) IsEmpty() bool {
	return !p.Start.Before(p.End)
}

// WorkContext is the per-run state shared by the assists
type WorkContext struct {
	WorkerID  string
	User      *db.User
	Props     db.NotionProps
	StartedAt time.Time
	Period    Period

	// TimeMin and TimeMax bound event dates on both sides
	TimeMin string
	TimeMax string

	Calendars          []*db.Calendar
	ConnectedCalendars []*db.Calendar
	WritableCalendars  []*db.Calendar
	PendingCalendars   []*db.Calendar

	Result *Result
}

func newWorkContext(workerID string, user *db.User, now time.Time, cfg config.WorkerConfig) *WorkContext {
	wc := &WorkContext{
		WorkerID:  workerID,
		User:      user,
		StartedAt: now,
		Period:    Period{End: now.Truncate(time.Minute)},
		TimeMin:   cfg.MinDate,
		TimeMax:   cfg.MaxDate,
		Result:    newResult(),
	}
	if user.LastCalendarSync != nil {
		wc.Period.Start = *user.LastCalendarSync
	}
	if user.SyncYear != 0 {
		start, err := time.Parse(time.RFC3339, fmt.Sprintf("%d-01-01T01:00:00+09:00", user.SyncYear-1))
		if err == nil {
			wc.TimeMin = start.UTC().Format(time.RFC3339)
		}
	}
	return wc
}

// IsInitialized reports whether the user has finished a first sync
func (c *WorkContext) IsInitialized() bool {
	return c.User.LastCalendarSync != nil
}

// SetCalendars splits the user's calendars by status and access role.
// Calendars matching ignore are dropped entirely.
func (c *WorkContext) SetCalendars(calendars []*db.Calendar, ignore func(googleCalendarID string) bool) {
	c.Calendars = nil
	c.ConnectedCalendars = nil
	c.WritableCalendars = nil
	c.PendingCalendars = nil

	for _, cal := range calendars {
		if ignore != nil && ignore(cal.GoogleCalendarID) {
			continue
		}
		c.Calendars = append(c.Calendars, cal)
		switch cal.Status {
		case db.CalendarConnected:
			c.ConnectedCalendars = append(c.ConnectedCalendars, cal)
			if !cal.IsReadOnly() {
				c.WritableCalendars = append(c.WritableCalendars, cal)
			}
		case db.CalendarPending:
			c.PendingCalendars = append(c.PendingCalendars, cal)
		}
	}
}

// CalendarByName finds a calendar by the select option name used in Notion
func (c *WorkContext) CalendarByName(name string) *db.Calendar {
	if name == "" {
		return nil
	}
	for _, cal := range c.Calendars {
		if cal.GoogleCalendarName == name {
			return cal
		}
	}
	return nil
}

// CalendarByGoogleID finds a calendar by its Google calendar id
func (c *WorkContext) CalendarByGoogleID(id string) *db.Calendar {
	for _, cal := range c.Calendars {
		if cal.GoogleCalendarID == id {
			return cal
		}
	}
	return nil
}
