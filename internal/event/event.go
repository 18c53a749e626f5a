// Package event holds the neutral event model and its Notion and Google Calendar shapes.
package event

import (
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

// Source tags where an event value was read from
type Source string

const (
	SourceSelf     Source = "event"
	SourceNotion   Source = "notion"
	SourceCalendar Source = "googleCalendar"
)

// Status is the Calendar event status vocabulary
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// Event is the canonical representation both remote shapes convert through
type Event struct {
	Source Source

	EventID               int64
	GoogleCalendarEventID string
	NotionPageID          string
	Calendar              *db.Calendar
	EventLink             *db.EventLink

	Title             string
	Status            Status
	Location          string
	Description       string
	Date              Date
	CalendarEventLink string
	UpdatedAt         time.Time

	OriginalNotion *notion.Page
	OriginalGoogle *calendar.Event
}

// Merge returns a copy of e overlaid with every non-zero field of other
func (e *Event) Merge(other *Event) *Event {
	out := *e
	if other == nil {
		return &out
	}
	if other.Source != "" {
		out.Source = other.Source
	}
	if other.EventID != 0 {
		out.EventID = other.EventID
	}
	if other.GoogleCalendarEventID != "" {
		out.GoogleCalendarEventID = other.GoogleCalendarEventID
	}
	if other.NotionPageID != "" {
		out.NotionPageID = other.NotionPageID
	}
	if other.Calendar != nil {
		out.Calendar = other.Calendar
	}
	if other.EventLink != nil {
		out.EventLink = other.EventLink
	}
	if other.Title != "" {
		out.Title = other.Title
	}
	if other.Status != "" {
		out.Status = other.Status
	}
	if other.Location != "" {
		out.Location = other.Location
	}
	if other.Description != "" {
		out.Description = other.Description
	}
	if !other.Date.IsZero() {
		out.Date = other.Date
	}
	if other.CalendarEventLink != "" {
		out.CalendarEventLink = other.CalendarEventLink
	}
	if !other.UpdatedAt.IsZero() {
		out.UpdatedAt = other.UpdatedAt
	}
	if other.OriginalNotion != nil {
		out.OriginalNotion = other.OriginalNotion
	}
	if other.OriginalGoogle != nil {
		out.OriginalGoogle = other.OriginalGoogle
	}
	return &out
}

// IsNew reports whether no complete link exists yet
func (e *Event) IsNew() bool {
	return e.EventLink == nil || e.EventLink.GoogleCalendarEventID == "" || e.EventLink.NotionPageID == ""
}

// IsDeleted reports whether the source marked the event cancelled
func (e *Event) IsDeleted() bool {
	return e.Status == StatusCancelled
}

// IsReadOnly reports whether the owning calendar is a reader calendar
func (e *Event) IsReadOnly() bool {
	return e.Calendar != nil && e.Calendar.IsReadOnly()
}

// IsDifferentCalendar reports whether the event moved away from the linked calendar
func (e *Event) IsDifferentCalendar() bool {
	if e.EventLink == nil || e.Calendar == nil {
		return false
	}
	return e.EventLink.GoogleCalendarCalendarID != e.Calendar.GoogleCalendarID
}

// FromNotion converts a database page to the canonical event
func FromNotion(page *notion.Page, cal *db.Calendar, props db.NotionProps) (*Event, error) {
	n, err := FromNotionPage(page, cal, props)
	if err != nil {
		return nil, err
	}
	return n.ToEvent()
}

// FromCalendar converts a Calendar event to the canonical event
func FromCalendar(ev *calendar.Event, cal *db.Calendar) (*Event, error) {
	g, err := FromGoogleCalendar(ev, cal)
	if err != nil {
		return nil, err
	}
	return g.ToEvent(), nil
}

// ToNotion converts to the Notion shape
func (e *Event) ToNotion() (*NotionEvent, error) {
	return NotionEventFromEvent(e)
}

// ToCalendar converts to the Calendar shape
func (e *Event) ToCalendar() (*GoogleCalendarEvent, error) {
	return GoogleCalendarEventFromEvent(e)
}
