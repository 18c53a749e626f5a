package event

import (
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
)

// AttachmentMarker is the extended property value that tags a Notion-linked event
const AttachmentMarker = "bdcd90fd-4c12-4832-9caf-4fb21fc6c524"

const notionIconLink = "https://www.notion.so/images/favicon.ico"

// GoogleCalendarEvent is an event as stored in Google Calendar
type GoogleCalendarEvent struct {
	Source                Source
	EventID               int64
	NotionPageID          string
	GoogleCalendarEventID string
	Calendar              *db.Calendar

	Summary           string
	Status            Status
	Location          string
	Description       string
	Start             *calendar.EventDateTime
	End               *calendar.EventDateTime
	CalendarEventLink string
	UpdatedAt         time.Time

	OriginalGoogle *calendar.Event
}

// FromGoogleCalendar reads an API event. Cancelled events may come without dates.
func FromGoogleCalendar(ev *calendar.Event, cal *db.Calendar) (*GoogleCalendarEvent, error) {
	g := &GoogleCalendarEvent{
		Source:                SourceCalendar,
		GoogleCalendarEventID: ev.Id,
		Calendar:              cal,
		Summary:               ev.Summary,
		Status:                Status(ev.Status),
		Location:              ev.Location,
		Description:           ev.Description,
		Start:                 ev.Start,
		End:                   ev.End,
		CalendarEventLink:     ev.HtmlLink,
		OriginalGoogle:        ev,
	}
	if g.Status == "" {
		g.Status = StatusConfirmed
	}
	if ev.Updated != "" {
		t, err := time.Parse(time.RFC3339, ev.Updated)
		if err == nil {
			g.UpdatedAt = t
		}
	}
	if g.Status != StatusCancelled {
		if _, err := ConvertDateFromCalendar(ev.Start, ev.End); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// GoogleCalendarEventFromEvent converts a canonical event to the Calendar shape
func GoogleCalendarEventFromEvent(e *Event) (*GoogleCalendarEvent, error) {
	start, end, err := ConvertDateToCalendar(e.Date)
	if err != nil {
		return nil, err
	}
	status := e.Status
	if status == "" {
		status = StatusConfirmed
	}
	return &GoogleCalendarEvent{
		Source:                SourceSelf,
		EventID:               e.EventID,
		NotionPageID:          e.NotionPageID,
		GoogleCalendarEventID: e.GoogleCalendarEventID,
		Calendar:              e.Calendar,
		Summary:               e.Title,
		Status:                status,
		Location:              e.Location,
		Description:           e.Description,
		Start:                 start,
		End:                   end,
		CalendarEventLink:     e.CalendarEventLink,
		UpdatedAt:             e.UpdatedAt,
		OriginalGoogle:        e.OriginalGoogle,
	}, nil
}

// ToEvent converts to the canonical event. A cancelled event without dates keeps a zero Date.
func (g *GoogleCalendarEvent) ToEvent() *Event {
	date, _ := ConvertDateFromCalendar(g.Start, g.End)
	return &Event{
		Source:                g.Source,
		EventID:               g.EventID,
		NotionPageID:          g.NotionPageID,
		GoogleCalendarEventID: g.GoogleCalendarEventID,
		Calendar:              g.Calendar,
		Title:                 g.Summary,
		Status:                g.Status,
		Location:              g.Location,
		Description:           g.Description,
		Date:                  date,
		CalendarEventLink:     g.CalendarEventLink,
		UpdatedAt:             g.UpdatedAt,
		OriginalGoogle:        g.OriginalGoogle,
	}
}

// NotionPageURL is the attachment url of a Notion page
func NotionPageURL(pageID string) string {
	return "https://www.notion.so/" + pageID
}

// ToAPI builds the request body for insert/update. When the event is linked to a page,
// the Notion attachment and marker are added while keeping existing ones from existing.
func (g *GoogleCalendarEvent) ToAPI(existing *calendar.Event) *calendar.Event {
	ev := &calendar.Event{
		Summary:     g.Summary,
		Status:      string(g.Status),
		Location:    g.Location,
		Description: g.Description,
		Start:       g.Start,
		End:         g.End,
	}
	if g.NotionPageID == "" {
		return ev
	}

	shared := map[string]string{}
	private := map[string]string{}
	var attachments []*calendar.EventAttachment
	var notionAttachment *calendar.EventAttachment
	pageURL := NotionPageURL(g.NotionPageID)

	if existing != nil {
		if existing.ExtendedProperties != nil {
			for k, v := range existing.ExtendedProperties.Shared {
				shared[k] = v
			}
			for k, v := range existing.ExtendedProperties.Private {
				private[k] = v
			}
		}
		for _, a := range existing.Attachments {
			if a.FileUrl == pageURL {
				copied := *a
				notionAttachment = &copied
				continue
			}
			attachments = append(attachments, a)
		}
	}

	shared["n.attchwsid."+g.NotionPageID] = AttachmentMarker
	if notionAttachment == nil {
		notionAttachment = &calendar.EventAttachment{FileUrl: pageURL, IconLink: notionIconLink}
	}
	notionAttachment.Title = g.Summary

	ev.ExtendedProperties = &calendar.EventExtendedProperties{Shared: shared, Private: private}
	ev.Attachments = append(attachments, notionAttachment)
	return ev
}
