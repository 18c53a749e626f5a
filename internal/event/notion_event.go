package event

import (
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

// maxTextLength is Notion's limit for one rich text segment
const maxTextLength = 2000

// NotionEvent is an event as a page in the sync database
type NotionEvent struct {
	Source                Source
	EventID               int64
	NotionPageID          string
	GoogleCalendarEventID string
	Calendar              *db.Calendar

	Title             string
	IsDeleted         bool
	Location          string
	Description       string
	Date              notion.DateValue
	CalendarEventLink string
	UpdatedAt         time.Time

	OriginalNotion *notion.Page
}

// FromNotionPage reads the mapped properties of a page
func FromNotionPage(page *notion.Page, cal *db.Calendar, props db.NotionProps) (*NotionEvent, error) {
	n := &NotionEvent{
		Source:         SourceNotion,
		NotionPageID:   page.ID,
		Calendar:       cal,
		UpdatedAt:      page.LastEditedTime,
		OriginalNotion: page,
	}

	if v, ok := page.PropertyByID(props[db.PropTitle]); ok {
		n.Title = notion.PlainText(v.Title)
	}
	if v, ok := page.PropertyByID(props[db.PropDelete]); ok {
		n.IsDeleted = v.Checkbox
	}
	if id, ok := props[db.PropLocation]; ok {
		if v, ok := page.PropertyByID(id); ok {
			n.Location = notion.PlainText(v.RichText)
		}
	}
	if id, ok := props[db.PropDescription]; ok {
		if v, ok := page.PropertyByID(id); ok {
			n.Description = notion.PlainText(v.RichText)
		}
	}
	if v, ok := page.PropertyByID(props[db.PropLink]); ok && v.URL != nil {
		n.CalendarEventLink = *v.URL
	}

	v, ok := page.PropertyByID(props[db.PropDate])
	if !ok || v.Date == nil {
		return nil, ErrInvalidDate
	}
	n.Date = *v.Date
	return n, nil
}

// NotionEventFromEvent converts a canonical event to the page shape
func NotionEventFromEvent(e *Event) (*NotionEvent, error) {
	date, err := ConvertDateToNotion(e.Date)
	if err != nil {
		return nil, err
	}
	return &NotionEvent{
		Source:                SourceSelf,
		EventID:               e.EventID,
		NotionPageID:          e.NotionPageID,
		GoogleCalendarEventID: e.GoogleCalendarEventID,
		Calendar:              e.Calendar,
		Title:                 e.Title,
		IsDeleted:             e.Status == StatusCancelled,
		Location:              e.Location,
		Description:           e.Description,
		Date:                  *date,
		CalendarEventLink:     e.CalendarEventLink,
		UpdatedAt:             e.UpdatedAt,
		OriginalNotion:        e.OriginalNotion,
	}, nil
}

// ToEvent converts the page shape to the canonical event.
// Pages with the delete box checked or archived pages are cancelled.
func (n *NotionEvent) ToEvent() (*Event, error) {
	date, err := ConvertDateFromNotion(&n.Date)
	if err != nil {
		return nil, err
	}
	status := StatusConfirmed
	if n.IsDeleted || (n.OriginalNotion != nil && n.OriginalNotion.Archived) {
		status = StatusCancelled
	}
	return &Event{
		Source:                n.Source,
		EventID:               n.EventID,
		NotionPageID:          n.NotionPageID,
		GoogleCalendarEventID: n.GoogleCalendarEventID,
		Calendar:              n.Calendar,
		Title:                 n.Title,
		Status:                status,
		Location:              n.Location,
		Description:           n.Description,
		Date:                  date,
		CalendarEventLink:     n.CalendarEventLink,
		UpdatedAt:             n.UpdatedAt,
		OriginalNotion:        n.OriginalNotion,
	}, nil
}

// Properties builds the page property payload keyed by property id.
// Location and description are written only when additional props are synced.
func (n *NotionEvent) Properties(props db.NotionProps, syncAdditional bool) map[string]notion.PropertyValue {
	out := map[string]notion.PropertyValue{
		props[db.PropTitle]: {Type: notion.TypeTitle, Title: notion.NewText(truncate(n.Title))},
		props[db.PropDate]:  {Type: notion.TypeDate, Date: &notion.DateValue{Start: n.Date.Start, End: n.Date.End, TimeZone: n.Date.TimeZone}},
	}
	if n.Calendar != nil {
		out[props[db.PropCalendar]] = notion.PropertyValue{
			Type:   notion.TypeSelect,
			Select: &notion.SelectOption{Name: n.Calendar.GoogleCalendarName},
		}
	}
	if id, ok := props[db.PropLink]; ok && id != "" {
		link := notion.PropertyValue{Type: notion.TypeURL}
		if n.CalendarEventLink != "" {
			u := n.CalendarEventLink
			link.URL = &u
		}
		out[id] = link
	}
	if syncAdditional {
		if id, ok := props[db.PropLocation]; ok && id != "" {
			out[id] = notion.PropertyValue{Type: notion.TypeRichText, RichText: notion.NewText(truncate(n.Location))}
		}
		if id, ok := props[db.PropDescription]; ok && id != "" {
			out[id] = notion.PropertyValue{Type: notion.TypeRichText, RichText: notion.NewText(truncate(n.Description))}
		}
	}
	return out
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxTextLength {
		return s
	}
	return string(r[:maxTextLength])
}
