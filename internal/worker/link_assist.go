package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/event"
)

// LinkAssist reads and writes the user's event links
type LinkAssist struct {
	store  Store
	wc     *WorkContext
	logger *slog.Logger
}

func newLinkAssist(store Store, wc *WorkContext, logger *slog.Logger) *LinkAssist {
	return &LinkAssist{store: store, wc: wc, logger: logger}
}

// FindByNotionPageID returns the link for a page, removing older duplicates
func (a *LinkAssist) FindByNotionPageID(ctx context.Context, pageID string) (*db.EventLink, error) {
	links, err := a.store.FindLinksByNotionPageID(ctx, a.wc.User.ID, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find link by page %s: %w", pageID, err)
	}
	return a.keepNewest(ctx, links)
}

// FindByGoogleEventID returns the link for a calendar event, removing older duplicates
func (a *LinkAssist) FindByGoogleEventID(ctx context.Context, eventID string) (*db.EventLink, error) {
	links, err := a.store.FindLinksByGoogleEventID(ctx, a.wc.User.ID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find link by event %s: %w", eventID, err)
	}
	return a.keepNewest(ctx, links)
}

// FindWillRemove returns links flagged for removal
func (a *LinkAssist) FindWillRemove(ctx context.Context) ([]*db.EventLink, error) {
	links, err := a.store.FindWillRemoveLinks(ctx, a.wc.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find links to remove: %w", err)
	}
	for _, link := range links {
		a.attachCalendar(link)
	}
	return links, nil
}

// keepNewest expects links ordered newest first
func (a *LinkAssist) keepNewest(ctx context.Context, links []*db.EventLink) (*db.EventLink, error) {
	if len(links) == 0 {
		return nil, nil
	}
	if len(links) > 1 {
		ids := make([]int64, 0, len(links)-1)
		for _, l := range links[1:] {
			ids = append(ids, l.ID)
		}
		if err := a.store.DeleteLinks(ctx, ids); err != nil {
			return nil, fmt.Errorf("failed to remove duplicate links: %w", err)
		}
		a.logger.Warn("removed duplicate event links", "kept", links[0].ID, "removed", ids)
	}
	link := links[0]
	a.attachCalendar(link)
	return link, nil
}

func (a *LinkAssist) attachCalendar(link *db.EventLink) {
	if link.Calendar != nil {
		return
	}
	link.Calendar = a.wc.CalendarByGoogleID(link.GoogleCalendarCalendarID)
}

// Save creates the link for e, or completes the partial one it already carries
func (a *LinkAssist) Save(ctx context.Context, e *event.Event, notionUpdate, calendarUpdate time.Time) (*db.EventLink, error) {
	link := e.EventLink
	if link == nil {
		link = &db.EventLink{UserID: a.wc.User.ID, Status: db.LinkSynced}
	}
	link.NotionPageID = e.NotionPageID
	link.GoogleCalendarEventID = e.GoogleCalendarEventID
	link.LastNotionUpdate = notionUpdate
	link.LastGoogleCalendarUpdate = calendarUpdate
	if e.Calendar != nil {
		link.CalendarID = e.Calendar.ID
		link.GoogleCalendarCalendarID = e.Calendar.GoogleCalendarID
		link.Calendar = e.Calendar
	}

	if link.ID == 0 {
		if err := a.store.CreateLink(ctx, link); err != nil {
			return nil, fmt.Errorf("failed to create link: %w", err)
		}
		return link, nil
	}
	if err := a.store.UpdateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to update link %d: %w", link.ID, err)
	}
	return link, nil
}

// UpdateCalendar points the link at a new calendar
func (a *LinkAssist) UpdateCalendar(ctx context.Context, link *db.EventLink, cal *db.Calendar) error {
	link.CalendarID = cal.ID
	link.GoogleCalendarCalendarID = cal.GoogleCalendarID
	link.Calendar = cal
	if err := a.store.UpdateLink(ctx, link); err != nil {
		return fmt.Errorf("failed to update link %d calendar: %w", link.ID, err)
	}
	return nil
}

// TouchNotion records a write to the Notion side
func (a *LinkAssist) TouchNotion(ctx context.Context, link *db.EventLink, at time.Time) error {
	link.LastNotionUpdate = at
	if err := a.store.UpdateLink(ctx, link); err != nil {
		return fmt.Errorf("failed to update link %d: %w", link.ID, err)
	}
	return nil
}

// TouchCalendar records a write to the Calendar side
func (a *LinkAssist) TouchCalendar(ctx context.Context, link *db.EventLink, at time.Time) error {
	link.LastGoogleCalendarUpdate = at
	if err := a.store.UpdateLink(ctx, link); err != nil {
		return fmt.Errorf("failed to update link %d: %w", link.ID, err)
	}
	return nil
}

// Delete removes a link
func (a *LinkAssist) Delete(ctx context.Context, link *db.EventLink) error {
	if err := a.store.DeleteLinks(ctx, []int64{link.ID}); err != nil {
		return fmt.Errorf("failed to delete link %d: %w", link.ID, err)
	}
	return nil
}
