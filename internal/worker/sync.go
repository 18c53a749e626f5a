package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/event"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/gcal"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

func (r *run) eraseDeletedEvents(ctx context.Context) error {
	r.step(StepEraseDeletedEvent)
	res := &r.wc.Result.EraseDeletedEvent

	pages, err := r.notion.DeletedPages(ctx)
	if err != nil {
		return err
	}
	for _, page := range pages {
		link, err := r.links.FindByNotionPageID(ctx, page.ID)
		if err != nil {
			return err
		}
		if link != nil {
			err = r.eraseLink(ctx, link)
		} else {
			err = r.notion.ArchivePage(ctx, page.ID)
		}
		if err != nil {
			return err
		}
	}
	res.Notion = len(pages)

	links, err := r.links.FindWillRemove(ctx)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := r.eraseLink(ctx, link); err != nil {
			return err
		}
	}
	res.EventLink = len(links)

	r.logger.Debug("erased deleted events", "pages", res.Notion, "links", res.EventLink)
	return nil
}

// eraseLink removes both sides of a link and then the link itself.
// The calendar side is left alone when the calendar is unknown or read only.
func (r *run) eraseLink(ctx context.Context, link *db.EventLink) error {
	if link.NotionPageID != "" {
		if err := r.notion.ArchivePage(ctx, link.NotionPageID); err != nil {
			return err
		}
	}
	if link.Calendar != nil && !link.Calendar.IsReadOnly() && link.GoogleCalendarEventID != "" {
		if err := r.gcal.Delete(ctx, link.GoogleCalendarCalendarID, link.GoogleCalendarEventID); err != nil {
			return err
		}
	}
	return r.links.Delete(ctx, link)
}

func (r *run) syncEvents(ctx context.Context) error {
	r.step(StepSyncEvents)

	pages, err := r.notion.UpdatedPages(ctx, r.links)
	if err != nil {
		return err
	}
	events, err := r.gcal.UpdatedEvents(ctx, r.links)
	if err != nil {
		return err
	}
	if r.wc.User.NotionBotID == "" {
		// without a bot id the query also returns the bot's own page writes
		pages = dropPropagated(pages, (*db.EventLink).LastSynced)
	}
	pages, events = resolveConflicts(pages, events)
	r.logger.Debug("changes to apply", "pages", len(pages), "events", len(events))

	for _, e := range events {
		if err := r.skipInvalid(r.cudPage(ctx, e), e); err != nil {
			return err
		}
	}
	for _, e := range pages {
		if err := r.skipInvalid(r.cudEvent(ctx, e), e); err != nil {
			return err
		}
	}
	return nil
}

// skipInvalid swallows per-item date errors so one bad event does not fail the run
func (r *run) skipInvalid(err error, e *event.Event) error {
	if errors.Is(err, event.ErrInvalidDate) {
		r.logger.Warn("skipping event with invalid date",
			"source", e.Source,
			"page_id", e.NotionPageID,
			"event_id", e.GoogleCalendarEventID,
			"error", err,
		)
		return nil
	}
	return err
}

// resolveConflicts drops changes the bot wrote itself and, when both sides of a
// link changed, keeps only the newer one. Calendar wins within the same minute.
func resolveConflicts(pages, events []*event.Event) ([]*event.Event, []*event.Event) {
	pages = dropPropagated(pages, calendarWrite)
	events = dropPropagated(events, (*db.EventLink).LastSynced)

	eventsByID := make(map[string]*event.Event, len(events))
	for _, e := range events {
		eventsByID[e.GoogleCalendarEventID] = e
	}
	pagesByID := make(map[string]*event.Event, len(pages))
	for _, p := range pages {
		pagesByID[p.NotionPageID] = p
	}

	keptPages := make([]*event.Event, 0, len(pages))
	for _, p := range pages {
		if p.EventLink != nil {
			if e, ok := eventsByID[p.EventLink.GoogleCalendarEventID]; ok && !minute(p.UpdatedAt).After(minute(e.UpdatedAt)) {
				continue
			}
		}
		keptPages = append(keptPages, p)
	}

	keptEvents := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e.EventLink != nil {
			if p, ok := pagesByID[e.EventLink.NotionPageID]; ok && minute(p.UpdatedAt).After(minute(e.UpdatedAt)) {
				continue
			}
		}
		keptEvents = append(keptEvents, e)
	}
	return keptPages, keptEvents
}

// dropPropagated removes items whose last change is not newer than the bot's
// recorded write on their link, as returned by since
func dropPropagated(items []*event.Event, since func(*db.EventLink) time.Time) []*event.Event {
	out := make([]*event.Event, 0, len(items))
	for _, e := range items {
		if e.EventLink != nil && !e.UpdatedAt.After(since(e.EventLink)) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// calendarWrite bounds pages by the bot's last Calendar write. The page query
// already leaves out pages the bot edited last.
func calendarWrite(l *db.EventLink) time.Time {
	return l.LastGoogleCalendarUpdate
}

func minute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// cudEvent applies a Notion change to Calendar
func (r *run) cudEvent(ctx context.Context, e *event.Event) error {
	if e.Calendar == nil || e.IsReadOnly() {
		return nil
	}
	if e.IsNew() {
		return r.createEvent(ctx, e)
	}

	link := e.EventLink
	e.GoogleCalendarEventID = link.GoogleCalendarEventID
	if e.IsDeleted() {
		return r.eraseLink(ctx, link)
	}
	if e.IsDifferentCalendar() {
		if err := r.moveEvent(ctx, e); err != nil {
			return err
		}
	}

	updated, err := r.gcal.Update(ctx, e)
	if err != nil {
		return err
	}
	return r.links.TouchCalendar(ctx, link, r.stamp(eventUpdated(updated)))
}

func (r *run) createEvent(ctx context.Context, e *event.Event) error {
	if e.IsDeleted() {
		return nil
	}
	created, err := r.gcal.Create(ctx, e)
	if err != nil {
		return err
	}
	e.GoogleCalendarEventID = created.Id
	e.CalendarEventLink = created.HtmlLink

	link, err := r.links.Save(ctx, e, r.stamp(e.UpdatedAt), r.stamp(eventUpdated(created)))
	if err != nil {
		return err
	}
	page, err := r.notion.SetPageLink(ctx, e.NotionPageID, created.HtmlLink)
	if err != nil {
		return err
	}
	if page == nil {
		return nil
	}
	return r.links.TouchNotion(ctx, link, r.stamp(page.LastEditedTime))
}

// moveEvent follows a page that was assigned to another calendar. An event in a
// calendar the bot cannot write is copied into the new calendar instead.
func (r *run) moveEvent(ctx context.Context, e *event.Event) error {
	link := e.EventLink
	from := link.Calendar
	if from != nil && !from.IsReadOnly() {
		moved, err := r.gcal.Move(ctx, link.GoogleCalendarCalendarID, link.GoogleCalendarEventID, e.Calendar.GoogleCalendarID)
		if err != nil {
			return err
		}
		if moved != nil && moved.Id != "" {
			link.GoogleCalendarEventID = moved.Id
			e.GoogleCalendarEventID = moved.Id
		}
		return r.links.UpdateCalendar(ctx, link, e.Calendar)
	}

	created, err := r.gcal.Create(ctx, e)
	if err != nil {
		return err
	}
	link.GoogleCalendarEventID = created.Id
	e.GoogleCalendarEventID = created.Id
	return r.links.UpdateCalendar(ctx, link, e.Calendar)
}

// cudPage applies a Calendar change to Notion
func (r *run) cudPage(ctx context.Context, e *event.Event) error {
	if e.IsNew() {
		return r.createPage(ctx, e)
	}

	link := e.EventLink
	e.NotionPageID = link.NotionPageID
	if e.IsDeleted() {
		if err := r.notion.ArchivePage(ctx, link.NotionPageID); err != nil {
			return err
		}
		return r.links.Delete(ctx, link)
	}
	if e.IsDifferentCalendar() {
		if err := r.links.UpdateCalendar(ctx, link, e.Calendar); err != nil {
			return err
		}
	}

	page, err := r.notion.UpdatePage(ctx, e)
	if err != nil {
		return err
	}
	return r.links.TouchNotion(ctx, link, r.stamp(pageEdited(page)))
}

func (r *run) createPage(ctx context.Context, e *event.Event) error {
	if e.IsDeleted() || e.Calendar == nil {
		return nil
	}
	page, err := r.notion.CreatePage(ctx, e)
	if err != nil {
		return err
	}
	e.NotionPageID = page.ID

	link, err := r.links.Save(ctx, e, r.stamp(page.LastEditedTime), r.stamp(e.UpdatedAt))
	if err != nil {
		return err
	}
	if e.IsReadOnly() {
		return nil
	}

	updated, err := r.gcal.AttachNotionPage(ctx, e)
	if err != nil {
		return err
	}
	return r.links.TouchCalendar(ctx, link, r.stamp(eventUpdated(updated)))
}

func (r *run) syncNewCalendars(ctx context.Context) error {
	r.step(StepSyncNewCalendar)
	return r.importPending(ctx)
}

func (r *run) initAccount(ctx context.Context) error {
	r.step(StepInitAccount)
	return r.importPending(ctx)
}

func (r *run) importPending(ctx context.Context) error {
	for _, cal := range r.wc.PendingCalendars {
		if err := r.syncNewCalendar(ctx, cal); err != nil {
			return err
		}
		r.logger.Info("connected new calendar", "calendar_id", cal.GoogleCalendarID, "name", cal.GoogleCalendarName)
	}
	return nil
}

// syncNewCalendar imports every event of a freshly connected calendar into
// Notion and marks it connected
func (r *run) syncNewCalendar(ctx context.Context, cal *db.Calendar) error {
	entry := &NewCalendarResult{ID: cal.ID, GCalID: cal.GoogleCalendarID, GCalName: cal.GoogleCalendarName}
	r.wc.Result.SyncNewCalendar[strconv.FormatInt(cal.ID, 10)] = entry

	if err := r.notion.AddCalendarOption(ctx, cal); err != nil {
		return err
	}
	events, err := r.gcal.EventsByCalendar(ctx, cal)
	if err != nil {
		return err
	}

	for _, e := range events {
		link, err := r.links.FindByGoogleEventID(ctx, e.GoogleCalendarEventID)
		if err != nil {
			return err
		}
		if link != nil && link.NotionPageID != "" {
			continue
		}
		e.EventLink = link

		page, err := r.notion.CreatePage(ctx, e)
		if err := r.skipInvalid(err, e); err != nil {
			return err
		}
		if page == nil {
			continue
		}
		e.NotionPageID = page.ID
		if _, err := r.links.Save(ctx, e, r.stamp(page.LastEditedTime), r.stamp(e.UpdatedAt)); err != nil {
			return err
		}
		entry.EventCount++
	}

	if err := r.w.store.UpdateCalendarStatus(ctx, cal.ID, db.CalendarConnected); err != nil {
		return err
	}
	cal.Status = db.CalendarConnected
	return nil
}

func pageEdited(page *notion.Page) time.Time {
	if page == nil {
		return time.Time{}
	}
	return page.LastEditedTime
}

func eventUpdated(ev *calendar.Event) time.Time {
	if ev == nil {
		return time.Time{}
	}
	return gcal.ParseTime(ev.Updated)
}
