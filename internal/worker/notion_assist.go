package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/event"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

// NotionAssist wraps the user's Notion database with retry, pacing and error classification
type NotionAssist struct {
	api    NotionAPI
	store  Store
	wc     *WorkContext
	policy Policy
	logger *slog.Logger
}

func newNotionAssist(api NotionAPI, store Store, wc *WorkContext, policy Policy, logger *slog.Logger) *NotionAssist {
	return &NotionAssist{api: api, store: store, wc: wc, policy: policy, logger: logger}
}

func (a *NotionAssist) call(ctx context.Context, target notionTarget, ignores []ignoreRule, op func(ctx context.Context) error) error {
	if err := a.policy.Do(ctx, ignores, op); err != nil {
		return classifyNotion(err, target)
	}
	return nil
}

func (a *NotionAssist) databaseID() string {
	return a.wc.User.NotionDatabaseID
}

// Database retrieves the database schema
func (a *NotionAssist) Database(ctx context.Context) (*notion.Database, error) {
	var database *notion.Database
	err := a.call(ctx, targetDatabase, nil, func(ctx context.Context) error {
		var err error
		database, err = a.api.RetrieveDatabase(ctx, a.databaseID())
		return err
	})
	return database, err
}

// ValidateAndRestore checks the property mapping against the schema, recreates
// restorable properties and fails with a schema violation for the rest
func (a *NotionAssist) ValidateAndRestore(ctx context.Context) error {
	database, err := a.Database(ctx)
	if err != nil {
		return err
	}

	var fatal []string
	restored := false
	for _, d := range ValidateSchema(a.wc.Props, database, a.wc.User.IsSyncAdditionalProps) {
		if !d.Restorable {
			fatal = append(fatal, d.String())
			continue
		}
		id, err := a.addProp(ctx, d.Prop, d.Expected)
		if err != nil {
			return err
		}
		a.wc.Props[d.Prop] = id
		restored = true
		a.logger.Info("restored notion property", "prop", d.Prop, "property_id", id)
	}

	if restored {
		if err := a.store.UpdateUserNotionProps(ctx, a.wc.User.ID, a.wc.Props); err != nil {
			return fmt.Errorf("failed to save notion props: %w", err)
		}
	}
	if len(fatal) > 0 {
		return &SyncError{
			Code:        CodeNotionValidation,
			Kind:        KindSchemaViolation,
			From:        FromNotion,
			Description: "notion database schema does not match the property mapping",
			Detail:      strings.Join(fatal, "\n"),
			Level:       LevelError,
			FinishWork:  FinishStop,
		}
	}
	return nil
}

// addProp returns the id of a property named name with type typ, creating it if needed.
// A same-named property of another type makes it try "name (1)", "name (2)", ...
func (a *NotionAssist) addProp(ctx context.Context, name, typ string) (string, error) {
	database, err := a.Database(ctx)
	if err != nil {
		return "", err
	}
	if existing, ok := database.Properties[name]; ok && existing.Type == typ {
		return existing.ID, nil
	}

	propName := freePropName(database, name)
	var updated *notion.Database
	err = a.call(ctx, targetDatabase, nil, func(ctx context.Context) error {
		var err error
		updated, err = a.api.UpdateDatabase(ctx, a.databaseID(), notion.UpdateDatabaseRequest{
			Properties: map[string]notion.PropertySchema{
				propName: {Name: propName, Type: typ},
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}

	prop, ok := updated.Properties[propName]
	if !ok {
		return "", fmt.Errorf("property %q missing after database update", propName)
	}
	return prop.ID, nil
}

// writableCalendarFilter matches pages assigned to a calendar the bot may write
func (a *NotionAssist) writableCalendarFilter() (notion.Filter, bool) {
	if len(a.wc.WritableCalendars) == 0 {
		return notion.Filter{}, false
	}
	or := make([]notion.Filter, 0, len(a.wc.WritableCalendars))
	for _, cal := range a.wc.WritableCalendars {
		or = append(or, notion.Filter{
			Property: a.wc.Props[db.PropCalendar],
			Select:   &notion.SelectFilter{Equals: cal.GoogleCalendarName},
		})
	}
	return notion.Filter{Or: or}, true
}

func (a *NotionAssist) baseFilters() ([]notion.Filter, bool) {
	calendars, ok := a.writableCalendarFilter()
	if !ok {
		return nil, false
	}
	props := a.wc.Props
	return []notion.Filter{
		{Property: props[db.PropCalendar], Select: &notion.SelectFilter{IsNotEmpty: true}},
		{Property: props[db.PropDate], Date: &notion.DateFilter{OnOrAfter: a.wc.TimeMin, OnOrBefore: a.wc.TimeMax}},
		calendars,
	}, true
}

func (a *NotionAssist) query(ctx context.Context, filters []notion.Filter) ([]notion.Page, error) {
	var pages []notion.Page
	err := a.call(ctx, targetDatabase, nil, func(ctx context.Context) error {
		var err error
		pages, err = a.api.QueryDatabaseAll(ctx, a.databaseID(), notion.QueryRequest{Filter: notion.And(filters...)})
		return err
	})
	return pages, err
}

// DeletedPages returns pages whose delete box is checked
func (a *NotionAssist) DeletedPages(ctx context.Context) ([]notion.Page, error) {
	filters, ok := a.baseFilters()
	if !ok {
		return nil, nil
	}
	filters = append(filters, notion.Filter{
		Property: a.wc.Props[db.PropDelete],
		Checkbox: &notion.CheckboxFilter{Equals: true},
	})
	return a.query(ctx, filters)
}

// UpdatedPages returns pages a person edited within the sync window, each
// carrying its event link
func (a *NotionAssist) UpdatedPages(ctx context.Context, links *LinkAssist) ([]*event.Event, error) {
	filters, ok := a.baseFilters()
	if !ok {
		a.wc.Result.SyncEvents.Notion2GCalCount = 0
		return nil, nil
	}
	period := a.wc.Period
	if botID := a.wc.User.NotionBotID; botID != "" {
		filters = append(filters, notion.Filter{
			Property: a.wc.Props[db.PropLastEditedBy],
			People:   &notion.PeopleFilter{DoesNotContain: botID},
		})
	}
	filters = append(filters,
		notion.Filter{
			Timestamp:      "last_edited_time",
			LastEditedTime: &notion.DateFilter{OnOrAfter: period.Start.UTC().Format(time.RFC3339)},
		},
		notion.Filter{
			Timestamp:      "last_edited_time",
			LastEditedTime: &notion.DateFilter{Before: period.End.UTC().Format(time.RFC3339)},
		},
	)

	pages, err := a.query(ctx, filters)
	if err != nil {
		return nil, err
	}

	var events []*event.Event
	for i := range pages {
		page := &pages[i]
		if page.LastEditedTime.Before(period.Start) || !page.LastEditedTime.Before(period.End) {
			continue
		}
		e, err := event.FromNotion(page, a.pageCalendar(page), a.wc.Props)
		if err != nil {
			a.logger.Warn("skipping notion page", "page_id", page.ID, "error", err)
			continue
		}
		link, err := links.FindByNotionPageID(ctx, page.ID)
		if err != nil {
			return nil, err
		}
		if link != nil {
			e.EventLink = link
			e.GoogleCalendarEventID = link.GoogleCalendarEventID
		}
		events = append(events, e)
	}

	a.wc.Result.SyncEvents.Notion2GCalCount = len(events)
	return events, nil
}

func (a *NotionAssist) pageCalendar(page *notion.Page) *db.Calendar {
	v, ok := page.PropertyByID(a.wc.Props[db.PropCalendar])
	if !ok || v.Select == nil {
		return nil
	}
	return a.wc.CalendarByName(v.Select.Name)
}

// AddCalendarOption adds cal as an option of the calendar select property and
// stores the new option id on the calendar
func (a *NotionAssist) AddCalendarOption(ctx context.Context, cal *db.Calendar) error {
	known := map[string]bool{}
	var options []notion.SelectOption
	for _, c := range a.wc.Calendars {
		if c.ID == cal.ID || c.NotionPropertyID == nil || *c.NotionPropertyID == "" {
			continue
		}
		known[*c.NotionPropertyID] = true
		options = append(options, notion.SelectOption{ID: *c.NotionPropertyID, Name: c.GoogleCalendarName})
	}
	options = append(options, notion.SelectOption{Name: cal.GoogleCalendarName})

	propID := a.wc.Props[db.PropCalendar]
	var database *notion.Database
	err := a.call(ctx, targetDatabase, nil, func(ctx context.Context) error {
		var err error
		database, err = a.api.UpdateDatabase(ctx, a.databaseID(), notion.UpdateDatabaseRequest{
			Properties: map[string]notion.PropertySchema{
				propID: {Type: notion.TypeSelect, Select: &notion.SelectSchema{Options: options}},
			},
		})
		return err
	})
	if err != nil {
		return err
	}

	schema, ok := database.PropertyByID(propID)
	if !ok || schema.Select == nil {
		return fmt.Errorf("calendar property %s missing after database update", propID)
	}
	optionID := ""
	for _, opt := range schema.Select.Options {
		if !known[opt.ID] && opt.Name == cal.GoogleCalendarName {
			optionID = opt.ID
			break
		}
	}
	if optionID == "" {
		return fmt.Errorf("select option for calendar %q not found", cal.GoogleCalendarName)
	}

	if err := a.store.UpdateCalendarNotionPropertyID(ctx, cal.ID, optionID); err != nil {
		return fmt.Errorf("failed to save calendar option id: %w", err)
	}
	cal.NotionPropertyID = &optionID
	return nil
}

// CreatePage creates a database page for e
func (a *NotionAssist) CreatePage(ctx context.Context, e *event.Event) (*notion.Page, error) {
	n, err := e.ToNotion()
	if err != nil {
		return nil, err
	}
	req := notion.CreatePageRequest{
		Parent:     notion.Parent{Type: "database_id", DatabaseID: a.databaseID()},
		Properties: n.Properties(a.wc.Props, a.wc.User.IsSyncAdditionalProps),
	}

	var page *notion.Page
	err = a.call(ctx, targetPage, nil, func(ctx context.Context) error {
		var err error
		page, err = a.api.CreatePage(ctx, req)
		return err
	})
	return page, err
}

// UpdatePage writes e onto its page. Pages that are gone or archived are left
// alone and a nil page is returned.
func (a *NotionAssist) UpdatePage(ctx context.Context, e *event.Event) (*notion.Page, error) {
	n, err := e.ToNotion()
	if err != nil {
		return nil, err
	}
	return a.updatePage(ctx, e.NotionPageID, notion.UpdatePageRequest{
		Properties: n.Properties(a.wc.Props, a.wc.User.IsSyncAdditionalProps),
	})
}

// SetPageLink writes the calendar event url into the link property
func (a *NotionAssist) SetPageLink(ctx context.Context, pageID, link string) (*notion.Page, error) {
	propID := a.wc.Props[db.PropLink]
	if propID == "" {
		return nil, nil
	}
	value := notion.PropertyValue{Type: notion.TypeURL}
	if link != "" {
		value.URL = &link
	}
	return a.updatePage(ctx, pageID, notion.UpdatePageRequest{
		Properties: map[string]notion.PropertyValue{propID: value},
	})
}

// ArchivePage archives a page. Already archived or missing pages count as done.
func (a *NotionAssist) ArchivePage(ctx context.Context, pageID string) error {
	archived := true
	_, err := a.updatePage(ctx, pageID, notion.UpdatePageRequest{Archived: &archived})
	return err
}

func (a *NotionAssist) updatePage(ctx context.Context, pageID string, req notion.UpdatePageRequest) (*notion.Page, error) {
	var page *notion.Page
	err := a.call(ctx, targetPage, []ignoreRule{ignoreArchivedPage, ignoreNotionNotFound}, func(ctx context.Context) error {
		var err error
		page, err = a.api.UpdatePage(ctx, pageID, req)
		return err
	})
	return page, err
}
