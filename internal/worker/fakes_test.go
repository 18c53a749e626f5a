package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/gcal"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

const (
	testBotID    = "bot-1"
	testPersonID = "person-1"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeStore keeps users, calendars, links and error logs in memory
type fakeStore struct {
	mu        sync.Mutex
	users     map[int64]*db.User
	calendars map[int64]*db.Calendar
	links     map[int64]*db.EventLink
	errorLogs []*db.ErrorLog
	nextLink  int64

	disconnected map[int64]bool
	cleared      int
	finished     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[int64]*db.User{},
		calendars:    map[int64]*db.Calendar{},
		links:        map[int64]*db.EventLink{},
		disconnected: map[int64]bool{},
	}
}

func (s *fakeStore) GetUser(_ context.Context, userID int64) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *fakeStore) MarkUserWorking(_ context.Context, userID int64, syncbotID, version string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	if u.IsWork {
		return db.ErrAlreadyClaimed
	}
	u.IsWork = true
	u.SyncbotID = &syncbotID
	u.SyncbotVersion = &version
	u.WorkStartedAt = &startedAt
	return nil
}

func (s *fakeStore) FinishUserWork(_ context.Context, userID int64, lastCalendarSync time.Time, syncStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.IsWork = false
	u.LastCalendarSync = &lastCalendarSync
	u.LastSyncStatus = syncStatus
	s.finished++
	return nil
}

func (s *fakeStore) ClearUserWork(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].IsWork = false
	s.cleared++
	return nil
}

func (s *fakeStore) UpdateUserNotionProps(_ context.Context, userID int64, props db.NotionProps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	s.users[userID].NotionProps = string(raw)
	return nil
}

func (s *fakeStore) SetUserLastCalendarSync(_ context.Context, userID int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].LastCalendarSync = &t
	return nil
}

func (s *fakeStore) DisconnectUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID].IsConnected = false
	s.disconnected[userID] = true
	return nil
}

func (s *fakeStore) ListUserCalendars(_ context.Context, userID int64) ([]*db.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Calendar
	for _, c := range s.calendars {
		if c.UserID == userID && c.Status != db.CalendarDisconnected {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpdateCalendarStatus(_ context.Context, calendarID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[calendarID].Status = status
	return nil
}

func (s *fakeStore) UpdateCalendarNotionPropertyID(_ context.Context, calendarID int64, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[calendarID].NotionPropertyID = &optionID
	return nil
}

func (s *fakeStore) findLinks(match func(*db.EventLink) bool) []*db.EventLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.EventLink
	for _, l := range s.links {
		if match(l) {
			copied := *l
			copied.Calendar = nil
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *fakeStore) FindLinksByNotionPageID(_ context.Context, userID int64, pageID string) ([]*db.EventLink, error) {
	return s.findLinks(func(l *db.EventLink) bool { return l.UserID == userID && l.NotionPageID == pageID }), nil
}

func (s *fakeStore) FindLinksByGoogleEventID(_ context.Context, userID int64, eventID string) ([]*db.EventLink, error) {
	return s.findLinks(func(l *db.EventLink) bool { return l.UserID == userID && l.GoogleCalendarEventID == eventID }), nil
}

func (s *fakeStore) FindWillRemoveLinks(_ context.Context, userID int64) ([]*db.EventLink, error) {
	return s.findLinks(func(l *db.EventLink) bool { return l.UserID == userID && l.WillRemove }), nil
}

func (s *fakeStore) CreateLink(_ context.Context, link *db.EventLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLink++
	link.ID = s.nextLink
	copied := *link
	copied.Calendar = nil
	s.links[link.ID] = &copied
	return nil
}

func (s *fakeStore) UpdateLink(_ context.Context, link *db.EventLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.ID]; !ok {
		return fmt.Errorf("link %d not found", link.ID)
	}
	copied := *link
	copied.Calendar = nil
	s.links[link.ID] = &copied
	return nil
}

func (s *fakeStore) DeleteLinks(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.links, id)
	}
	return nil
}

func (s *fakeStore) CreateErrorLog(_ context.Context, log *db.ErrorLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLogs = append(s.errorLogs, log)
	return nil
}

func (s *fakeStore) DeleteErrorLogsBefore(_ context.Context, userID int64, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*db.ErrorLog
	var removed int64
	for _, l := range s.errorLogs {
		if l.UserID == userID && l.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	s.errorLogs = kept
	return removed, nil
}

func (s *fakeStore) allLinks() []*db.EventLink {
	return s.findLinks(func(*db.EventLink) bool { return true })
}

// fakeNotion is one Notion database. Edits are stamped at minute precision like the real API.
type fakeNotion struct {
	mu       sync.Mutex
	now      func() time.Time
	database *notion.Database
	pages    map[string]*notion.Page
	order    []string
	nextID   int

	retrieves int
	writes    int
	block     bool
}

func newFakeNotion(now func() time.Time) *fakeNotion {
	return &fakeNotion{
		now: now,
		database: &notion.Database{
			ID: "db-1",
			Properties: map[string]notion.PropertySchema{
				"Name":           {ID: "title", Name: "Name", Type: notion.TypeTitle},
				"Calendar":       {ID: "cal", Name: "Calendar", Type: notion.TypeSelect, Select: &notion.SelectSchema{}},
				"Date":           {ID: "dt", Name: "Date", Type: notion.TypeDate},
				"Delete":         {ID: "del", Name: "Delete", Type: notion.TypeCheckbox},
				"Link":           {ID: "lnk", Name: "Link", Type: notion.TypeURL},
				"Last edited by": {ID: "leb", Name: "Last edited by", Type: notion.TypeLastEditedBy},
			},
		},
		pages: map[string]*notion.Page{},
	}
}

func (n *fakeNotion) stamp() time.Time {
	return n.now().Truncate(time.Minute)
}

func (n *fakeNotion) nameByID(id string) (string, bool) {
	for name, p := range n.database.Properties {
		if p.ID == id {
			return name, true
		}
	}
	return "", false
}

func (n *fakeNotion) copyDatabase() *notion.Database {
	out := &notion.Database{ID: n.database.ID, Properties: map[string]notion.PropertySchema{}}
	for k, v := range n.database.Properties {
		if v.Select != nil {
			opts := append([]notion.SelectOption(nil), v.Select.Options...)
			v.Select = &notion.SelectSchema{Options: opts}
		}
		out.Properties[k] = v
	}
	return out
}

func copyPage(p *notion.Page) notion.Page {
	out := *p
	out.Properties = make(map[string]notion.PropertyValue, len(p.Properties))
	for k, v := range p.Properties {
		out.Properties[k] = v
	}
	return out
}

func (n *fakeNotion) RetrieveDatabase(ctx context.Context, databaseID string) (*notion.Database, error) {
	n.mu.Lock()
	n.retrieves++
	block := n.block
	n.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.copyDatabase(), nil
}

func (n *fakeNotion) UpdateDatabase(_ context.Context, databaseID string, req notion.UpdateDatabaseRequest) (*notion.Database, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes++

	for key, schema := range req.Properties {
		if name, ok := n.nameByID(key); ok {
			existing := n.database.Properties[name]
			if schema.Select != nil {
				var opts []notion.SelectOption
				for _, opt := range schema.Select.Options {
					if opt.ID == "" {
						n.nextID++
						opt.ID = fmt.Sprintf("opt-%d", n.nextID)
					}
					opts = append(opts, opt)
				}
				existing.Select = &notion.SelectSchema{Options: opts}
			}
			n.database.Properties[name] = existing
			continue
		}
		n.nextID++
		n.database.Properties[key] = notion.PropertySchema{
			ID:   fmt.Sprintf("prop-%d", n.nextID),
			Name: key,
			Type: schema.Type,
		}
	}
	return n.copyDatabase(), nil
}

func (n *fakeNotion) QueryDatabaseAll(_ context.Context, databaseID string, req notion.QueryRequest) ([]notion.Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if req.Filter != nil && hasEmptyPeople(*req.Filter) {
		return nil, &notion.APIError{Status: http.StatusBadRequest, Code: "validation_error", Message: "body failed validation: people filter is empty."}
	}
	var out []notion.Page
	for _, id := range n.order {
		p := n.pages[id]
		if p.Archived {
			continue
		}
		if req.Filter != nil && !matchFilter(p, *req.Filter) {
			continue
		}
		out = append(out, copyPage(p))
	}
	return out, nil
}

func (n *fakeNotion) applyProperties(p *notion.Page, props map[string]notion.PropertyValue) error {
	for id, v := range props {
		name, ok := n.nameByID(id)
		if !ok {
			return &notion.APIError{Status: http.StatusBadRequest, Code: "validation_error", Message: id + " is not a property that exists."}
		}
		v.ID = id
		p.Properties[name] = v
	}
	return nil
}

func (n *fakeNotion) touch(p *notion.Page, by string) {
	p.LastEditedTime = n.stamp()
	p.LastEditedBy = &notion.User{ID: by}
	if name, ok := n.nameByID("leb"); ok {
		p.Properties[name] = notion.PropertyValue{ID: "leb", Type: notion.TypeLastEditedBy, LastEditedBy: &notion.User{ID: by}}
	}
}

func (n *fakeNotion) CreatePage(_ context.Context, req notion.CreatePageRequest) (*notion.Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes++
	n.nextID++
	p := &notion.Page{ID: fmt.Sprintf("page-%d", n.nextID), Properties: map[string]notion.PropertyValue{}}
	if err := n.applyProperties(p, req.Properties); err != nil {
		return nil, err
	}
	p.CreatedTime = n.stamp()
	n.touch(p, testBotID)
	n.pages[p.ID] = p
	n.order = append(n.order, p.ID)
	out := copyPage(p)
	return &out, nil
}

func (n *fakeNotion) UpdatePage(_ context.Context, pageID string, req notion.UpdatePageRequest) (*notion.Page, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pages[pageID]
	if !ok {
		return nil, &notion.APIError{Status: http.StatusNotFound, Code: "object_not_found", Message: "Could not find page"}
	}
	if p.Archived {
		return nil, &notion.APIError{Status: http.StatusBadRequest, Code: "validation_error", Message: archivedPageMessage}
	}
	n.writes++
	if err := n.applyProperties(p, req.Properties); err != nil {
		return nil, err
	}
	if req.Archived != nil {
		p.Archived = *req.Archived
	}
	n.touch(p, testBotID)
	out := copyPage(p)
	return &out, nil
}

// putPage stores a page as if a person had edited it at editedAt
func (n *fakeNotion) putPage(id, title, calendarName string, date notion.DateValue, editedAt time.Time) *notion.Page {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := &notion.Page{
		ID:             id,
		LastEditedTime: editedAt.Truncate(time.Minute),
		LastEditedBy:   &notion.User{ID: testPersonID},
		Properties: map[string]notion.PropertyValue{
			"Name":           {ID: "title", Type: notion.TypeTitle, Title: notion.NewText(title)},
			"Date":           {ID: "dt", Type: notion.TypeDate, Date: &date},
			"Delete":         {ID: "del", Type: notion.TypeCheckbox},
			"Link":           {ID: "lnk", Type: notion.TypeURL},
			"Last edited by": {ID: "leb", Type: notion.TypeLastEditedBy, LastEditedBy: &notion.User{ID: testPersonID}},
		},
	}
	if calendarName != "" {
		p.Properties["Calendar"] = notion.PropertyValue{ID: "cal", Type: notion.TypeSelect, Select: &notion.SelectOption{Name: calendarName}}
	}
	n.pages[id] = p
	n.order = append(n.order, id)
	return p
}

// editPage applies a person's edit made at editedAt
func (n *fakeNotion) editPage(id string, editedAt time.Time, edit func(p *notion.Page)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.pages[id]
	edit(p)
	p.LastEditedTime = editedAt.Truncate(time.Minute)
	p.LastEditedBy = &notion.User{ID: testPersonID}
	p.Properties["Last edited by"] = notion.PropertyValue{ID: "leb", Type: notion.TypeLastEditedBy, LastEditedBy: &notion.User{ID: testPersonID}}
}

func (n *fakeNotion) page(id string) notion.Page {
	n.mu.Lock()
	defer n.mu.Unlock()
	return copyPage(n.pages[id])
}

func (n *fakeNotion) writeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writes
}

func hasEmptyPeople(f notion.Filter) bool {
	if f.People != nil && f.People.Contains == "" && f.People.DoesNotContain == "" {
		return true
	}
	for _, sub := range append(append([]notion.Filter(nil), f.And...), f.Or...) {
		if hasEmptyPeople(sub) {
			return true
		}
	}
	return false
}

func matchFilter(p *notion.Page, f notion.Filter) bool {
	if len(f.And) > 0 {
		for _, sub := range f.And {
			if !matchFilter(p, sub) {
				return false
			}
		}
		return true
	}
	if f.Or != nil {
		for _, sub := range f.Or {
			if matchFilter(p, sub) {
				return true
			}
		}
		return false
	}
	if f.Timestamp == "last_edited_time" && f.LastEditedTime != nil {
		return matchDate(p.LastEditedTime, *f.LastEditedTime)
	}

	v, _ := p.PropertyByID(f.Property)
	switch {
	case f.Checkbox != nil:
		return v.Checkbox == f.Checkbox.Equals
	case f.Select != nil:
		if f.Select.IsNotEmpty {
			return v.Select != nil && v.Select.Name != ""
		}
		return v.Select != nil && v.Select.Name == f.Select.Equals
	case f.Date != nil:
		if v.Date == nil {
			return false
		}
		return matchDate(parseBound(v.Date.Start), *f.Date)
	case f.People != nil:
		id := ""
		if v.LastEditedBy != nil {
			id = v.LastEditedBy.ID
		}
		if f.People.DoesNotContain != "" {
			return id != f.People.DoesNotContain
		}
		return id == f.People.Contains
	}
	return true
}

func matchDate(t time.Time, f notion.DateFilter) bool {
	if f.OnOrAfter != "" && t.Before(parseBound(f.OnOrAfter)) {
		return false
	}
	if f.OnOrBefore != "" && t.After(parseBound(f.OnOrBefore)) {
		return false
	}
	if f.Before != "" && !t.Before(parseBound(f.Before)) {
		return false
	}
	return true
}

func parseBound(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// fakeCalendar holds events per calendar and counts writes per calendar
type fakeCalendar struct {
	mu     sync.Mutex
	now    func() time.Time
	events map[string]map[string]*calendar.Event
	nextID int
	writes map[string]int

	listErrs map[string]error
}

func newFakeCalendar(now func() time.Time) *fakeCalendar {
	return &fakeCalendar{
		now:      now,
		events:   map[string]map[string]*calendar.Event{},
		writes:   map[string]int{},
		listErrs: map[string]error{},
	}
}

func googleErr(code int, message, reason string) error {
	return &googleapi.Error{Code: code, Message: message, Errors: []googleapi.ErrorItem{{Reason: reason, Message: message}}}
}

func (c *fakeCalendar) stamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func copyEvent(ev *calendar.Event) *calendar.Event {
	out := *ev
	return &out
}

func (c *fakeCalendar) put(calendarID string, ev *calendar.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events[calendarID] == nil {
		c.events[calendarID] = map[string]*calendar.Event{}
	}
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	if ev.HtmlLink == "" {
		ev.HtmlLink = "https://calendar.example/" + ev.Id
	}
	c.events[calendarID][ev.Id] = ev
}

func (c *fakeCalendar) get(calendarID, eventID string) *calendar.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[calendarID][eventID]
	if !ok {
		return nil
	}
	return copyEvent(ev)
}

func (c *fakeCalendar) writeCount(calendarID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[calendarID]
}

func (c *fakeCalendar) ListEvents(_ context.Context, calendarID string, opts gcal.ListOptions) ([]*calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.listErrs[calendarID]; err != nil {
		return nil, err
	}
	updatedMin := gcal.ParseTime(opts.UpdatedMin)
	var out []*calendar.Event
	for _, ev := range c.events[calendarID] {
		if ev.Status == "cancelled" && !opts.ShowDeleted {
			continue
		}
		if opts.UpdatedMin != "" && gcal.ParseTime(ev.Updated).Before(updatedMin) {
			continue
		}
		out = append(out, copyEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (c *fakeCalendar) GetEvent(_ context.Context, calendarID, eventID string) (*calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[calendarID][eventID]
	if !ok {
		return nil, googleErr(http.StatusNotFound, "Not Found", "notFound")
	}
	return copyEvent(ev), nil
}

func (c *fakeCalendar) InsertEvent(_ context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes[calendarID]++
	c.nextID++
	ev := copyEvent(event)
	ev.Id = fmt.Sprintf("ev-%d", c.nextID)
	ev.HtmlLink = "https://calendar.example/" + ev.Id
	ev.Updated = c.stamp()
	if ev.Status == "" {
		ev.Status = "confirmed"
	}
	if c.events[calendarID] == nil {
		c.events[calendarID] = map[string]*calendar.Event{}
	}
	c.events[calendarID][ev.Id] = ev
	return copyEvent(ev), nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.events[calendarID][eventID]
	if !ok {
		return nil, googleErr(http.StatusNotFound, "Not Found", "notFound")
	}
	c.writes[calendarID]++
	ev := copyEvent(event)
	ev.Id = eventID
	ev.HtmlLink = existing.HtmlLink
	ev.Updated = c.stamp()
	c.events[calendarID][eventID] = ev
	return copyEvent(ev), nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[calendarID][eventID]
	if !ok {
		return googleErr(http.StatusNotFound, "Not Found", "notFound")
	}
	if ev.Status == "cancelled" {
		return googleErr(http.StatusGone, "deleted", "deleted")
	}
	c.writes[calendarID]++
	ev.Status = "cancelled"
	ev.Updated = c.stamp()
	return nil
}

func (c *fakeCalendar) MoveEvent(_ context.Context, calendarID, eventID, destinationID string) (*calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[calendarID][eventID]
	if !ok {
		return nil, googleErr(http.StatusNotFound, "Not Found", "notFound")
	}
	c.writes[calendarID]++
	c.writes[destinationID]++

	moved := copyEvent(ev)
	moved.Updated = c.stamp()
	if c.events[destinationID] == nil {
		c.events[destinationID] = map[string]*calendar.Event{}
	}
	c.events[destinationID][eventID] = moved

	ev.Status = "cancelled"
	ev.Updated = c.stamp()
	return copyEvent(moved), nil
}

type fakeClients struct {
	notion   *fakeNotion
	calendar *fakeCalendar
}

func (f fakeClients) Notion(*db.User) (NotionAPI, error) {
	return f.notion, nil
}

func (f fakeClients) Calendar(context.Context, *db.User) (CalendarAPI, error) {
	return f.calendar, nil
}
