package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Calendar status values
const (
	CalendarPending      = "PENDING"
	CalendarConnected    = "CONNECTED"
	CalendarDisconnected = "DISCONNECTED"
)

// Calendar access roles
const (
	AccessRoleOwner  = "owner"
	AccessRoleWriter = "writer"
	AccessRoleReader = "reader"
)

// Link status values
const (
	LinkSynced = "SYNCED"
)

// Notion property keys in User.NotionProps
const (
	PropTitle        = "title"
	PropCalendar     = "calendar"
	PropDate         = "date"
	PropDelete       = "delete"
	PropLink         = "link"
	PropLastEditedBy = "last_edited_by"
	PropLocation     = "location"
	PropDescription  = "description"
)

// NotionProps maps property keys to Notion property ids
type NotionProps map[string]string

// User represents an account whose Notion database is synced with Google Calendar
type User struct {
	ID                       int64      `db:"id"`
	Name                     string     `db:"name"`
	Email                    string     `db:"email"`
	UserPlan                 string     `db:"user_plan"`
	IsConnected              bool       `db:"is_connected"`
	IsWork                   bool       `db:"is_work"`
	WorkStartedAt            *time.Time `db:"work_started_at"`
	SyncbotID                *string    `db:"syncbot_id"`
	SyncbotVersion           *string    `db:"syncbot_version"`
	LastCalendarSync         *time.Time `db:"last_calendar_sync"`
	LastSyncStatus           string     `db:"last_sync_status"`
	NotionDatabaseID         string     `db:"notion_database_id"`
	NotionAccessToken        string     `db:"notion_access_token"`
	NotionBotID              string     `db:"notion_bot_id"`
	NotionProps              string     `db:"notion_props"`
	IsSyncAdditionalProps    bool       `db:"is_sync_additional_props"`
	GoogleAccessToken        string     `db:"google_access_token"`
	GoogleRefreshToken       string     `db:"google_refresh_token"`
	GoogleRedirectURLVersion string     `db:"google_redirect_url_version"`
	UserTimeZone             string     `db:"user_time_zone"`
	SyncYear                 int        `db:"sync_year"`
	CreatedAt                time.Time  `db:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at"`
}

// ParsedNotionProps decodes the stored property-id mapping
func (u *User) ParsedNotionProps() (NotionProps, error) {
	props := NotionProps{}
	if u.NotionProps == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(u.NotionProps), &props); err != nil {
		return nil, err
	}
	return props, nil
}

// Calendar represents a Google calendar connected by a user
type Calendar struct {
	ID                 int64     `db:"id"`
	UserID             int64     `db:"user_id"`
	GoogleCalendarID   string    `db:"google_calendar_id"`
	GoogleCalendarName string    `db:"google_calendar_name"`
	Status             string    `db:"status"`
	AccessRole         string    `db:"access_role"`
	NotionPropertyID   *string   `db:"notion_property_id"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// IsReadOnly reports whether the calendar may only be read from
func (c *Calendar) IsReadOnly() bool {
	return c.AccessRole == AccessRoleReader
}

// EventLink is the persisted mapping between one Notion page and one calendar event
type EventLink struct {
	ID                       int64     `db:"id"`
	UserID                   int64     `db:"user_id"`
	CalendarID               int64     `db:"calendar_id"`
	GoogleCalendarEventID    string    `db:"google_calendar_event_id"`
	GoogleCalendarCalendarID string    `db:"google_calendar_calendar_id"`
	NotionPageID             string    `db:"notion_page_id"`
	LastNotionUpdate         time.Time `db:"last_notion_update"`
	LastGoogleCalendarUpdate time.Time `db:"last_google_calendar_update"`
	Status                   string    `db:"status"`
	WillRemove               bool      `db:"will_remove"`
	CreatedAt                time.Time `db:"created_at"`
	UpdatedAt                time.Time `db:"updated_at"`

	Calendar *Calendar `db:"-"`
}

// LastSynced returns the later of the two per-side timestamps
func (l *EventLink) LastSynced() time.Time {
	if l.LastGoogleCalendarUpdate.After(l.LastNotionUpdate) {
		return l.LastGoogleCalendarUpdate
	}
	return l.LastNotionUpdate
}

// ErrorLog is a diagnostic record written when a sync run fails
type ErrorLog struct {
	ID          uuid.UUID `db:"id"`
	UserID      int64     `db:"user_id"`
	Code        string    `db:"code"`
	From        string    `db:"from"`
	Description string    `db:"description"`
	Detail      string    `db:"detail"`
	Level       string    `db:"level"`
	FinishWork  string    `db:"finish_work"`
	Archive     bool      `db:"archive"`
	CreatedAt   time.Time `db:"created_at"`
}

// Status summarizes the store for the status command
type Status struct {
	Connected       bool
	TotalUsers      int
	ConnectedUsers  int
	WorkingUsers    int
	TotalLinks      int
	LastCalendarRun *time.Time
}
