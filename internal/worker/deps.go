package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/gcal"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

// Store is the persistence surface a run needs. *db.DB implements it.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*db.User, error)
	MarkUserWorking(ctx context.Context, userID int64, syncbotID, version string, startedAt time.Time) error
	FinishUserWork(ctx context.Context, userID int64, lastCalendarSync time.Time, syncStatus string) error
	ClearUserWork(ctx context.Context, userID int64) error
	UpdateUserNotionProps(ctx context.Context, userID int64, props db.NotionProps) error
	SetUserLastCalendarSync(ctx context.Context, userID int64, t time.Time) error
	DisconnectUser(ctx context.Context, userID int64) error

	ListUserCalendars(ctx context.Context, userID int64) ([]*db.Calendar, error)
	UpdateCalendarStatus(ctx context.Context, calendarID int64, status string) error
	UpdateCalendarNotionPropertyID(ctx context.Context, calendarID int64, optionID string) error

	FindLinksByNotionPageID(ctx context.Context, userID int64, pageID string) ([]*db.EventLink, error)
	FindLinksByGoogleEventID(ctx context.Context, userID int64, eventID string) ([]*db.EventLink, error)
	FindWillRemoveLinks(ctx context.Context, userID int64) ([]*db.EventLink, error)
	CreateLink(ctx context.Context, link *db.EventLink) error
	UpdateLink(ctx context.Context, link *db.EventLink) error
	DeleteLinks(ctx context.Context, ids []int64) error

	CreateErrorLog(ctx context.Context, log *db.ErrorLog) error
	DeleteErrorLogsBefore(ctx context.Context, userID int64, before time.Time) (int64, error)
}

// NotionAPI is the subset of the Notion client used by NotionAssist
type NotionAPI interface {
	RetrieveDatabase(ctx context.Context, databaseID string) (*notion.Database, error)
	UpdateDatabase(ctx context.Context, databaseID string, req notion.UpdateDatabaseRequest) (*notion.Database, error)
	QueryDatabaseAll(ctx context.Context, databaseID string, req notion.QueryRequest) ([]notion.Page, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (*notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, req notion.UpdatePageRequest) (*notion.Page, error)
}

// CalendarAPI is the subset of the Calendar client used by CalendarAssist
type CalendarAPI interface {
	ListEvents(ctx context.Context, calendarID string, opts gcal.ListOptions) ([]*calendar.Event, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)
	InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	MoveEvent(ctx context.Context, calendarID, eventID, destinationID string) (*calendar.Event, error)
}

// ClientFactory builds per-user API clients
type ClientFactory interface {
	Notion(user *db.User) (NotionAPI, error)
	Calendar(ctx context.Context, user *db.User) (CalendarAPI, error)
}

// APIClients builds real Notion and Calendar clients from configuration
type APIClients struct {
	notionCfg config.NotionConfig
	googleCfg config.GoogleConfig
	version   string
}

// NewAPIClients creates a ClientFactory backed by the real APIs
func NewAPIClients(cfg *config.Config) *APIClients {
	return &APIClients{notionCfg: cfg.Notion, googleCfg: cfg.Google, version: cfg.Syncbot.Version}
}

// Notion returns a client authorized with the user's integration token
func (f *APIClients) Notion(user *db.User) (NotionAPI, error) {
	if user.NotionAccessToken == "" {
		return nil, &SyncError{
			Code:        CodeNotionUnauthorized,
			Kind:        KindUnauthorized,
			From:        FromSyncbot,
			Description: "notion access token is empty",
			Level:       LevelError,
			FinishWork:  FinishStop,
		}
	}
	return notion.NewClient(notion.Options{
		BaseURL:    f.notionCfg.BaseURL,
		Token:      user.NotionAccessToken,
		APIVersion: f.notionCfg.APIVersion,
		UserAgent:  "calendar2notion-syncbot/" + f.version,
	}), nil
}

// Calendar returns a client that refreshes the user's stored Google grant
func (f *APIClients) Calendar(ctx context.Context, user *db.User) (CalendarAPI, error) {
	client, err := gcal.NewClient(ctx, gcal.Credentials{
		ClientID:     f.googleCfg.ClientID,
		ClientSecret: f.googleCfg.ClientSecret,
		Callbacks:    f.googleCfg.Callbacks,
		Endpoint:     f.googleCfg.Endpoint,
		TokenURL:     f.googleCfg.TokenURL,
	}, gcal.Token{
		AccessToken:        user.GoogleAccessToken,
		RefreshToken:       user.GoogleRefreshToken,
		RedirectURLVersion: user.GoogleRedirectURLVersion,
	})
	if errors.Is(err, gcal.ErrCallbackNotFound) {
		return nil, &SyncError{
			Code:        CodeGoogleCallbackNotFound,
			Kind:        KindInvalidRequest,
			From:        FromSyncbot,
			Description: "google callback url not found",
			Detail:      fmt.Sprintf("googleRedirectUrlVersion=%s", user.GoogleRedirectURLVersion),
			Level:       LevelError,
			FinishWork:  FinishStop,
			Err:         err,
		}
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
