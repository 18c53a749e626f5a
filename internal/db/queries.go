package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `
	id, name, email, user_plan, is_connected, is_work, work_started_at,
	syncbot_id, syncbot_version, last_calendar_sync, last_sync_status,
	notion_database_id, notion_access_token, notion_bot_id, notion_props,
	is_sync_additional_props, google_access_token, google_refresh_token,
	google_redirect_url_version, user_time_zone, sync_year, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.UserPlan, &u.IsConnected, &u.IsWork, &u.WorkStartedAt,
		&u.SyncbotID, &u.SyncbotVersion, &u.LastCalendarSync, &u.LastSyncStatus,
		&u.NotionDatabaseID, &u.NotionAccessToken, &u.NotionBotID, &u.NotionProps,
		&u.IsSyncAdditionalProps, &u.GoogleAccessToken, &u.GoogleRefreshToken,
		&u.GoogleRedirectURLVersion, &u.UserTimeZone, &u.SyncYear, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func queryOneUser(ctx context.Context, db *DB, query string, args ...any) (*User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, userID int64) (*User, error) {
	return queryOneUser(ctx, db, "SELECT "+userColumns+" FROM users WHERE id = $1", userID)
}

// FindUserForPlan returns the longest-waiting eligible user on a plan, skipping ids in exclude
func (db *DB) FindUserForPlan(ctx context.Context, plan string, exclude []int64) (*User, error) {
	if exclude == nil {
		exclude = []int64{} // nil encodes as NULL, which would match nothing
	}
	return queryOneUser(ctx, db, `
		SELECT `+userColumns+` FROM users
		WHERE user_plan = $1
			AND is_connected
			AND NOT is_work
			AND last_calendar_sync IS NOT NULL
			AND last_calendar_sync < NOW() - INTERVAL '1 minute'
			AND (work_started_at IS NULL OR work_started_at < NOW() - INTERVAL '1 minute')
			AND NOT (id = ANY($2))
		ORDER BY last_calendar_sync ASC
		LIMIT 1
	`, plan, exclude)
}

// FindUninitializedUser returns a connected user that has never completed a sync
func (db *DB) FindUninitializedUser(ctx context.Context, exclude []int64) (*User, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	return queryOneUser(ctx, db, `
		SELECT `+userColumns+` FROM users
		WHERE is_connected
			AND NOT is_work
			AND last_calendar_sync IS NULL
			AND NOT (id = ANY($1))
		ORDER BY id ASC
		LIMIT 1
	`, exclude)
}

// ListConnectedUserIDs returns all connected user ids
func (db *DB) ListConnectedUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.Pool.Query(ctx, "SELECT id FROM users WHERE is_connected ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkUserWorking sets the busy flag if it is not already held.
// Returns ErrAlreadyClaimed when another worker owns the user.
func (db *DB) MarkUserWorking(ctx context.Context, userID int64, syncbotID, version string, startedAt time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE users SET
			is_work = true,
			work_started_at = $2,
			syncbot_id = $3,
			syncbot_version = $4,
			updated_at = NOW()
		WHERE id = $1 AND NOT is_work
	`, userID, startedAt, syncbotID, version)
	if err != nil {
		return fmt.Errorf("failed to mark user working: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// FinishUserWork clears the busy flag and records the completed window end
func (db *DB) FinishUserWork(ctx context.Context, userID int64, lastCalendarSync time.Time, syncStatus string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE users SET
			is_work = false,
			syncbot_id = NULL,
			last_calendar_sync = $2,
			last_sync_status = $3,
			updated_at = NOW()
		WHERE id = $1
	`, userID, lastCalendarSync, syncStatus)
	return err
}

// ClearUserWork clears the busy flag without touching the sync bookmark
func (db *DB) ClearUserWork(ctx context.Context, userID int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE users SET is_work = false, syncbot_id = NULL, updated_at = NOW()
		WHERE id = $1
	`, userID)
	return err
}

// ResetStuckClaims clears busy flags left by a previous process with the same prefix
func (db *DB) ResetStuckClaims(ctx context.Context, prefix string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE users SET is_work = false, syncbot_id = NULL, updated_at = NOW()
		WHERE is_work AND starts_with(syncbot_id, $1)
	`, prefix+"_")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpdateUserNotionProps persists the Notion property-id mapping
func (db *DB) UpdateUserNotionProps(ctx context.Context, userID int64, props NotionProps) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to marshal notion props: %w", err)
	}
	_, err = db.Pool.Exec(ctx,
		"UPDATE users SET notion_props = $2, updated_at = NOW() WHERE id = $1",
		userID, string(data))
	return err
}

// SetUserLastCalendarSync overwrites the sync bookmark
func (db *DB) SetUserLastCalendarSync(ctx context.Context, userID int64, t time.Time) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE users SET last_calendar_sync = $2, updated_at = NOW() WHERE id = $1",
		userID, t)
	return err
}

// DisconnectUser stops scheduling a user until they reconnect
func (db *DB) DisconnectUser(ctx context.Context, userID int64) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE users SET is_connected = false, updated_at = NOW() WHERE id = $1",
		userID)
	return err
}

const calendarColumns = `
	id, user_id, google_calendar_id, google_calendar_name, status,
	access_role, notion_property_id, created_at, updated_at`

// ListUserCalendars returns the user's calendars that are not disconnected
func (db *DB) ListUserCalendars(ctx context.Context, userID int64) ([]*Calendar, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+calendarColumns+` FROM calendars
		WHERE user_id = $1 AND status <> $2
		ORDER BY id
	`, userID, CalendarDisconnected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []*Calendar
	for rows.Next() {
		c := &Calendar{}
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.GoogleCalendarID, &c.GoogleCalendarName, &c.Status,
			&c.AccessRole, &c.NotionPropertyID, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		calendars = append(calendars, c)
	}
	return calendars, rows.Err()
}

// UpdateCalendarStatus sets a calendar's connection status
func (db *DB) UpdateCalendarStatus(ctx context.Context, calendarID int64, status string) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE calendars SET status = $2, updated_at = NOW() WHERE id = $1",
		calendarID, status)
	return err
}

// UpdateCalendarNotionPropertyID stores the Notion select-option id for a calendar
func (db *DB) UpdateCalendarNotionPropertyID(ctx context.Context, calendarID int64, optionID string) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE calendars SET notion_property_id = $2, updated_at = NOW() WHERE id = $1",
		calendarID, optionID)
	return err
}

const linkSelect = `
	SELECT e.id, e.user_id, e.calendar_id, e.google_calendar_event_id,
		e.google_calendar_calendar_id, e.notion_page_id, e.last_notion_update,
		e.last_google_calendar_update, e.status, e.will_remove, e.created_at, e.updated_at,
		c.id, c.user_id, c.google_calendar_id, c.google_calendar_name, c.status,
		c.access_role, c.notion_property_id, c.created_at, c.updated_at
	FROM events e
	JOIN calendars c ON c.id = e.calendar_id`

func (db *DB) queryLinks(ctx context.Context, query string, args ...any) ([]*EventLink, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*EventLink
	for rows.Next() {
		l := &EventLink{Calendar: &Calendar{}}
		c := l.Calendar
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.CalendarID, &l.GoogleCalendarEventID,
			&l.GoogleCalendarCalendarID, &l.NotionPageID, &l.LastNotionUpdate,
			&l.LastGoogleCalendarUpdate, &l.Status, &l.WillRemove, &l.CreatedAt, &l.UpdatedAt,
			&c.ID, &c.UserID, &c.GoogleCalendarID, &c.GoogleCalendarName, &c.Status,
			&c.AccessRole, &c.NotionPropertyID, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// FindLinksByNotionPageID returns all links for a page, newest first
func (db *DB) FindLinksByNotionPageID(ctx context.Context, userID int64, pageID string) ([]*EventLink, error) {
	return db.queryLinks(ctx, linkSelect+`
		WHERE e.user_id = $1 AND e.notion_page_id = $2
		ORDER BY e.updated_at DESC
	`, userID, pageID)
}

// FindLinksByGoogleEventID returns all links for a calendar event, newest first
func (db *DB) FindLinksByGoogleEventID(ctx context.Context, userID int64, eventID string) ([]*EventLink, error) {
	return db.queryLinks(ctx, linkSelect+`
		WHERE e.user_id = $1 AND e.google_calendar_event_id = $2
		ORDER BY e.updated_at DESC
	`, userID, eventID)
}

// FindWillRemoveLinks returns links flagged for removal
func (db *DB) FindWillRemoveLinks(ctx context.Context, userID int64) ([]*EventLink, error) {
	return db.queryLinks(ctx, linkSelect+`
		WHERE e.user_id = $1 AND e.will_remove
		ORDER BY e.id
	`, userID)
}

// CreateLink inserts a link and fills in its id and timestamps
func (db *DB) CreateLink(ctx context.Context, link *EventLink) error {
	if link.Status == "" {
		link.Status = LinkSynced
	}
	return db.Pool.QueryRow(ctx, `
		INSERT INTO events (
			user_id, calendar_id, google_calendar_event_id, google_calendar_calendar_id,
			notion_page_id, last_notion_update, last_google_calendar_update, status, will_remove
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		link.UserID, link.CalendarID, link.GoogleCalendarEventID, link.GoogleCalendarCalendarID,
		link.NotionPageID, link.LastNotionUpdate, link.LastGoogleCalendarUpdate, link.Status, link.WillRemove,
	).Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
}

// UpdateLink writes every mutable column of a link
func (db *DB) UpdateLink(ctx context.Context, link *EventLink) error {
	return db.Pool.QueryRow(ctx, `
		UPDATE events SET
			calendar_id = $2,
			google_calendar_event_id = $3,
			google_calendar_calendar_id = $4,
			notion_page_id = $5,
			last_notion_update = $6,
			last_google_calendar_update = $7,
			status = $8,
			will_remove = $9,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		link.ID, link.CalendarID, link.GoogleCalendarEventID, link.GoogleCalendarCalendarID,
		link.NotionPageID, link.LastNotionUpdate, link.LastGoogleCalendarUpdate, link.Status, link.WillRemove,
	).Scan(&link.UpdatedAt)
}

// DeleteLinks removes links by id
func (db *DB) DeleteLinks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Pool.Exec(ctx, "DELETE FROM events WHERE id = ANY($1)", ids)
	return err
}

// CreateErrorLog inserts a diagnostic record
func (db *DB) CreateErrorLog(ctx context.Context, log *ErrorLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO error_logs (
			id, user_id, code, "from", description, detail, level, finish_work, archive, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		log.ID, log.UserID, log.Code, log.From, log.Description, log.Detail,
		log.Level, log.FinishWork, log.Archive, log.CreatedAt,
	)
	return err
}

// DeleteErrorLogsBefore prunes unarchived error logs older than before
func (db *DB) DeleteErrorLogsBefore(ctx context.Context, userID int64, before time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM error_logs
		WHERE user_id = $1 AND NOT archive AND created_at < $2
	`, userID, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
