package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/gcal"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/notion"
)

// ErrUserNotFound is returned by Run when the user row does not exist
var ErrUserNotFound = errors.New("user not found")

// Kind groups failures by how the engine reacts to them
type Kind string

const (
	KindInvalidRequest  Kind = "invalid-request"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not-found"
	KindRateLimited     Kind = "rate-limited"
	KindGone            Kind = "gone"
	KindServerError     Kind = "server-error"
	KindSchemaViolation Kind = "schema-violation"
	KindTimeout         Kind = "timeout"
	KindUnknown         Kind = "unknown"
)

// From names the system a failure originated in
type From string

const (
	FromNotion         From = "NOTION"
	FromGoogleCalendar From = "GOOGLE_CALENDAR"
	FromSyncbot        From = "SYNCBOT"
	FromUnknown        From = "UNKNOWN"
)

// Level is the severity stored with an error log.
// LevelCritical keeps the value the dashboard backend already reads.
type Level string

const (
	LevelNotice   Level = "NOTICE"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRIASIS"
)

// FinishWork tells the scheduler whether the user should keep being synced
type FinishWork string

const (
	FinishStop  FinishWork = "STOP"
	FinishRetry FinishWork = "RETRY"
)

// Error codes persisted in error logs and reported as failReason
const (
	CodeNotionInvalidRequest     = "NOTION_API_INVALID_REQUEST"
	CodeNotionUnauthorized       = "NOTION_API_UNAUTHORIZED"
	CodeNotionDatabaseNotFound   = "NOTION_API_DATABASE_NOT_FOUND"
	CodeNotionPageNotFound       = "NOTION_API_PAGE_NOT_FOUND"
	CodeNotionRateLimited        = "NOTION_API_RATE_LIMITED"
	CodeNotionServerError        = "NOTION_API_INTERNAL_SERVER_ERROR"
	CodeNotionServiceUnavailable = "NOTION_API_SERVICE_UNAVAILABLE"
	CodeNotionUnknown            = "NOTION_API_UNKNOWN_ERROR"
	CodeNotionValidation         = "NOTION_VALIDATION_ERROR"
	CodeGoogleInvalidRequest     = "GOOGLE_CALENDAR_API_INVALID_REQUEST"
	CodeGoogleUnauthorized       = "GOOGLE_CALENDAR_API_UNAUTHORIZED"
	CodeGoogleForbidden          = "GOOGLE_CALENDAR_API_FORBIDDEN"
	CodeGoogleRateLimited        = "GOOGLE_CALENDAR_API_RATE_LIMITED"
	CodeGoogleUsageLimit         = "GOOGLE_CALENDAR_API_USER_CALENDAR_USAGE_LIMIT"
	CodeGoogleNotFound           = "GOOGLE_CALENDAR_API_NOT_FOUND"
	CodeGoogleUpdatedMinTooOld   = "GOOGLE_CALENDAR_API_GONE_UPDATED_MIN_TOO_LONG_AGO"
	CodeGoogleGone               = "GOOGLE_CALENDAR_API_GONE"
	CodeGoogleServerError        = "GOOGLE_CALENDAR_API_INTERNAL_SERVER_ERROR"
	CodeGoogleUnknown            = "GOOGLE_CALENDAR_API_UNKNOWN_ERROR"
	CodeGoogleCallbackNotFound   = "GOOGLE_CALLBACK_URL_NOT_FOUND"
	CodeTimeout                  = "TIMEOUT"
	CodeUserAlreadyWorking       = "USER_ALREADY_WORKING"
	CodeUnknown                  = "UNKNOWN_ERROR"
)

// SyncError is a classified run failure
type SyncError struct {
	Code        string
	Kind        Kind
	From        From
	Description string
	Detail      string
	Level       Level
	FinishWork  FinishWork
	Err         error
}

func (e *SyncError) Error() string {
	msg := e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// notionTarget tells page and database 404s apart
type notionTarget string

const (
	targetDatabase notionTarget = "database"
	targetPage     notionTarget = "page"
)

// classifyNotion maps a failed Notion call to a SyncError
func classifyNotion(err error, target notionTarget) error {
	if isContextErr(err) {
		return err
	}
	se := &SyncError{From: FromNotion, Level: LevelError, FinishWork: FinishRetry, Err: err}

	var apiErr *notion.APIError
	if !errors.As(err, &apiErr) {
		se.Code, se.Kind, se.Description = CodeNotionUnknown, KindUnknown, "notion request failed"
		return se
	}
	se.Detail = fmt.Sprintf("status=%d code=%s message=%s", apiErr.Status, apiErr.Code, apiErr.Message)

	switch {
	case apiErr.Status == 400:
		se.Code, se.Kind, se.Description = CodeNotionInvalidRequest, KindInvalidRequest, "invalid request"
	case apiErr.Status == 401:
		se.Code, se.Kind, se.Description = CodeNotionUnauthorized, KindUnauthorized, "notion authorization revoked"
		se.FinishWork = FinishStop
	case apiErr.Status == 404 && target == targetDatabase:
		se.Code, se.Kind, se.Description = CodeNotionDatabaseNotFound, KindNotFound, "database not found"
		se.FinishWork = FinishStop
	case apiErr.Status == 404:
		se.Code, se.Kind, se.Description = CodeNotionPageNotFound, KindNotFound, "page not found"
	case apiErr.Status == 429:
		se.Code, se.Kind, se.Description = CodeNotionRateLimited, KindRateLimited, "rate limited"
		se.Level = LevelWarn
	case apiErr.Status == 500:
		se.Code, se.Kind, se.Description = CodeNotionServerError, KindServerError, "notion internal server error"
		se.Level = LevelWarn
	case apiErr.Status == 503:
		se.Code, se.Kind, se.Description = CodeNotionServiceUnavailable, KindServerError, "notion service unavailable"
		se.Level = LevelWarn
	default:
		se.Code, se.Kind, se.Description = CodeNotionUnknown, KindUnknown, "unexpected notion response"
	}
	return se
}

// classifyCalendar maps a failed Calendar call to a SyncError
func classifyCalendar(err error) error {
	if isContextErr(err) {
		return err
	}
	se := &SyncError{From: FromGoogleCalendar, Level: LevelError, FinishWork: FinishRetry, Err: err}

	info, ok := gcal.Inspect(err)
	if !ok {
		se.Code, se.Kind, se.Description = CodeGoogleUnknown, KindUnknown, "calendar request failed"
		return se
	}
	se.Detail = fmt.Sprintf("status=%d reason=%s message=%s", info.Status, info.Reason, info.Message)

	switch {
	case info.Status == 400:
		se.Code, se.Kind, se.Description = CodeGoogleInvalidRequest, KindInvalidRequest, "invalid request"
	case info.Status == 401:
		se.Code, se.Kind, se.Description = CodeGoogleUnauthorized, KindUnauthorized, "google authorization revoked"
		se.FinishWork = FinishStop
	case info.Status == 403 && (info.Message == "User Rate Limit Exceeded" || info.Message == "Rate Limit Exceeded"):
		se.Code, se.Kind, se.Description = CodeGoogleRateLimited, KindRateLimited, "rate limited"
		se.Level = LevelWarn
	case info.Status == 403 && (info.Message == "Calendar usage limits exceeded." || info.Message == "Calendar usage limits exceeded"):
		se.Code, se.Kind, se.Description = CodeGoogleUsageLimit, KindRateLimited, "calendar usage limit exceeded"
		se.Level = LevelWarn
	case info.Status == 403:
		se.Code, se.Kind, se.Description = CodeGoogleForbidden, KindForbidden, "forbidden"
	case info.Status == 404:
		se.Code, se.Kind, se.Description = CodeGoogleNotFound, KindNotFound, "not found"
	case info.Status == 410 && info.Reason == "updatedMinTooLongAgo":
		se.Code, se.Kind, se.Description = CodeGoogleUpdatedMinTooOld, KindGone, "updatedMin is too long ago"
		se.Level = LevelNotice
	case info.Status == 410:
		se.Code, se.Kind, se.Description = CodeGoogleGone, KindGone, "gone"
	case info.Status == 429:
		se.Code, se.Kind, se.Description = CodeGoogleRateLimited, KindRateLimited, "rate limited"
		se.Level = LevelWarn
	case info.Status == 500:
		se.Code, se.Kind, se.Description = CodeGoogleServerError, KindServerError, "google internal server error"
		se.Level = LevelWarn
	default:
		se.Code, se.Kind, se.Description = CodeGoogleUnknown, KindUnknown, "unexpected calendar response"
	}
	return se
}

// asSyncError classifies whatever reached the exception boundary
func asSyncError(err error, timedOut bool) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return &SyncError{
			Code:        CodeTimeout,
			Kind:        KindTimeout,
			From:        FromSyncbot,
			Description: "sync run exceeded its deadline",
			Level:       LevelWarn,
			FinishWork:  FinishRetry,
			Err:         err,
		}
	}
	return &SyncError{
		Code:        CodeUnknown,
		Kind:        KindUnknown,
		From:        FromUnknown,
		Description: "unexpected failure",
		Detail:      err.Error(),
		Level:       LevelCritical,
		FinishWork:  FinishRetry,
		Err:         err,
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ignoreRule downgrades a specific failure to success
type ignoreRule func(err error) bool

const archivedPageMessage = "Can't update a page that is archived. You must unarchive the page before updating."

func ignoreArchivedPage(err error) bool {
	var apiErr *notion.APIError
	return errors.As(err, &apiErr) && apiErr.Status == 400 && apiErr.Message == archivedPageMessage
}

func ignoreNotionNotFound(err error) bool {
	var apiErr *notion.APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

func ignoreCalendarNotFound(err error) bool {
	info, ok := gcal.Inspect(err)
	return ok && info.Status == 404
}

func ignoreCalendarGone(err error) bool {
	info, ok := gcal.Inspect(err)
	return ok && info.Status == 410
}

// ignoreNonOrganizer covers updates to events the user was only invited to
func ignoreNonOrganizer(err error) bool {
	info, ok := gcal.Inspect(err)
	if !ok || info.Status != 403 {
		return false
	}
	return info.Reason == "forbiddenForNonOrganizer" || (info.Message == "Forbidden" && info.Reason == "forbidden")
}

// calendarAlreadyDeleted applies to every Calendar call
func calendarAlreadyDeleted(err error) bool {
	info, ok := gcal.Inspect(err)
	return ok && info.Status == 410 && info.Message == "deleted"
}

func ignored(err error, rules []ignoreRule) bool {
	for _, rule := range rules {
		if rule(err) {
			return true
		}
	}
	return false
}
