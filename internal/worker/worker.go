// Package worker runs one sync pass for one user: it claims the user, validates
// the Notion schema, diffs both sides since the last sync and writes the changes
// across, keeping the event links up to date.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
)

// boundaryTimeout bounds the cleanup writes made after a run failed
const boundaryTimeout = 30 * time.Second

// Worker syncs users one at a time
type Worker struct {
	store    Store
	clients  ClientFactory
	cfg      *config.Config
	workerID string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Worker
type Option func(*Worker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithLogger replaces the default logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a worker identified by workerID
func New(store Store, clients ClientFactory, cfg *config.Config, workerID string, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		clients:  clients,
		cfg:      cfg,
		workerID: workerID,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker id written into the user's claim
func (w *Worker) ID() string {
	return w.workerID
}

// run is the state of one pass over one user
type run struct {
	w      *Worker
	wc     *WorkContext
	logger *slog.Logger

	notion *NotionAssist
	gcal   *CalendarAssist
	links  *LinkAssist

	claimed bool
}

// Run syncs one user. Sync failures are recorded on the user, in the error log
// and in the returned Result; only a failure to load the user is returned as an error.
func (w *Worker) Run(ctx context.Context, userID int64) (*Result, error) {
	user, err := w.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	wc := newWorkContext(w.workerID, user, w.now(), w.cfg.Worker)
	r := &run{
		w:      w,
		wc:     wc,
		logger: w.logger.With("worker_id", w.workerID, "user_id", userID),
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.cfg.Worker.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Worker.Timeout)
	}
	err = r.runSteps(runCtx)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		r.fail(ctx, err, timedOut)
	}
	wc.Result.summarize(userID, w.now().Sub(wc.StartedAt))
	r.logger.Info("sync finished", "result", wc.Result.SimpleResponse)
	return wc.Result, nil
}

func (r *run) step(s Step) {
	r.wc.Result.Step = s
	r.logger.Debug("sync step", "step", s)
}

func (r *run) runSteps(ctx context.Context) error {
	if err := r.init(ctx); err != nil {
		return err
	}
	if err := r.startSync(ctx); err != nil {
		return err
	}

	skip, err := r.validation(ctx)
	if err != nil {
		return err
	}
	if !skip {
		if r.wc.IsInitialized() {
			if err := r.eraseDeletedEvents(ctx); err != nil {
				return err
			}
			if err := r.syncEvents(ctx); err != nil {
				return err
			}
			if err := r.syncNewCalendars(ctx); err != nil {
				return err
			}
		} else if err := r.initAccount(ctx); err != nil {
			return err
		}
	}
	return r.endSync(ctx)
}

func (r *run) init(ctx context.Context) error {
	r.step(StepInit)
	w, wc := r.w, r.wc

	props, err := wc.User.ParsedNotionProps()
	if err != nil {
		return &SyncError{
			Code:        CodeNotionValidation,
			Kind:        KindSchemaViolation,
			From:        FromSyncbot,
			Description: "notion property mapping is unreadable",
			Detail:      err.Error(),
			Level:       LevelError,
			FinishWork:  FinishStop,
			Err:         err,
		}
	}
	wc.Props = props

	calendars, err := w.store.ListUserCalendars(ctx, wc.User.ID)
	if err != nil {
		return fmt.Errorf("failed to list calendars: %w", err)
	}
	wc.SetCalendars(calendars, w.cfg.Worker.IsIgnoredCalendar)

	notionAPI, err := w.clients.Notion(wc.User)
	if err != nil {
		return err
	}
	calendarAPI, err := w.clients.Calendar(ctx, wc.User)
	if err != nil {
		return err
	}

	notionPolicy := NewPolicy(w.cfg.Notion.MaxRetry, w.cfg.Notion.RetryDelayMs, w.cfg.Notion.IntervalMs)
	googlePolicy := NewPolicy(w.cfg.Google.MaxRetry, w.cfg.Google.RetryDelayMs, w.cfg.Google.IntervalMs)
	r.notion = newNotionAssist(notionAPI, w.store, wc, notionPolicy, r.logger)
	r.gcal = newCalendarAssist(calendarAPI, w.store, wc, googlePolicy, w.now, r.logger)
	r.links = newLinkAssist(w.store, wc, r.logger)
	return nil
}

func (r *run) startSync(ctx context.Context) error {
	r.step(StepStartSync)
	err := r.w.store.MarkUserWorking(ctx, r.wc.User.ID, r.w.workerID, r.w.cfg.Syncbot.Version, r.wc.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to claim user: %w", err)
	}
	r.claimed = true
	return nil
}

// validation reports true when the sync window is empty and the run has nothing to do
func (r *run) validation(ctx context.Context) (bool, error) {
	r.step(StepValidation)
	if r.wc.Period.IsEmpty() {
		r.logger.Info("empty sync window, skipping", "start", r.wc.Period.Start, "end", r.wc.Period.End)
		return true, nil
	}
	return false, r.notion.ValidateAndRestore(ctx)
}

func (r *run) endSync(ctx context.Context) error {
	r.step(StepEndSync)
	wc := r.wc
	if err := r.w.store.FinishUserWork(ctx, wc.User.ID, wc.Period.End, ""); err != nil {
		return fmt.Errorf("failed to finish user work: %w", err)
	}

	days := r.w.cfg.Worker.ErrorLogRetentionDays
	if days <= 0 {
		return nil
	}
	before := r.w.now().AddDate(0, 0, -days)
	removed, err := r.w.store.DeleteErrorLogsBefore(ctx, wc.User.ID, before)
	if err != nil {
		r.logger.Warn("failed to prune error logs", "error", err)
		return nil
	}
	if removed > 0 {
		r.logger.Debug("pruned error logs", "count", removed)
	}
	return nil
}

// fail records a failed run. Its own failures are logged and otherwise dropped.
func (r *run) fail(ctx context.Context, err error, timedOut bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), boundaryTimeout)
	defer cancel()

	res := r.wc.Result
	res.Fail = true

	if errors.Is(err, db.ErrAlreadyClaimed) {
		res.FailReason = CodeUserAlreadyWorking
		r.logger.Warn("user is already being synced", "step", res.Step)
		return
	}

	se := asSyncError(err, timedOut)
	res.FailReason = se.Code
	r.logger.Error("sync failed",
		"step", res.Step,
		"code", se.Code,
		"from", se.From,
		"finish_work", se.FinishWork,
		"error", err,
	)

	user := r.wc.User
	if r.claimed {
		if err := r.w.store.ClearUserWork(ctx, user.ID); err != nil {
			r.logger.Error("failed to release user", "error", err)
		}
	}

	detail := se.Detail
	if detail == "" {
		detail = err.Error()
	}
	log := &db.ErrorLog{
		UserID:      user.ID,
		Code:        se.Code,
		From:        string(se.From),
		Description: se.Description,
		Detail:      fmt.Sprintf("step=%s %s", res.Step, detail),
		Level:       string(se.Level),
		FinishWork:  string(se.FinishWork),
		CreatedAt:   r.w.now(),
	}
	if err := r.w.store.CreateErrorLog(ctx, log); err != nil {
		r.logger.Error("failed to write error log", "error", err)
	}

	if se.FinishWork == FinishStop {
		if err := r.w.store.DisconnectUser(ctx, user.ID); err != nil {
			r.logger.Error("failed to disconnect user", "error", err)
			return
		}
		r.logger.Warn("user disconnected", "code", se.Code)
	}
}

// stamp is the time recorded on a link after a write that the remote side timestamped at t
func (r *run) stamp(t time.Time) time.Time {
	now := r.w.now()
	if t.After(now) {
		return t
	}
	return now
}
