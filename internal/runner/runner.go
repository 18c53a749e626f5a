// Package runner keeps a fixed pool of worker loops busy. Each loop claims one
// eligible user at a time, syncs it with a worker and reports the result.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/db"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/worker"
)

// PlanInit is the workers key for loops that pick up never-synced users
const PlanInit = "init"

// reportTimeout bounds one report call after a run
const reportTimeout = 30 * time.Second

// Store is the user selection surface the loops need. *db.DB implements it.
type Store interface {
	FindUserForPlan(ctx context.Context, plan string, exclude []int64) (*db.User, error)
	FindUninitializedUser(ctx context.Context, exclude []int64) (*db.User, error)
	ResetStuckClaims(ctx context.Context, prefix string) (int64, error)
}

// Syncer runs one sync pass for one user. *worker.Worker implements it.
type Syncer interface {
	Run(ctx context.Context, userID int64) (*worker.Result, error)
}

// SyncerFactory builds the syncer a loop uses for every run
type SyncerFactory func(workerID string) Syncer

// Runner owns the worker loops and their shared state
type Runner struct {
	store     Store
	newSyncer SyncerFactory
	reporter  Reporter
	cfg       *config.Config
	state     *State
	stop      atomic.Bool
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger replaces the default logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a runner. A nil reporter disables reporting.
func New(store Store, newSyncer SyncerFactory, reporter Reporter, cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		newSyncer: newSyncer,
		reporter:  reporter,
		cfg:       cfg,
		state:     NewState(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	r.stop.Store(cfg.Runner.Stop)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// loopSpec names one loop and the plan it serves
type loopSpec struct {
	workerID string
	plan     string
}

// loopSpecs expands runner.workers into loop ids, ordered by plan name
func loopSpecs(prefix string, workers map[string]int) []loopSpec {
	plans := make([]string, 0, len(workers))
	for plan := range workers {
		plans = append(plans, plan)
	}
	slices.Sort(plans)

	var specs []loopSpec
	for _, plan := range plans {
		for i := 0; i < workers[plan]; i++ {
			specs = append(specs, loopSpec{
				workerID: fmt.Sprintf("%s_w_%s_%d", prefix, plan, i),
				plan:     plan,
			})
		}
	}
	return specs
}

// SetStop sets the stop flag. Loops check it before claiming their next user.
func (r *Runner) SetStop(stop bool) {
	if r.stop.Swap(stop) != stop {
		r.logger.Info("runner stop flag changed", "stop", stop)
	}
}

// Stopping reports whether the stop flag is set
func (r *Runner) Stopping() bool {
	return r.stop.Load()
}

// Snapshot returns the current counters and loop statuses
func (r *Runner) Snapshot() Stats {
	return r.state.Snapshot()
}

// RestoreWrongSync releases users left claimed by a previous run of this process
func (r *Runner) RestoreWrongSync(ctx context.Context) error {
	n, err := r.store.ResetStuckClaims(ctx, r.cfg.Syncbot.Prefix)
	if err != nil {
		return fmt.Errorf("failed to reset stuck claims: %w", err)
	}
	if n > 0 {
		r.logger.Warn("reset stuck claims", "prefix", r.cfg.Syncbot.Prefix, "count", n)
	}
	return nil
}

// Run resets stuck claims and runs every loop until ctx is cancelled or the
// stop flag is set. A run in progress always finishes before its loop exits.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.RestoreWrongSync(ctx); err != nil {
		return err
	}

	if spec := r.cfg.Runner.ReportInterval; spec != "" {
		c := cron.New()
		if _, err := c.AddFunc(spec, r.logStats); err != nil {
			return fmt.Errorf("invalid report_interval %q: %w", spec, err)
		}
		c.Start()
		defer c.Stop()
	}

	specs := loopSpecs(r.cfg.Syncbot.Prefix, r.cfg.Runner.Workers)
	if len(specs) == 0 {
		r.logger.Warn("no worker loops configured")
		return nil
	}

	wg := conc.NewWaitGroup()
	for _, spec := range specs {
		r.state.addLoop(spec.workerID, spec.plan)
		wg.Go(func() {
			r.loop(ctx, spec)
		})
	}
	r.logger.Info("runner started", "loops", len(specs))

	if recovered := wg.WaitAndRecover(); recovered != nil {
		r.logger.Error("worker loop panicked", "panic", recovered.String())
	}

	if r.Stopping() || ctx.Err() != nil {
		r.logger.Info("all loops stopped")
	} else {
		r.logger.Error("all loops exited without a stop signal")
	}
	r.logStats()
	return nil
}

func (r *Runner) loop(ctx context.Context, spec loopSpec) {
	logger := r.logger.With("worker_id", spec.workerID, "plan", spec.plan)
	syncer := r.newSyncer(spec.workerID)
	defer r.state.setLoopState(spec.workerID, LoopStopped)

	for {
		if r.Stopping() || ctx.Err() != nil {
			logger.Debug("loop stopped")
			return
		}

		user, err := r.pick(ctx, spec.plan)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("failed to find user", "error", err)
			}
			r.idle(ctx)
			continue
		}
		if user == nil {
			r.idle(ctx)
			continue
		}
		if !r.state.Claim(spec.workerID, user.ID, r.now()) {
			// another loop holds the user until its run ends
			r.idle(ctx)
			continue
		}

		r.runUser(ctx, logger, spec.workerID, syncer, user.ID)
	}
}

func (r *Runner) pick(ctx context.Context, plan string) (*db.User, error) {
	exclude := r.state.Claimed()
	if plan == PlanInit {
		return r.store.FindUninitializedUser(ctx, exclude)
	}
	return r.store.FindUserForPlan(ctx, plan, exclude)
}

// runUser syncs one claimed user. The run is detached from ctx so shutdown
// waits for it instead of cutting it short.
func (r *Runner) runUser(ctx context.Context, logger *slog.Logger, workerID string, syncer Syncer, userID int64) {
	runCtx := context.WithoutCancel(ctx)
	failed := true
	defer func() {
		r.state.Release(workerID, userID, failed)
	}()

	logger.Info("sync started", "user_id", userID)
	res, err := syncer.Run(runCtx, userID)
	if err != nil {
		logger.Error("sync failed", "user_id", userID, "error", err)
		return
	}

	failed = res.Fail
	if failed {
		reason := res.FailReason
		if reason == "" {
			reason = "no response"
		}
		logger.Error("sync failed", "user_id", userID, "reason", reason, "result", res.SimpleResponse)
	} else {
		logger.Info("sync succeeded", "user_id", userID, "result", res.SimpleResponse)
	}

	if r.reporter == nil {
		return
	}
	reportCtx, cancel := context.WithTimeout(runCtx, reportTimeout)
	defer cancel()
	if err := r.reporter.Report(reportCtx, workerID, userID, res); err != nil {
		logger.Warn("failed to report result", "user_id", userID, "error", err)
	}
}

func (r *Runner) idle(ctx context.Context) {
	timer := time.NewTimer(time.Duration(r.cfg.Runner.IdlePollMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (r *Runner) logStats() {
	stats := r.state.Snapshot()
	r.logger.Info("runner stats",
		"loops", len(stats.Loops),
		"working", stats.Working(),
		"success", stats.Success,
		"fail", stats.Fail,
		"init", stats.InitCount,
		"sync", stats.SyncCount,
	)
}
