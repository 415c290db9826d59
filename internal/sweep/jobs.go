package sweep

import (
	"context"
	"log/slog"
	"time"
)

// ActionGate is the subset of the confirmation gate needed by sweep jobs.
// Defined here to avoid a dependency on the confirm package.
type ActionGate interface {
	SweepExpired() int
}

// SessionStore is the subset of the session store needed by sweep jobs.
type SessionStore interface {
	Prune(maxIdle time.Duration) int
}

// ResponseCache is the subset of the response cache needed by sweep jobs.
type ResponseCache interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ActionExpiryJob expires pending actions whose confirmation deadline has
// passed.
type ActionExpiryJob struct {
	Gate         ActionGate
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "* * * * *"
}

var _ Job = (*ActionExpiryJob)(nil)

// Name implements Job.
func (j *ActionExpiryJob) Name() string { return "action_expiry" }

// Schedule implements Job.
func (j *ActionExpiryJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run expires overdue proposals.
func (j *ActionExpiryJob) Run(_ context.Context) error {
	if expired := j.Gate.SweepExpired(); expired > 0 {
		j.Logger.Info("expired pending actions", "count", expired)
	}
	return nil
}

// SessionPruneJob removes sessions that have been idle longer than MaxIdle.
type SessionPruneJob struct {
	Store        SessionStore
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

var _ Job = (*SessionPruneJob)(nil)

// Name implements Job.
func (j *SessionPruneJob) Name() string { return "session_prune" }

// Schedule implements Job.
func (j *SessionPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run prunes sessions idle longer than MaxIdle.
func (j *SessionPruneJob) Run(_ context.Context) error {
	if pruned := j.Store.Prune(j.MaxIdle); pruned > 0 {
		j.Logger.Info("pruned idle sessions", "count", pruned)
	}
	return nil
}

// CachePruneJob drops cached responses older than MaxAge.
type CachePruneJob struct {
	Cache        ResponseCache
	MaxAge       time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

var _ Job = (*CachePruneJob)(nil)

// Name implements Job.
func (j *CachePruneJob) Name() string { return "cache_prune" }

// Schedule implements Job.
func (j *CachePruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run drops expired cache rows.
func (j *CachePruneJob) Run(ctx context.Context) error {
	pruned, err := j.Cache.Prune(ctx, j.MaxAge)
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.Logger.Info("pruned cached responses", "count", pruned)
	}
	return nil
}
