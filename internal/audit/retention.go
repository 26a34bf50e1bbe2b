package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"racing-admin/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Locker serializes retention runs across replicas.
type Locker interface {
	// TryLock returns ok=false without error when another holder has the lock.
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// NoopLocker always grants the lock; for single-instance deployments.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context) (func(), bool, error) { return func() {}, true, nil }

// RedisLocker holds a TTL lock in Redis for the duration of a run.
type RedisLocker struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

const retentionLockKey = "admin-audit:retention:lock"

func NewRedisLocker(rdb *redis.Client) RedisLocker {
	return RedisLocker{Client: rdb, Key: retentionLockKey, TTL: 10 * time.Minute}
}

func (l RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token, ok, err := utils.AcquireLock(ctx, l.Client, l.Key, l.TTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		// The run's ctx may be done by now; release on a fresh, short one.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseLock(rctx, l.Client, l.Key, token)
	}, true, nil
}

// RunResult describes one retention pass.
type RunResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cutoff     time.Time `json:"cutoff"`
	PurgeResult
}

// Retention purges events past the horizon. States: IDLE -> RUNNING -> IDLE.
// A failed run leaves data intact (the purge is one transaction) and the next
// run proceeds normally.
type Retention struct {
	store            Store
	days             int
	purgeNonMutating bool
	mutating         []string
	locker           Locker
	metrics          *Metrics
	log              *slog.Logger

	Now func() time.Time

	running atomic.Bool
}

type RetentionOptions struct {
	Days int
	// PurgeNonMutating also deletes rows whose method is not a mutating verb.
	PurgeNonMutating bool
	Locker           Locker
	Metrics          *Metrics
	Logger           *slog.Logger
}

func NewRetention(store Store, policy Policy, opts RetentionOptions) *Retention {
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.Locker == nil {
		opts.Locker = NoopLocker{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retention{
		store:            store,
		days:             opts.Days,
		purgeNonMutating: opts.PurgeNonMutating,
		mutating:         append([]string(nil), policy.MutatingMethods...),
		locker:           opts.Locker,
		metrics:          opts.Metrics,
		log:              opts.Logger,
		Now:              time.Now,
	}
}

// Running reports whether a pass is in progress in this process.
func (r *Retention) Running() bool { return r.running.Load() }

// RunOnce performs one pass. It returns ErrRetentionBusy when a pass is already
// running here or on another replica.
func (r *Retention) RunOnce(ctx context.Context) (RunResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.retentionRun("skipped")
		return RunResult{}, ErrRetentionBusy
	}
	defer r.running.Store(false)

	release, ok, err := r.locker.TryLock(ctx)
	if err != nil {
		r.metrics.retentionRun("failure")
		r.log.Error("audit retention lock failed", "err", err)
		return RunResult{}, err
	}
	if !ok {
		r.metrics.retentionRun("skipped")
		r.log.Info("audit retention skipped, another run holds the lock")
		return RunResult{}, ErrRetentionBusy
	}
	defer release()

	// Cutoff is fixed here; rows inserted during the pass are judged against it.
	start := r.Now()
	res := RunResult{StartedAt: start, Cutoff: start.AddDate(0, 0, -r.days)}

	var keep []string
	if r.purgeNonMutating {
		keep = r.mutating
	}
	purged, err := r.store.Purge(ctx, res.Cutoff, keep)
	res.FinishedAt = r.Now()
	if err != nil {
		r.metrics.retentionRun("failure")
		r.log.Error("audit retention failed", "err", err, "cutoff", res.Cutoff)
		return res, err
	}
	res.PurgeResult = purged

	r.metrics.retentionRun("success")
	r.metrics.purged("non_mutating", purged.MethodDeleted)
	r.metrics.purged("expired", purged.ExpiredDeleted)
	r.log.Info("audit retention completed",
		"cutoff", res.Cutoff,
		"retention_days", r.days,
		"expired_deleted", purged.ExpiredDeleted,
		"non_mutating_deleted", purged.MethodDeleted,
		"duration_ms", res.FinishedAt.Sub(start).Milliseconds(),
	)
	return res, nil
}
