package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"racing-admin/pkg/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func seedAged(t *testing.T, repo *MemoryRepo, now time.Time, days int, method string) {
	t.Helper()
	at := now.AddDate(0, 0, -days)
	repo.Now = func() time.Time { return at }
	if _, err := repo.Save(context.Background(), ev("a@x", method, "/api/admin/races/1", 200)); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestRetention_DeletesOnlyExpired(t *testing.T) {
	now := time.Date(2024, 6, 30, 3, 15, 0, 0, time.UTC)
	repo := NewMemoryRepo()
	seedAged(t, repo, now, 31, "POST")
	seedAged(t, repo, now, 29, "POST")

	m := NewMetrics(prometheus.NewRegistry())
	r := NewRetention(repo, DefaultPolicy(), RetentionOptions{Days: 30, Metrics: m, Logger: discardLogger()})
	r.Now = func() time.Time { return now }

	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExpiredDeleted != 1 || res.MethodDeleted != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !res.Cutoff.Equal(now.AddDate(0, 0, -30)) {
		t.Fatalf("cutoff = %v", res.Cutoff)
	}
	left := repo.Events()
	if len(left) != 1 || !left[0].CreatedAt.Equal(now.AddDate(0, 0, -29)) {
		t.Fatalf("left = %+v", left)
	}

	res, err = r.RunOnce(context.Background())
	if err != nil || res.Total() != 0 {
		t.Fatalf("second run: %+v %v", res, err)
	}
	if got := testutil.ToFloat64(m.RetentionRuns.WithLabelValues("success")); got != 2 {
		t.Fatalf("success runs = %v", got)
	}
	if got := testutil.ToFloat64(m.Purged.WithLabelValues("expired")); got != 1 {
		t.Fatalf("purged = %v", got)
	}
}

func TestRetention_PurgeNonMutating(t *testing.T) {
	now := time.Now()
	repo := NewMemoryRepo()
	seedAged(t, repo, now, 1, "GET")
	seedAged(t, repo, now, 1, "OPTIONS")
	seedAged(t, repo, now, 1, "PATCH")

	r := NewRetention(repo, DefaultPolicy(), RetentionOptions{Days: 30, PurgeNonMutating: true, Logger: discardLogger()})
	res, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.MethodDeleted != 2 || res.ExpiredDeleted != 0 {
		t.Fatalf("result = %+v", res)
	}
	if left := repo.Events(); len(left) != 1 || left[0].Method != "PATCH" {
		t.Fatalf("left = %+v", left)
	}
}

type gatedStore struct {
	*MemoryRepo
	entered chan struct{}
	release chan struct{}
}

func (g gatedStore) Purge(ctx context.Context, cutoff time.Time, keep []string) (PurgeResult, error) {
	close(g.entered)
	<-g.release
	return g.MemoryRepo.Purge(ctx, cutoff, keep)
}

func TestRetention_ConcurrentRunIsBusy(t *testing.T) {
	store := gatedStore{MemoryRepo: NewMemoryRepo(), entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRetention(store, DefaultPolicy(), RetentionOptions{Logger: discardLogger()})

	errc := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(context.Background())
		errc <- err
	}()
	<-store.entered

	if !r.Running() {
		t.Fatalf("expected running state")
	}
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, ErrRetentionBusy) {
		t.Fatalf("expected ErrRetentionBusy, got %v", err)
	}

	close(store.release)
	if err := <-errc; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if r.Running() {
		t.Fatalf("expected idle state")
	}
}

type failingPurgeStore struct{ *MemoryRepo }

func (failingPurgeStore) Purge(context.Context, time.Time, []string) (PurgeResult, error) {
	return PurgeResult{}, errors.New("statement timeout")
}

func TestRetention_FailureLeavesIdle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRetention(failingPurgeStore{NewMemoryRepo()}, DefaultPolicy(), RetentionOptions{Metrics: m, Logger: discardLogger()})

	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if r.Running() {
		t.Fatalf("failed run must return to idle")
	}
	if got := testutil.ToFloat64(m.RetentionRuns.WithLabelValues("failure")); got != 1 {
		t.Fatalf("failure runs = %v", got)
	}
}

func TestRetention_RedisLockAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := NewMemoryRepo()
	r := NewRetention(repo, DefaultPolicy(), RetentionOptions{Locker: NewRedisLocker(rdb), Logger: discardLogger()})

	// Another replica holds the lock.
	token, ok, err := utils.AcquireLock(context.Background(), rdb, retentionLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if _, err := r.RunOnce(context.Background()); !errors.Is(err, ErrRetentionBusy) {
		t.Fatalf("expected ErrRetentionBusy, got %v", err)
	}

	if err := utils.ReleaseLock(context.Background(), rdb, retentionLockKey, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run after release: %v", err)
	}
	if mr.Exists(retentionLockKey) {
		t.Fatalf("lock must be released after the run")
	}
}
