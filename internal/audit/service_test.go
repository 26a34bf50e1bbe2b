package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingStore struct {
	*MemoryRepo
	err error
}

func (f failingStore) Save(ctx context.Context, e Event) (Event, error) { return Event{}, f.err }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestService_RecordNormalizesAndSaves(t *testing.T) {
	repo := NewMemoryRepo()
	m := NewMetrics(prometheus.NewRegistry())
	svc := NewService(repo, DefaultPolicy(), ServiceOptions{Metrics: m, Logger: discardLogger()})

	saved, err := svc.Record(context.Background(), Event{Method: "put", Path: "/api/admin/races/1", Status: 200})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if saved.ID == 0 || saved.ActorEmail != AnonymousActor || saved.ActorRole != UnknownRole || saved.Method != "PUT" {
		t.Fatalf("saved = %+v", saved)
	}
	if got := testutil.ToFloat64(m.Recorded); got != 1 {
		t.Fatalf("recorded metric = %v", got)
	}
}

func TestService_RecordRejectsInvalid(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, DefaultPolicy(), ServiceOptions{Logger: discardLogger()})

	for _, e := range []Event{
		{Path: "/p", Status: 200},
		{Method: "POST", Status: 200},
		{Method: "POST", Path: "/p"},
	} {
		if _, err := svc.Record(context.Background(), e); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %+v, got %v", e, err)
		}
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_SubmitSwallowsStoreFailure(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	store := failingStore{MemoryRepo: NewMemoryRepo(), err: errors.New("db down")}
	svc := NewService(store, DefaultPolicy(), ServiceOptions{Metrics: m, Logger: discardLogger()})

	svc.Submit(context.Background(), Event{Method: "POST", Path: "/p", Status: 201})

	if got := testutil.ToFloat64(m.WriteFailures); got != 1 {
		t.Fatalf("write failures = %v", got)
	}
}

func TestService_LogAdminWrite(t *testing.T) {
	repo := NewMemoryRepo()
	v := &fakeVerifier{subject: "Admin@Example.com", role: "admin"}
	svc := NewService(repo, DefaultPolicy(), ServiceOptions{Resolver: Resolver{Tokens: v}, Logger: discardLogger()})

	// Not a sensitive family, so the middleware would not record it.
	req := httptest.NewRequest("POST", "/api/admin/settings/season", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("User-Agent", "admin-ui/1.0")

	e, err := svc.LogAdminWrite(context.Background(), req, 200, "Opened season 2025")
	if err != nil {
		t.Fatalf("log admin write: %v", err)
	}
	if e.ActorEmail != "admin@example.com" || e.ActorRole != "ADMIN" || e.Note != "Opened season 2025" || e.UserAgent != "admin-ui/1.0" {
		t.Fatalf("event = %+v", e)
	}
}

func TestService_LogAdminWriteRefusesInterceptedRequest(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, DefaultPolicy(), ServiceOptions{Logger: discardLogger()})

	req := httptest.NewRequest("POST", "/api/admin/racers", nil)
	if _, err := svc.LogAdminWrite(context.Background(), req, 201, "Created racer id=42"); !errors.Is(err, ErrIntercepted) {
		t.Fatalf("expected ErrIntercepted, got %v", err)
	}
	if n := len(repo.Events()); n != 0 {
		t.Fatalf("stored = %d", n)
	}
}

type blockingRecorder struct {
	started chan struct{}
	release chan struct{}
	got     chan Event
}

func (b blockingRecorder) Record(ctx context.Context, e Event) (Event, error) {
	b.started <- struct{}{}
	<-b.release
	b.got <- e
	return e, nil
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	rec := blockingRecorder{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		got:     make(chan Event, 8),
	}
	d := NewDispatcher(rec, DispatcherOptions{QueueSize: 1, Workers: 1, Metrics: m, Logger: discardLogger()})
	d.Start()

	e := Event{Method: "POST", Path: "/p", Status: 200}
	d.Submit(context.Background(), e)
	select {
	case <-rec.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up the first event")
	}

	// One in flight, one queued, the rest dropped; Submit must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			d.Submit(context.Background(), e)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("submit blocked")
	}

	close(rec.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(rec.got) != 2 {
		t.Fatalf("written = %d", len(rec.got))
	}
	if got := testutil.ToFloat64(m.Dropped); got != 3 {
		t.Fatalf("dropped = %v", got)
	}
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, DefaultPolicy(), ServiceOptions{Logger: discardLogger()})
	d := NewDispatcher(svc, DispatcherOptions{QueueSize: 16, Workers: 2, Logger: discardLogger()})
	d.Start()

	for i := 0; i < 10; i++ {
		d.Submit(context.Background(), Event{Method: "DELETE", Path: "/api/admin/races/1", Status: 204})
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(repo.Events()); n != 10 {
		t.Fatalf("stored = %d", n)
	}

	// After close, submissions are dropped rather than panicking on a closed channel.
	d.Submit(context.Background(), Event{Method: "POST", Path: "/p", Status: 200})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
