package audit

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Store for tests and local development.
// It is not intended for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	nextID int64

	// Now stamps CreatedAt on Save.
	Now func() time.Time
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Now: time.Now} }

func (r *MemoryRepo) Save(ctx context.Context, e Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	e.CreatedAt = r.Now().UTC()
	r.events = append(r.events, e)
	return e, nil
}

func (r *MemoryRepo) Search(ctx context.Context, q string, page, size int) (Page, error) {
	page, size = ClampPage(page, size)
	q = strings.ToLower(strings.TrimSpace(q))

	r.mu.Lock()
	var matched []Event
	for _, e := range r.events {
		if q == "" || matches(e, q) {
			matched = append(matched, e)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := page * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return newPage(append([]Event(nil), matched[start:end]...), page, size, total), nil
}

func matches(e Event, q string) bool {
	for _, f := range []string{e.ActorEmail, e.ActorRole, e.Path, e.Method, strconv.Itoa(e.Status), e.UserAgent} {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) Get(ctx context.Context, id int64) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			return e, nil
		}
	}
	return Event{}, ErrNotFound
}

func (r *MemoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteWhere(func(e Event) bool { return e.CreatedAt.Before(cutoff) }), nil
}

func (r *MemoryRepo) DeleteByMethods(ctx context.Context, methods []string) (int64, error) {
	set := methodSet(methods)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteWhere(func(e Event) bool { return set[strings.ToUpper(e.Method)] }), nil
}

func (r *MemoryRepo) DeleteExceptMethods(ctx context.Context, methods []string) (int64, error) {
	set := methodSet(methods)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteWhere(func(e Event) bool { return !set[strings.ToUpper(e.Method)] }), nil
}

func (r *MemoryRepo) Purge(ctx context.Context, cutoff time.Time, keepMethods []string) (PurgeResult, error) {
	var res PurgeResult
	set := methodSet(keepMethods)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(set) > 0 {
		res.MethodDeleted = r.deleteWhere(func(e Event) bool { return !set[strings.ToUpper(e.Method)] })
	}
	res.ExpiredDeleted = r.deleteWhere(func(e Event) bool { return e.CreatedAt.Before(cutoff) })
	return res, nil
}

func (r *MemoryRepo) ClearAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.events))
	r.events = nil
	return n, nil
}

// Events returns a copy of every stored event in insertion order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// deleteWhere must be called with mu held.
func (r *MemoryRepo) deleteWhere(drop func(Event) bool) int64 {
	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if drop(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n
}

func methodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			set[m] = true
		}
	}
	return set
}
