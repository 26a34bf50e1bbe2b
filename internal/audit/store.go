package audit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("audit: event not found")
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrRetentionBusy = errors.New("audit: retention run already in progress")
	ErrIntercepted   = errors.New("audit: request is recorded by the middleware, use SetNote")
)

// Store persists events. Rows are insert-only; the only removals are the bulk
// deletes below, used by retention and explicit maintenance.
type Store interface {
	// Save inserts e and returns it with ID and CreatedAt assigned.
	Save(ctx context.Context, e Event) (Event, error)

	// Search matches q case-insensitively against actor email, actor role, path,
	// method, status and user agent. Empty q matches everything. Results are
	// ordered by CreatedAt descending; page and size are clamped with ClampPage.
	Search(ctx context.Context, q string, page, size int) (Page, error)

	// Get returns ErrNotFound when no event has the id.
	Get(ctx context.Context, id int64) (Event, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteByMethods(ctx context.Context, methods []string) (int64, error)
	DeleteExceptMethods(ctx context.Context, methods []string) (int64, error)

	// Purge runs one retention pass atomically: when keepMethods is non-empty,
	// rows whose method is not in it are deleted first, then rows older than cutoff.
	Purge(ctx context.Context, cutoff time.Time, keepMethods []string) (PurgeResult, error)

	ClearAll(ctx context.Context) (int64, error)
}

type PurgeResult struct {
	MethodDeleted  int64 `json:"method_deleted"`
	ExpiredDeleted int64 `json:"expired_deleted"`
}

func (r PurgeResult) Total() int64 { return r.MethodDeleted + r.ExpiredDeleted }
