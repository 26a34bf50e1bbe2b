package audit

import (
	"math"
	"time"
)

// Event is one administrative write, recorded once and never updated.
//
// Invariants:
// - ActorEmail, ActorRole, Method, Path and Status are always populated.
// - IP, when present, is masked; the raw client address is never stored.
// - Note, UserAgent and IP never carry credentials or request bodies.
// - ID and CreatedAt are assigned by the store on insert.
//
// Storage (Postgres): table audit_events, see schema.sql.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	ActorEmail string `json:"actor_email" db:"actor_email"`
	ActorRole  string `json:"actor_role" db:"actor_role"`

	Method string `json:"method" db:"method"`
	Path   string `json:"path" db:"path"`
	Status int    `json:"status" db:"status"`

	IP        string `json:"ip,omitempty" db:"ip"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`

	// Note is context supplied by business logic, e.g. "Created racer id=42".
	Note string `json:"note,omitempty" db:"note"`
}

const (
	AnonymousActor = "anonymous"
	UnknownRole    = "UNKNOWN"

	MaxPathLen      = 500
	MaxUserAgentLen = 300
	MaxNoteLen      = 2000
	MaxIPLen        = 120
)

func (e Event) valid() bool {
	return e.ActorEmail != "" && e.ActorRole != "" && e.Method != "" && e.Path != "" && e.Status > 0
}

// Page is one page of search results, newest first.
type Page struct {
	Items      []Event `json:"items"`
	Page       int     `json:"page"`
	Size       int     `json:"size"`
	Total      int64   `json:"total"`
	TotalPages int     `json:"total_pages"`
}

const (
	MinPageSize     = 5
	MaxPageSize     = 100
	DefaultPageSize = 25

	// MaxPage keeps page*size (the row offset) from overflowing.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// ClampPage bounds a page request instead of rejecting it.
func ClampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size < MinPageSize {
		size = MinPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func newPage(items []Event, page, size int, total int64) Page {
	if items == nil {
		items = []Event{}
	}
	pages := int((total + int64(size) - 1) / int64(size))
	return Page{Items: items, Page: page, Size: size, Total: total, TotalPages: pages}
}
