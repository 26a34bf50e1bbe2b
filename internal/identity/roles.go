package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// PostgresRoles reads the current role of an account from the parents table.
// Roles can change after a token is issued; this is the fresh source.
type PostgresRoles struct {
	db *sql.DB
}

func NewPostgresRoles(db *sql.DB) *PostgresRoles { return &PostgresRoles{db: db} }

// RoleFor returns "" with a nil error when no account has the email.
func (r *PostgresRoles) RoleFor(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}

	var role sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM parents WHERE lower(email) = lower($1) LIMIT 1`, email,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("identity: role lookup: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(role.String)), nil
}

// RoleSource is anything CachedRoles can sit in front of.
type RoleSource interface {
	RoleFor(ctx context.Context, email string) (string, error)
}

// CachedRoles keeps recent lookups for a short TTL so a burst of admin writes
// costs one query. Errors are not cached. Unknown subjects are.
type CachedRoles struct {
	src   RoleSource
	cache *lru.LRU[string, string]
}

const defaultRoleCacheSize = 1024

func NewCachedRoles(src RoleSource, ttl time.Duration) *CachedRoles {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRoles{
		src:   src,
		cache: lru.NewLRU[string, string](defaultRoleCacheSize, nil, ttl),
	}
}

func (c *CachedRoles) RoleFor(ctx context.Context, email string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if role, ok := c.cache.Get(key); ok {
		return role, nil
	}
	role, err := c.src.RoleFor(ctx, key)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, role)
	return role, nil
}

// Forget drops a cached entry, e.g. after a role change.
func (c *CachedRoles) Forget(email string) {
	c.cache.Remove(strings.ToLower(strings.TrimSpace(email)))
}
