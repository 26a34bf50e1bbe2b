package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"racing-admin/pkg/utils"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepo is the production Store. It relies on row-insert atomicity for
// concurrent Save calls; bulk deletes run inside a transaction.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema creates the audit_events table and its indexes if missing.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

const eventColumns = `id, created_at, actor_email, actor_role, method, path, status, ip, user_agent, note`

func (r *PostgresRepo) Save(ctx context.Context, e Event) (Event, error) {
	const q = `
INSERT INTO audit_events (actor_email, actor_role, method, path, status, ip, user_agent, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at
`
	if err := r.db.QueryRowContext(ctx, q,
		e.ActorEmail,
		e.ActorRole,
		e.Method,
		e.Path,
		e.Status,
		nullString(e.IP),
		nullString(e.UserAgent),
		nullString(e.Note),
	).Scan(&e.ID, &e.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("audit: insert event: %w", err)
	}
	return e, nil
}

// searchWhere: $1 is the raw query, $2 the escaped ILIKE pattern.
const searchWhere = `
WHERE $1 = ''
   OR actor_email ILIKE $2 ESCAPE '\'
   OR actor_role ILIKE $2 ESCAPE '\'
   OR path ILIKE $2 ESCAPE '\'
   OR method ILIKE $2 ESCAPE '\'
   OR CAST(status AS TEXT) LIKE $2 ESCAPE '\'
   OR COALESCE(user_agent, '') ILIKE $2 ESCAPE '\'
`

func (r *PostgresRepo) Search(ctx context.Context, q string, page, size int) (Page, error) {
	page, size = ClampPage(page, size)
	q = strings.TrimSpace(q)
	pattern := "%" + escapeLike(q) + "%"

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+searchWhere, q, pattern).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("audit: count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events` + searchWhere +
		`ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, q, pattern, size, page*size)
	if err != nil {
		return Page{}, fmt.Errorf("audit: search events: %w", err)
	}
	defer rows.Close()

	var items []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return Page{}, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("audit: search events: %w", err)
	}
	return newPage(items, page, size, total), nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		n, err = execCount(ctx, tx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
		return err
	})
	return n, err
}

func (r *PostgresRepo) DeleteByMethods(ctx context.Context, methods []string) (int64, error) {
	in, args := methodList(methods, 1)
	if in == "" {
		return 0, nil
	}
	var n int64
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		n, err = execCount(ctx, tx, `DELETE FROM audit_events WHERE upper(method) IN (`+in+`)`, args...)
		return err
	})
	return n, err
}

func (r *PostgresRepo) DeleteExceptMethods(ctx context.Context, methods []string) (int64, error) {
	in, args := methodList(methods, 1)
	if in == "" {
		return 0, errors.New("audit: refusing to delete every method")
	}
	var n int64
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		n, err = execCount(ctx, tx, `DELETE FROM audit_events WHERE upper(method) NOT IN (`+in+`)`, args...)
		return err
	})
	return n, err
}

func (r *PostgresRepo) Purge(ctx context.Context, cutoff time.Time, keepMethods []string) (PurgeResult, error) {
	var res PurgeResult
	in, args := methodList(keepMethods, 1)

	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if in != "" {
			res.MethodDeleted, err = execCount(ctx, tx, `DELETE FROM audit_events WHERE upper(method) NOT IN (`+in+`)`, args...)
			if err != nil {
				return err
			}
		}
		res.ExpiredDeleted, err = execCount(ctx, tx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
		return err
	})
	if err != nil {
		return PurgeResult{}, err
	}
	return res, nil
}

func (r *PostgresRepo) ClearAll(ctx context.Context) (int64, error) {
	var n int64
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		n, err = execCount(ctx, tx, `DELETE FROM audit_events`)
		return err
	})
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (Event, error) {
	var (
		e                   Event
		ip, userAgent, note sql.NullString
	)
	if err := s.Scan(
		&e.ID,
		&e.CreatedAt,
		&e.ActorEmail,
		&e.ActorRole,
		&e.Method,
		&e.Path,
		&e.Status,
		&ip,
		&userAgent,
		&note,
	); err != nil {
		return Event{}, err
	}
	e.IP = ip.String
	e.UserAgent = userAgent.String
	e.Note = note.String
	return e, nil
}

func execCount(ctx context.Context, tx *sql.Tx, q string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("audit: delete events: %w", err)
	}
	return res.RowsAffected()
}

// methodList renders "$start,$start+1,..." for the upper-cased, de-duplicated methods.
func methodList(methods []string, start int) (string, []any) {
	var (
		ph   []string
		args []any
		seen = map[string]bool{}
	)
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		args = append(args, m)
		ph = append(ph, fmt.Sprintf("$%d", start+len(ph)))
	}
	return strings.Join(ph, ","), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
