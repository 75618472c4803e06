package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/DukeRupert/eightd/internal/snapshot"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported SQL dialects.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// sqliteTimeLayout is fixed-width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore stores sessions in a report_sessions table. The schema is
// created by the embedded goose migrations.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database. dialect is DialectPostgres or
// DialectSQLite.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported session store dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// OpenSQLite opens a SQLite database file with WAL journaling.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// OpenPostgres opens a Postgres database through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

// Dialect returns the SQL dialect of the store.
func (s *SQLStore) Dialect() string {
	return s.dialect
}

func (s *SQLStore) Create(ctx context.Context, sess *domain.Session) error {
	const op = "session.create"

	state, err := encodeState(op, sess)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO report_sessions (id, state, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		sess.ID.String(), state, s.timeArg(sess.CreatedAt), s.timeArg(sess.UpdatedAt),
	)
	if err != nil {
		return domain.Internal(err, op, "failed to create report session")
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	const op = "session.get"

	var (
		state              pqtype.NullRawMessage
		createdAt, updated any
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT state, created_at, updated_at FROM report_sessions WHERE id = ?`),
		id.String(),
	).Scan(&state, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(op, id)
		}
		return nil, domain.Internal(err, op, "failed to load report session")
	}
	if !state.Valid {
		return nil, domain.Errorf(domain.EINTERNAL, op, "report session %s has no state", id)
	}

	sess := &domain.Session{ID: id, State: &domain.ReportState{}}
	if err := snapshot.Decode(state.RawMessage, sess.State); err != nil {
		return nil, domain.Internal(err, op, "stored report state is corrupt")
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, domain.Internal(err, op, "invalid created_at")
	}
	if sess.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, domain.Internal(err, op, "invalid updated_at")
	}
	return sess, nil
}

func (s *SQLStore) Update(ctx context.Context, sess *domain.Session) error {
	const op = "session.update"

	state, err := encodeState(op, sess)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE report_sessions SET state = ?, updated_at = ? WHERE id = ?`),
		state, s.timeArg(sess.UpdatedAt), sess.ID.String(),
	)
	if err != nil {
		return domain.Internal(err, op, "failed to update report session")
	}
	return expectRow(res, op, sess.ID)
}

func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "session.delete"

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM report_sessions WHERE id = ?`), id.String())
	if err != nil {
		return domain.Internal(err, op, "failed to delete report session")
	}
	return expectRow(res, op, id)
}

func (s *SQLStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "session.delete_expired"

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM report_sessions WHERE updated_at < ?`), s.timeArg(cutoff))
	if err != nil {
		return 0, domain.Internal(err, op, "failed to purge expired sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Internal(err, op, "failed to count purged sessions")
	}
	return n, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// Helpers
// =============================================================================

// rebind rewrites ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) timeArg(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(sqliteTimeLayout, t)
	case []byte:
		return time.Parse(sqliteTimeLayout, string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func encodeState(op string, sess *domain.Session) (pqtype.NullRawMessage, error) {
	data, err := snapshot.Encode(sess.State)
	if err != nil {
		return pqtype.NullRawMessage{}, domain.Internal(err, op, "failed to encode report state")
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

func expectRow(res sql.Result, op string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Internal(err, op, "failed to read affected rows")
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}
