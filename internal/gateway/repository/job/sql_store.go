package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// dialect papers over the few differences between postgres and sqlite.
type dialect struct {
	name      string
	blobType  string
	forUpdate string
	dollar    bool
}

var (
	postgresDialect = dialect{name: "pgx", blobType: "BYTEA", forUpdate: " FOR UPDATE", dollar: true}
	sqliteDialect   = dialect{name: "sqlite", blobType: "BLOB"}
)

// rebind turns ? placeholders into $n for postgres.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore keeps jobs in postgres (driver "pgx") or sqlite (driver "sqlite").
// Timestamps are stored as unix milliseconds so both engines share one schema.
type SQLStore struct {
	db         *sql.DB
	d          dialect
	now        func() time.Time
	schemaOnce sync.Once
	schemaErr  error
}

// OpenPostgres opens a pgx-backed store.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect)
}

// OpenSQLite opens a file-backed sqlite store.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d, now: time.Now}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("job schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS analysis_jobs (
  id TEXT PRIMARY KEY,
  repo TEXT NOT NULL,
  target_os TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  sealed ` + s.d.blobType + `,
  status TEXT NOT NULL,
  result TEXT,
  error TEXT NOT NULL DEFAULT '',
  error_kind TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs (status, created_at)`,
		}
		for _, q := range stmts {
			if _, err := s.db.Exec(q); err != nil {
				s.schemaErr = err
				return
			}
		}
	})
	return s.schemaErr
}

const jobColumns = `id, repo, target_os, model, sealed, status, result, error, error_kind, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j                Job
		status           string
		result           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&j.ID, &j.Repo, &j.TargetOS, &j.Model, &j.Sealed, &status, &result, &j.Error, &j.ErrorKind, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	j.Status = Status(status)
	if result.Valid && result.String != "" {
		j.Result = []byte(result.String)
	}
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}

func nullResult(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func (s *SQLStore) Create(ctx context.Context, j Job) error {
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	now := s.now().UTC()
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(`INSERT INTO analysis_jobs (`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		j.ID, j.Repo, j.TargetOS, j.Model, j.Sealed, string(j.Status), nullResult(j.Result), j.Error, j.ErrorKind,
		j.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`), strings.TrimSpace(id))
	j, err := scanJob(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *SQLStore) Update(ctx context.Context, id string, status Status, opts ...UpdateOption) (Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.d.rebind(`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = ?`+s.d.forUpdate), strings.TrimSpace(id))
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := checkTransition(j.Status, status); err != nil {
		return Job{}, err
	}
	applyUpdate(&j, status, opts, s.now().UTC())

	_, err = tx.ExecContext(ctx, s.d.rebind(`UPDATE analysis_jobs
SET status = ?, sealed = ?, result = ?, error = ?, error_kind = ?, updated_at = ?
WHERE id = ?`),
		string(j.Status), j.Sealed, nullResult(j.Result), j.Error, j.ErrorKind, j.UpdatedAt.UnixMilli(), j.ID)
	if err != nil {
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("update job: %w", err)
	}
	return j, nil
}

func (s *SQLStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT `+jobColumns+` FROM analysis_jobs
WHERE status = ? ORDER BY created_at, id LIMIT ?`), string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	out := make([]Job, 0, 8)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
