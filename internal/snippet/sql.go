package snippet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/jqplay/internal/model"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	driver string
	// migrations[i] moves the schema from version i to i+1
	migrations []string
	version    string
	setVersion func(int) string
	upsert     string
	lookup     string
	stamp      func(time.Time) any
}

var sqliteDialect = dialect{
	driver: "sqlite",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS snippets (
			slug TEXT NOT NULL PRIMARY KEY,
			json TEXT NOT NULL DEFAULT '',
			http TEXT NOT NULL DEFAULT '',
			query TEXT NOT NULL,
			options TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		)`,
	},
	version:    `PRAGMA user_version`,
	setVersion: func(v int) string { return fmt.Sprintf(`PRAGMA user_version = %d`, v) },
	upsert: `INSERT INTO snippets (slug, json, http, query, options, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (slug)
		DO UPDATE SET json = excluded.json, http = excluded.http, query = excluded.query, options = excluded.options`,
	lookup: `SELECT slug, json, http, query, options, created_at FROM snippets WHERE slug = ?`,
	stamp:  func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
}

var postgresDialect = dialect{
	driver: "postgres",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS snippets (
			slug TEXT NOT NULL PRIMARY KEY,
			json TEXT NOT NULL DEFAULT '',
			http TEXT NOT NULL DEFAULT '',
			query TEXT NOT NULL,
			options TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	version: `SELECT COALESCE(MAX(version), 0) FROM schema_version`,
	setVersion: func(v int) string {
		return fmt.Sprintf(`INSERT INTO schema_version (version) VALUES (%d)`, v)
	},
	upsert: `INSERT INTO snippets (slug, json, http, query, options, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug)
		DO UPDATE SET json = excluded.json, http = excluded.http, query = excluded.query, options = excluded.options`,
	lookup: `SELECT slug, json, http, query, options, created_at FROM snippets WHERE slug = $1`,
	stamp:  func(t time.Time) any { return t.UTC() },
}

// SQL is a Backend on top of database/sql, either sqlite (modernc.org/sqlite)
// or postgres (lib/pq).
type SQL struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens or creates the sqlite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	return openSQL(ctx, sqliteDialect, dsn)
}

// OpenPostgres connects to the postgres database given by a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	return openSQL(ctx, postgresDialect, dsn)
}

func openSQL(ctx context.Context, d dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", model.ErrStorage, d.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: connecting to %s: %w", model.ErrStorage, d.driver, err)
	}
	s := &SQL{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrating %s: %w", model.ErrStorage, d.driver, err)
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "rolling back migration failed", "error", err)
		}
	}()

	// the first postgres migration creates the version table itself
	if s.dialect.driver == "postgres" {
		if _, err := tx.ExecContext(ctx, s.dialect.migrations[0]); err != nil {
			return err
		}
	}

	var version int
	if err := tx.QueryRowContext(ctx, s.dialect.version).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for v := version; v < len(s.dialect.migrations); v++ {
		if _, err := tx.ExecContext(ctx, s.dialect.migrations[v]); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.setVersion(v+1)); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) Upsert(ctx context.Context, rec model.SnippetRecord) error {
	http, options, err := encodeColumns(rec.Snippet)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.upsert,
		rec.Slug, rec.Input, http, rec.Query, options, s.dialect.stamp(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: upserting snippet: %w", model.ErrStorage, err)
	}
	return nil
}

func (s *SQL) Lookup(ctx context.Context, slug string) (model.SnippetRecord, error) {
	var (
		rec        model.SnippetRecord
		http, opts string
		createdAt  timestamp
	)
	err := s.db.QueryRowContext(ctx, s.dialect.lookup, slug).Scan(
		&rec.Slug,
		&rec.Input,
		&http,
		&rec.Query,
		&opts,
		&createdAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.SnippetRecord{}, fmt.Errorf("%w: %s", model.ErrNotFound, slug)
	case err != nil:
		return model.SnippetRecord{}, fmt.Errorf("%w: looking up snippet: %w", model.ErrStorage, err)
	}
	rec.HTTP, rec.Options = decodeColumns(ctx, http, opts)
	rec.CreatedAt = createdAt.Time
	return rec, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// encodeColumns serializes the structured fields, an absent http source is
// stored as an empty string.
func encodeColumns(s model.Snippet) (http, options string, err error) {
	if s.HTTP != nil {
		b, err := json.Marshal(s.HTTP)
		if err != nil {
			return "", "", fmt.Errorf("encoding http source: %w", err)
		}
		http = string(b)
	}
	opts := s.Options
	if opts == nil {
		opts = []model.Flag{}
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", "", fmt.Errorf("encoding options: %w", err)
	}
	return http, string(b), nil
}

// decodeColumns is lenient: a damaged column decodes to its empty value.
func decodeColumns(ctx context.Context, http, options string) (*model.HTTPRequest, []model.Flag) {
	var req *model.HTTPRequest
	if http != "" {
		req = &model.HTTPRequest{}
		if err := json.Unmarshal([]byte(http), req); err != nil {
			slog.WarnContext(ctx, "ignoring malformed http column", "error", err)
			req = nil
		}
	}
	opts := []model.Flag{}
	if err := json.Unmarshal([]byte(options), &opts); err != nil || opts == nil {
		opts = []model.Flag{}
	}
	return req, opts
}

// timestamp scans both sqlite text and postgres timestamptz columns.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(v any) error {
	switch v := v.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	return nil
}

func (t *timestamp) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	t.Time = parsed.UTC()
	return nil
}
