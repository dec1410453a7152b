package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"linkcheck/internal/models"
	"linkcheck/internal/storage"
)

// SQLiteStore implements storage.Storer on an embedded SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database file and runs migrations.
// Use ":memory:" for a throwaway database.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS targets (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	canonical_url TEXT NOT NULL UNIQUE,
	host          TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_targets_created_at_id ON targets (created_at, id);
CREATE INDEX IF NOT EXISTS idx_targets_host ON targets (host);

CREATE TABLE IF NOT EXISTS check_results (
	id            TEXT PRIMARY KEY,
	target_id     TEXT NOT NULL,
	checked_at    TEXT NOT NULL,
	status_code   INTEGER,
	latency_ms    INTEGER NOT NULL,
	error         TEXT,
	verdict       TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	warnings      TEXT NOT NULL DEFAULT '[]',
	effective_url TEXT,
	FOREIGN KEY(target_id) REFERENCES targets(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_check_results_target_id_checked_at ON check_results (target_id, checked_at DESC);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key          TEXT PRIMARY KEY,
	target_id    TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY(target_id) REFERENCES targets(id)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const targetColumns = `id, url, canonical_url, host, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (*models.Target, error) {
	var t models.Target
	var createdAt string
	if err := row.Scan(&t.ID, &t.URL, &t.CanonicalURL, &t.Host, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &t, nil
}

// CreateTarget saves a new target. A replayed idempotency key returns the
// target it first created; a known canonical URL returns the existing
// target together with storage.ErrDuplicateKey.
func (s *SQLiteStore) CreateTarget(ctx context.Context, target *models.Target, idempotencyKey *string) (*models.Target, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	if idempotencyKey != nil {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT target_id FROM idempotency_keys WHERE key = ?`, *idempotencyKey).Scan(&existingID)
		if err == nil {
			return s.getTarget(ctx, tx, existingID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO targets (`+targetColumns+`)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(canonical_url) DO NOTHING`,
		target.ID, target.URL, target.CanonicalURL, target.Host, target.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to insert target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := scanTarget(tx.QueryRowContext(ctx,
			`SELECT `+targetColumns+` FROM targets WHERE canonical_url = ?`, target.CanonicalURL))
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve existing target: %w", err)
		}
		return existing, storage.ErrDuplicateKey
	}

	if idempotencyKey != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO idempotency_keys (key, target_id, created_at) VALUES (?, ?, ?)`,
			*idempotencyKey, target.ID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("failed to record idempotency key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return target, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getTarget(ctx context.Context, q querier, id string) (*models.Target, error) {
	t, err := scanTarget(q.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target by id: %w", err)
	}
	return t, nil
}

// GetTargetByID retrieves a single target by its unique ID.
func (s *SQLiteStore) GetTargetByID(ctx context.Context, id string) (*models.Target, error) {
	return s.getTarget(ctx, s.db, id)
}

// ListTargets retrieves a page of targets ordered by creation time.
func (s *SQLiteStore) ListTargets(ctx context.Context, params storage.ListTargetsParams) ([]models.Target, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + targetColumns + " FROM targets WHERE 1=1")
	if params.Host != "" {
		args = append(args, params.Host)
		qb.WriteString(" AND host = ?")
	}
	if !params.AfterTime.IsZero() && params.AfterID != "" {
		args = append(args, params.AfterTime.Format(time.RFC3339Nano), params.AfterID)
		qb.WriteString(" AND (created_at, id) > (?, ?)")
	}
	qb.WriteString(" ORDER BY created_at, id LIMIT ?")
	args = append(args, params.Limit)

	return s.queryTargets(ctx, qb.String(), args...)
}

// GetAllTargets retrieves every target, for the scheduler.
func (s *SQLiteStore) GetAllTargets(ctx context.Context) ([]models.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at, id`)
}

func (s *SQLiteStore) queryTargets(ctx context.Context, query string, args ...any) ([]models.Target, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// CreateCheckResult saves a check result. Warnings are stored as a JSON array.
func (s *SQLiteStore) CreateCheckResult(ctx context.Context, result *models.CheckResult) error {
	if result.ID == "" {
		result.ID = storage.NewID("cr_")
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	encoded, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO check_results (id, target_id, checked_at, status_code, latency_ms, error, verdict, message, warnings, effective_url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.TargetID, result.CheckedAt.Format(time.RFC3339Nano), result.StatusCode,
		result.LatencyMS, result.Error, result.Verdict, result.Message, string(encoded), result.EffectiveURL)
	if err != nil {
		return fmt.Errorf("failed to create check result: %w", err)
	}
	return nil
}

// ListCheckResultsByTargetID retrieves recent check results for a target.
func (s *SQLiteStore) ListCheckResultsByTargetID(ctx context.Context, params storage.ListCheckResultsParams) ([]models.CheckResult, error) {
	args := []any{params.TargetID}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, target_id, checked_at, status_code, latency_ms, error, verdict, message, warnings, effective_url
FROM check_results WHERE target_id = ?`)
	if params.Since != nil {
		args = append(args, params.Since.Format(time.RFC3339Nano))
		qb.WriteString(" AND checked_at > ?")
	}
	qb.WriteString(" ORDER BY checked_at DESC LIMIT ?")
	args = append(args, params.Limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check results: %w", err)
	}
	defer rows.Close()

	var results []models.CheckResult
	for rows.Next() {
		var r models.CheckResult
		var checkedAt, warnings string
		if err := rows.Scan(&r.ID, &r.TargetID, &checkedAt, &r.StatusCode, &r.LatencyMS, &r.Error,
			&r.Verdict, &r.Message, &warnings, &r.EffectiveURL); err != nil {
			return nil, fmt.Errorf("failed to scan check result row: %w", err)
		}
		r.CheckedAt, _ = time.Parse(time.RFC3339Nano, checkedAt)
		if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings of %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
