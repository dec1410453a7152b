package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"linkcheck/internal/models"
	"linkcheck/internal/storage"
)

// PostgresStore implements storage.Storer for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a connection pool and runs migrations.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS targets (
		id            TEXT PRIMARY KEY,
		url           TEXT NOT NULL,
		canonical_url TEXT NOT NULL UNIQUE,
		host          TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_targets_created_at_id ON targets (created_at, id);
	CREATE INDEX IF NOT EXISTS idx_targets_host ON targets (host);

	CREATE TABLE IF NOT EXISTS check_results (
		id            TEXT PRIMARY KEY,
		target_id     TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		checked_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status_code   INTEGER,
		latency_ms    INTEGER NOT NULL,
		error         TEXT,
		verdict       TEXT NOT NULL,
		message       TEXT NOT NULL DEFAULT '',
		warnings      TEXT[] NOT NULL DEFAULT '{}',
		effective_url TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_check_results_target_id_checked_at ON check_results (target_id, checked_at DESC);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		key          TEXT PRIMARY KEY,
		target_id    TEXT NOT NULL REFERENCES targets(id),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

const targetColumns = `id, url, canonical_url, host, created_at`

func scanTarget(row pgx.Row) (*models.Target, error) {
	var t models.Target
	if err := row.Scan(&t.ID, &t.URL, &t.CanonicalURL, &t.Host, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTarget saves a new target inside one transaction, honouring the
// idempotency key and the canonical URL uniqueness the same way the SQLite
// store does.
func (s *PostgresStore) CreateTarget(ctx context.Context, target *models.Target, idempotencyKey *string) (*models.Target, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != nil {
		var existingID string
		err := tx.QueryRow(ctx, `SELECT target_id FROM idempotency_keys WHERE key = $1`, *idempotencyKey).Scan(&existingID)
		if err == nil {
			return s.getTarget(ctx, tx, existingID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
	INSERT INTO targets (`+targetColumns+`)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (canonical_url) DO NOTHING`,
		target.ID, target.URL, target.CanonicalURL, target.Host, target.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := scanTarget(tx.QueryRow(ctx,
			`SELECT `+targetColumns+` FROM targets WHERE canonical_url = $1`, target.CanonicalURL))
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve existing target: %w", err)
		}
		return existing, storage.ErrDuplicateKey
	}

	if idempotencyKey != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO idempotency_keys (key, target_id, created_at) VALUES ($1, $2, $3)`,
			*idempotencyKey, target.ID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("failed to record idempotency key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return target, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getTarget(ctx context.Context, q querier, id string) (*models.Target, error) {
	t, err := scanTarget(q.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target by id: %w", err)
	}
	return t, nil
}

// GetTargetByID implements the Storer interface.
func (s *PostgresStore) GetTargetByID(ctx context.Context, id string) (*models.Target, error) {
	return s.getTarget(ctx, s.db, id)
}

// ListTargets implements the Storer interface.
func (s *PostgresStore) ListTargets(ctx context.Context, params storage.ListTargetsParams) ([]models.Target, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT " + targetColumns + " FROM targets WHERE TRUE")
	if params.Host != "" {
		args = append(args, params.Host)
		fmt.Fprintf(&qb, " AND host = $%d", len(args))
	}
	if !params.AfterTime.IsZero() && params.AfterID != "" {
		args = append(args, params.AfterTime, params.AfterID)
		fmt.Fprintf(&qb, " AND (created_at, id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, params.Limit)
	fmt.Fprintf(&qb, " ORDER BY created_at, id LIMIT $%d", len(args))

	return s.queryTargets(ctx, qb.String(), args...)
}

// GetAllTargets implements the Storer interface.
func (s *PostgresStore) GetAllTargets(ctx context.Context) ([]models.Target, error) {
	return s.queryTargets(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at, id`)
}

func (s *PostgresStore) queryTargets(ctx context.Context, query string, args ...any) ([]models.Target, error) {
	rows, err := s.db.Query(ctx, query, args...)
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

// CreateCheckResult implements the Storer interface.
func (s *PostgresStore) CreateCheckResult(ctx context.Context, result *models.CheckResult) error {
	if result.ID == "" {
		result.ID = storage.NewID("cr_")
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	_, err := s.db.Exec(ctx, `
	INSERT INTO check_results (id, target_id, checked_at, status_code, latency_ms, error, verdict, message, warnings, effective_url)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		result.ID, result.TargetID, result.CheckedAt, result.StatusCode, result.LatencyMS,
		result.Error, result.Verdict, result.Message, warnings, result.EffectiveURL)
	if err != nil {
		return fmt.Errorf("failed to create check result: %w", err)
	}
	return nil
}

// ListCheckResultsByTargetID implements the Storer interface.
func (s *PostgresStore) ListCheckResultsByTargetID(ctx context.Context, params storage.ListCheckResultsParams) ([]models.CheckResult, error) {
	args := []any{params.TargetID}
	qb := strings.Builder{}
	qb.WriteString(`SELECT id, target_id, checked_at, status_code, latency_ms, error, verdict, message, warnings, effective_url
	FROM check_results WHERE target_id = $1`)
	if params.Since != nil {
		args = append(args, *params.Since)
		fmt.Fprintf(&qb, " AND checked_at > $%d", len(args))
	}
	args = append(args, params.Limit)
	fmt.Fprintf(&qb, " ORDER BY checked_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list check results: %w", err)
	}
	defer rows.Close()

	var results []models.CheckResult
	for rows.Next() {
		var r models.CheckResult
		if err := rows.Scan(&r.ID, &r.TargetID, &r.CheckedAt, &r.StatusCode, &r.LatencyMS, &r.Error,
			&r.Verdict, &r.Message, &r.Warnings, &r.EffectiveURL); err != nil {
			return nil, fmt.Errorf("failed to scan check result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
