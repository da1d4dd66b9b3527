package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/edge"
)

// Schema creates the ledger tables when they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS deploy_runs (
	id               UUID PRIMARY KEY,
	name             TEXT NOT NULL,
	status           TEXT NOT NULL,
	url              TEXT NOT NULL DEFAULT '',
	plan_digest      TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	failed_resources TEXT[] NOT NULL DEFAULT '{}',
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS deploy_runs_name_started ON deploy_runs (name, started_at DESC);

CREATE TABLE IF NOT EXISTS deploy_objects (
	run_id        UUID NOT NULL REFERENCES deploy_runs (id),
	store_key     TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	resource_name TEXT NOT NULL,
	cache_control TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	etag          TEXT NOT NULL DEFAULT '',
	size          BIGINT NOT NULL,
	uploaded      BOOLEAN NOT NULL,
	PRIMARY KEY (run_id, store_key)
);

CREATE TABLE IF NOT EXISTS distribution_state (
	name       TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// PGLedger persists the ledger in Postgres.
type PGLedger struct {
	db *sql.DB
}

// OpenPostgres opens and pings a pooled connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func NewPGLedger(db *sql.DB) *PGLedger {
	return &PGLedger{db: db}
}

func (p *PGLedger) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

func (p *PGLedger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGLedger) BeginRun(ctx context.Context, name string) (Run, error) {
	run := Run{ID: uuid.New(), Name: name, Status: RunRunning, StartedAt: time.Now().UTC()}
	q := `
		INSERT INTO deploy_runs (id, name, status, started_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := p.db.ExecContext(ctx, q, run.ID, run.Name, run.Status, run.StartedAt); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (p *PGLedger) FinishRun(ctx context.Context, id uuid.UUID, out Outcome) error {
	q := `
		UPDATE deploy_runs
		SET status = $1, url = $2, plan_digest = $3, error = $4, failed_resources = $5, finished_at = $6
		WHERE id = $7
	`
	failed := out.FailedResources
	if failed == nil {
		failed = []string{}
	}
	res, err := p.db.ExecContext(ctx, q, out.Status, out.URL, out.PlanDigest, out.Error,
		pq.Array(failed), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PGLedger) RecordObjects(ctx context.Context, runID uuid.UUID, records []assets.ObjectRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := `
		INSERT INTO deploy_objects (run_id, store_key, fingerprint, resource_name, cache_control, content_type, etag, size, uploaded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, store_key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint, etag = EXCLUDED.etag, size = EXCLUDED.size, uploaded = EXCLUDED.uploaded
	`
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, q, runID, r.StoreKey, r.Fingerprint, r.ResourceName,
			r.CacheControl, r.ContentType, r.ETag, r.Size, r.Uploaded); err != nil {
			return fmt.Errorf("insert object %s: %w", r.StoreKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit objects: %w", err)
	}
	return nil
}

func (p *PGLedger) LastRun(ctx context.Context, name string) (Run, error) {
	q := `
		SELECT id, name, status, url, plan_digest, error, failed_resources, started_at, finished_at
		FROM deploy_runs
		WHERE name = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	var (
		run      Run
		finished sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, q, name).Scan(&run.ID, &run.Name, &run.Status, &run.URL,
		&run.PlanDigest, &run.Error, pq.Array(&run.FailedResources), &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("select run: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return run, nil
}

func (p *PGLedger) DistributionState(ctx context.Context, name string) (edge.State, error) {
	var state string
	err := p.db.QueryRowContext(ctx, `SELECT state FROM distribution_state WHERE name = $1`, name).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return edge.StateUnprovisioned, nil
	}
	if err != nil {
		return "", fmt.Errorf("select distribution state: %w", err)
	}
	return edge.State(state), nil
}

func (p *PGLedger) SetDistributionState(ctx context.Context, name string, state edge.State) error {
	q := `
		INSERT INTO distribution_state (name, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.ExecContext(ctx, q, name, string(state), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert distribution state: %w", err)
	}
	return nil
}
