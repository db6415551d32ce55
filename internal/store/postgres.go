// Package store is the Postgres-backed authoritative job store as seen by
// the ingestion pipeline: schema bootstrap and insert-if-absent by external id.
package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobboard/ingestion-service/internal/model"
)

// schema is applied idempotently at startup. external_id is NULL for jobs
// created manually by users, and UNIQUE allows any number of NULLs, so the two
// identity schemes never collide.
const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS jobs (
    id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    external_id      TEXT UNIQUE,
    title            TEXT        NOT NULL,
    description      TEXT        NOT NULL DEFAULT '',
    location         TEXT        NOT NULL DEFAULT '',
    salary           DOUBLE PRECISION,
    employment_types TEXT[]      NOT NULL DEFAULT '{}',
    employer_name    TEXT        NOT NULL DEFAULT '',
    employer_logo    TEXT        NOT NULL DEFAULT '',
    apply_url        TEXT        NOT NULL DEFAULT '',
    source           TEXT        NOT NULL DEFAULT '',
    likes            INTEGER     NOT NULL DEFAULT 0,
    applicants       TEXT[]      NOT NULL DEFAULT '{}',
    status           TEXT        NOT NULL DEFAULT 'Pending',
    posted_by        UUID,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC);
`

const jobColumns = `id::text, external_id, title, description, location, salary,
       employment_types, employer_name, employer_logo, apply_url, source,
       likes, applicants, status, posted_by::text, created_at`

// Postgres implements ingest.Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the jobs table if it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "ensure jobs schema")
	}
	return nil
}

// AtomicInsert reports that InsertIfAbsent is a single atomic statement.
func (p *Postgres) AtomicInsert() bool { return true }

// InsertIfAbsent creates an Approved job for l unless a job with the same
// external id already exists, in which case the existing row is left
// untouched and inserted is false.
func (p *Postgres) InsertIfAbsent(ctx context.Context, l model.ExternalListing) (model.PersistedJob, bool, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO jobs (external_id, title, description, location, salary,
		                   employment_types, employer_name, employer_logo, apply_url,
		                   source, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING `+jobColumns,
		l.ExternalID, l.Title, l.Description, l.Location, l.Salary,
		l.EmploymentTypes, l.EmployerName, l.EmployerLogo, l.ApplyURL,
		l.Source, model.JobStatusApproved,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PersistedJob{}, false, nil
	}
	if err != nil {
		return model.PersistedJob{}, false, errors.Wrapf(err, "insert job %s", l.ExternalID)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (model.PersistedJob, error) {
	var j model.PersistedJob
	err := row.Scan(
		&j.ID, &j.ExternalID, &j.Title, &j.Description, &j.Location, &j.Salary,
		&j.EmploymentTypes, &j.EmployerName, &j.EmployerLogo, &j.ApplyURL, &j.Source,
		&j.Likes, &j.Applicants, &j.Status, &j.PostedBy, &j.CreatedAt,
	)
	return j, err
}
