package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chaz8081/gostt-stream/internal/realtime"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id                BIGSERIAL    PRIMARY KEY,
    context_id        BIGINT       NOT NULL,
    job_id            BIGINT       NOT NULL,
    text              TEXT         NOT NULL,
    segments          JSONB        NOT NULL DEFAULT '[]',
    recording_ms      BIGINT       NOT NULL DEFAULT 0,
    stopped_by_action BOOLEAN      NOT NULL DEFAULT false,
    code              INTEGER      NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at DESC);
`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the transcripts table if it does not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Save(ctx context.Context, e Entry) (int64, error) {
	const q = `
		INSERT INTO transcripts
		    (context_id, job_id, text, segments, recording_ms, stopped_by_action, code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	segs := e.Segments
	if segs == nil {
		segs = []realtime.Segment{}
	}
	segJSON, err := json.Marshal(segs)
	if err != nil {
		return 0, fmt.Errorf("history: encode segments: %w", err)
	}

	var id int64
	err = p.pool.QueryRow(ctx, q,
		int64(e.ContextID),
		int64(e.JobID),
		e.Text,
		segJSON,
		e.RecordingTimeMs,
		e.StoppedByAction,
		e.Code,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("history: save: %w", err)
	}
	return id, nil
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	const q = `
		SELECT id, context_id, job_id, text, segments, recording_ms, stopped_by_action, code, created_at
		FROM   transcripts
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			ctxID   int64
			jobID   int64
			segJSON []byte
		)
		if err := row.Scan(&e.ID, &ctxID, &jobID, &e.Text, &segJSON,
			&e.RecordingTimeMs, &e.StoppedByAction, &e.Code, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		e.ContextID = realtime.ContextID(ctxID)
		e.JobID = realtime.JobID(jobID)
		if err := json.Unmarshal(segJSON, &e.Segments); err != nil {
			return Entry{}, fmt.Errorf("decode segments: %w", err)
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return entries, nil
}

// Ping checks the connection. It serves as a readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
