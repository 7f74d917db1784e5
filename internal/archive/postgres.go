package archive

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tacradio/internal/radio"
)

// Schema is the SQL DDL for the radio_turns table. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS radio_turns (
    seq        BIGSERIAL PRIMARY KEY,
    id         TEXT NOT NULL UNIQUE,
    target_id  TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_radio_turns_target ON radio_turns(target_id, seq);
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [radio.HistorySink] backed by PostgreSQL.
type Postgres struct {
	db   DB
	pool *pgxpool.Pool
}

var _ radio.HistorySink = (*Postgres)(nil)

// NewPostgres returns an archive using db. The caller is responsible for
// calling [Postgres.Migrate] before issuing queries.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects a pool to the database at dsn, verifies it, and runs
// [Postgres.Migrate].
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	p := &Postgres{db: pool, pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate executes [Schema].
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Ping checks the connection. It is a no-op when the archive was built with
// [NewPostgres].
func (p *Postgres) Ping(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

// Close releases the pool opened by [Open].
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Append implements [radio.HistorySink]. Re-appending a stored turn is a
// no-op.
func (p *Postgres) Append(ctx context.Context, target string, t radio.Turn) error {
	const q = `
		INSERT INTO radio_turns (id, target_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := p.db.Exec(ctx, q, t.ID.String(), target, string(t.Role), t.Content, t.Timestamp); err != nil {
		return fmt.Errorf("archive: append: %w", err)
	}
	return nil
}

// List implements [radio.HistorySink]. It returns the newest limit turns of
// target, oldest first. A non-positive limit returns every turn.
func (p *Postgres) List(ctx context.Context, target string, limit int) ([]radio.Turn, error) {
	const q = `
		SELECT id, role, content, created_at
		FROM (
		    SELECT seq, id, role, content, created_at
		    FROM   radio_turns
		    WHERE  target_id = $1
		    ORDER  BY seq DESC
		    LIMIT  $2
		) recent
		ORDER BY seq`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.db.Query(ctx, q, target, lim)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (radio.Turn, error) {
		var (
			t        radio.Turn
			id, role string
		)
		if err := row.Scan(&id, &role, &t.Content, &t.Timestamp); err != nil {
			return t, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return t, fmt.Errorf("turn id %q: %w", id, err)
		}
		t.ID = parsed
		t.Role = radio.Role(role)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return turns, nil
}

// Wipe implements [radio.HistorySink].
func (p *Postgres) Wipe(ctx context.Context, target string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM radio_turns WHERE target_id = $1`, target); err != nil {
		return fmt.Errorf("archive: wipe: %w", err)
	}
	return nil
}
