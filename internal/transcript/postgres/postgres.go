// Package postgres implements [transcript.Store] on PostgreSQL using pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/juicio/internal/court"
	"github.com/MrWong99/juicio/internal/transcript"
)

// Schema is the DDL for the transcript table. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS trial_transcripts (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT        NOT NULL,
    utterance_id TEXT        NOT NULL DEFAULT '',
    speaker      TEXT        NOT NULL,
    kind         TEXT        NOT NULL DEFAULT 'dialogue',
    text         TEXT        NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trial_transcripts_session ON trial_transcripts(session_id, id);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [transcript.Store] backed by a PostgreSQL database.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ transcript.Store = (*Store)(nil)

// NewStore creates a Store that uses the given connection or pool. The caller
// is responsible for calling [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to the database at dsn, verifies it with a ping and
// runs [Store.Migrate]. The returned Store owns the pool; call [Store.Close]
// to release it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript: ping: %w", err)
	}

	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores created
// with [NewStore].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the database is reachable. It satisfies the readiness
// checker signature of the health package.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("transcript: ping: %w", err)
	}
	return nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	return nil
}

// Append implements [transcript.Store].
func (s *Store) Append(ctx context.Context, sessionID string, e transcript.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO trial_transcripts (session_id, utterance_id, speaker, kind, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.Exec(ctx, query,
		sessionID, e.UtteranceID, e.Speaker.String(), string(e.Kind), e.Text, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// List implements [transcript.Store]. Seq is derived from insertion order.
func (s *Store) List(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	const query = `
		SELECT row_number() OVER (ORDER BY id), utterance_id, speaker, kind, text, created_at
		FROM trial_transcripts
		WHERE session_id = $1
		ORDER BY id`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	defer rows.Close()

	entries := []transcript.Entry{}
	for rows.Next() {
		var (
			e             transcript.Entry
			speaker, kind string
		)
		if err := rows.Scan(&e.Seq, &e.UtteranceID, &speaker, &kind, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcript: list scan: %w", err)
		}
		if e.Speaker, err = court.ParseSpeaker(speaker); err != nil {
			return nil, fmt.Errorf("transcript: list row %d: %w", e.Seq, err)
		}
		e.Kind = transcript.Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: list: %w", err)
	}
	return entries, nil
}
