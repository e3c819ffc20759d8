// Package postgres provides a PostgreSQL-backed archive for finalized
// conversation transcripts.
//
// Each call ends with an ordered list of sealed transcript segments; the
// store writes them under a session ID so past conversations can be listed
// and reviewed later. The store runs its own schema migration on startup.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.ArchiveSession(ctx, sessionID, segments)
//	log, _ := store.SessionLog(ctx, sessionID)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxhall/voxhall/pkg/transcript"
)

const ddlTranscriptSegments = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    id         BIGSERIAL    PRIMARY KEY,
    session_id TEXT         NOT NULL,
    position   INT          NOT NULL,
    speaker    TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_session
    ON transcript_segments (session_id, position);

CREATE INDEX IF NOT EXISTS idx_transcript_segments_created_at
    ON transcript_segments (created_at);
`

// Store archives finalized transcripts in PostgreSQL. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection, and
// ensures the transcript_segments table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlTranscriptSegments); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ArchiveSession writes the finalized segments of one session in order.
// An empty log writes nothing and returns nil.
func (s *Store) ArchiveSession(ctx context.Context, sessionID string, log []transcript.Segment) error {
	if len(log) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const q = `
		INSERT INTO transcript_segments (session_id, position, speaker, text)
		VALUES ($1, $2, $3, $4)`
	for i, seg := range log {
		batch.Queue(q, sessionID, i, string(seg.Speaker), seg.Text)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("transcript store: archive session: %w", err)
	}
	return nil
}

// SessionLog returns the archived transcript for sessionID in segment
// order. All returned segments are final.
func (s *Store) SessionLog(ctx context.Context, sessionID string) ([]transcript.Segment, error) {
	const q = `
		SELECT speaker, text
		FROM   transcript_segments
		WHERE  session_id = $1
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript store: session log: %w", err)
	}
	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Segment, error) {
		var speaker, text string
		if err := row.Scan(&speaker, &text); err != nil {
			return transcript.Segment{}, err
		}
		return transcript.Segment{Speaker: transcript.Speaker(speaker), Text: text, Final: true}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if segs == nil {
		segs = []transcript.Segment{}
	}
	return segs, nil
}

// SessionInfo is a summary row for one archived session.
type SessionInfo struct {
	SessionID string
	Segments  int
	StartedAt time.Time
}

// RecentSessions lists the most recently archived sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	const q = `
		SELECT session_id, count(*), min(created_at)
		FROM   transcript_segments
		GROUP  BY session_id
		ORDER  BY min(created_at) DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent sessions: %w", err)
	}
	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionInfo, error) {
		var info SessionInfo
		if err := row.Scan(&info.SessionID, &info.Segments, &info.StartedAt); err != nil {
			return SessionInfo{}, err
		}
		return info, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if infos == nil {
		infos = []SessionInfo{}
	}
	return infos, nil
}

// Ping verifies the database connection. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript store: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
