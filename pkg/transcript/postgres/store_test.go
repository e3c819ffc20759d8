package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxhall/voxhall/pkg/transcript"
	"github.com/voxhall/voxhall/pkg/transcript/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXHALL_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXHALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXHALL_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema, plus a
// bare pool for direct table manipulation. Both are closed via t.Cleanup.
func newTestStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcript_segments CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store, pool
}

// sampleLog returns a finalized two-turn conversation.
func sampleLog() []transcript.Segment {
	return []transcript.Segment{
		{Speaker: transcript.SpeakerUser, Text: "what time is it", Final: true},
		{Speaker: transcript.SpeakerModel, Text: "it is half past nine", Final: true},
		{Speaker: transcript.SpeakerUser, Text: "thanks", Final: true},
	}
}

func TestArchiveSession_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	want := sampleLog()
	if err := store.ArchiveSession(ctx, "session-1", want); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	got, err := store.SessionLog(ctx, "session-1")
	if err != nil {
		t.Fatalf("SessionLog: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("SessionLog length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Speaker != want[i].Speaker || got[i].Text != want[i].Text {
			t.Errorf("segment[%d] = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].Final {
			t.Errorf("segment[%d] not marked final", i)
		}
	}
}

func TestArchiveSession_EmptyLogWritesNothing(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.ArchiveSession(ctx, "session-empty", nil); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	log, err := store.SessionLog(ctx, "session-empty")
	if err != nil {
		t.Fatalf("SessionLog: %v", err)
	}
	if len(log) != 0 {
		t.Errorf("SessionLog = %+v, want empty", log)
	}
}

func TestSessionLog_UnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	log, err := store.SessionLog(context.Background(), "never-archived")
	if err != nil {
		t.Fatalf("SessionLog: %v", err)
	}
	if log == nil || len(log) != 0 {
		t.Errorf("SessionLog = %#v, want an empty non-nil slice", log)
	}
}

func TestRecentSessions_NewestFirst(t *testing.T) {
	store, pool := newTestStore(t)
	ctx := context.Background()

	if err := store.ArchiveSession(ctx, "session-old", sampleLog()); err != nil {
		t.Fatalf("ArchiveSession old: %v", err)
	}
	// Backdate the first session so the ordering is unambiguous.
	if _, err := pool.Exec(ctx,
		"UPDATE transcript_segments SET created_at = created_at - interval '1 hour' WHERE session_id = $1",
		"session-old"); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := store.ArchiveSession(ctx, "session-new",
		[]transcript.Segment{{Speaker: transcript.SpeakerUser, Text: "hello again", Final: true}}); err != nil {
		t.Fatalf("ArchiveSession new: %v", err)
	}

	infos, err := store.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("RecentSessions length = %d, want 2", len(infos))
	}
	if infos[0].SessionID != "session-new" || infos[1].SessionID != "session-old" {
		t.Errorf("order = [%s %s], want [session-new session-old]",
			infos[0].SessionID, infos[1].SessionID)
	}
	if infos[0].Segments != 1 || infos[1].Segments != 3 {
		t.Errorf("segment counts = [%d %d], want [1 3]", infos[0].Segments, infos[1].Segments)
	}
	if !infos[0].StartedAt.After(infos[1].StartedAt) {
		t.Errorf("StartedAt not descending: %v then %v", infos[0].StartedAt, infos[1].StartedAt)
	}

	limited, err := store.RecentSessions(ctx, 1)
	if err != nil {
		t.Fatalf("RecentSessions limit: %v", err)
	}
	if len(limited) != 1 || limited[0].SessionID != "session-new" {
		t.Errorf("RecentSessions(1) = %+v, want only session-new", limited)
	}
}

func TestPing(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
