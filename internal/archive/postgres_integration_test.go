package archive_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/tacradio/internal/archive"
	"github.com/MrWong99/tacradio/internal/radio"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if TACRADIO_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TACRADIO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TACRADIO_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestArchive(t *testing.T) *archive.Postgres {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS radio_turns`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	a, err := archive.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestPostgresRoundTrip(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	first := turn(radio.RoleUser, "Report vehicle movement")
	second := turn(radio.RoleAssistant, "One truck heading north.")
	third := turn(radio.RoleUser, "Hold")
	for _, x := range []radio.Turn{first, second, third, second} {
		if err := a.Append(ctx, "cam-1", x); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := a.List(ctx, "cam-1", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != third.ID {
		t.Fatalf("List = %+v", got)
	}
	if !got[0].Timestamp.Equal(second.Timestamp.Truncate(time.Microsecond)) {
		t.Fatalf("timestamp = %v, want %v", got[0].Timestamp, second.Timestamp)
	}

	if err := a.Wipe(ctx, "cam-1"); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	if got, _ := a.List(ctx, "cam-1", 0); len(got) != 0 {
		t.Fatalf("after Wipe: %d turns", len(got))
	}
}
