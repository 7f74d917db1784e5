package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tacradio/internal/archive"
	"github.com/MrWong99/tacradio/internal/radio"
)

func turn(role radio.Role, content string) radio.Turn {
	return radio.Turn{ID: uuid.New(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func TestMemoryAppendList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := archive.NewMemory()

	a := turn(radio.RoleUser, "Identify subjects")
	b := turn(radio.RoleAssistant, "Two subjects near the gate.")
	c := turn(radio.RoleUser, "Track them")
	for _, x := range []radio.Turn{a, b, c, b} {
		if err := m.Append(ctx, "cam-1", x); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.Append(ctx, "cam-2", turn(radio.RoleUser, "other"))

	all, _ := m.List(ctx, "cam-1", 0)
	if len(all) != 3 || all[0].ID != a.ID || all[2].ID != c.ID {
		t.Fatalf("List = %+v", all)
	}

	recent, _ := m.List(ctx, "cam-1", 2)
	if len(recent) != 2 || recent[0].ID != b.ID || recent[1].ID != c.ID {
		t.Fatalf("List(limit 2) = %+v", recent)
	}
}

func TestMemoryWipe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := archive.NewMemory()
	_ = m.Append(ctx, "cam-1", turn(radio.RoleUser, "a"))
	_ = m.Append(ctx, "cam-2", turn(radio.RoleUser, "b"))

	if err := m.Wipe(ctx, "cam-1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.List(ctx, "cam-1", 0); len(got) != 0 {
		t.Fatalf("cam-1 still has %d turns", len(got))
	}
	if got, _ := m.List(ctx, "cam-2", 0); len(got) != 1 {
		t.Fatalf("cam-2 has %d turns, want 1", len(got))
	}
}
