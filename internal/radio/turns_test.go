package radio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/tacradio/internal/radio"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestReconcilerTurnComplete(t *testing.T) {
	t.Parallel()

	r := radio.NewReconciler(fixedClock())
	r.OperatorText("Status")
	r.OperatorText("Status report")
	r.AssistantDelta("All ")
	r.AssistantDelta("quiet.")

	in, out := r.Live()
	if in != "Status report" || out != "All quiet." {
		t.Fatalf("live = %q / %q", in, out)
	}

	added := r.TurnComplete()
	if len(added) != 2 {
		t.Fatalf("added %d turns, want 2", len(added))
	}
	if added[0].Role != radio.RoleUser || added[0].Content != "Status report" {
		t.Fatalf("first turn = %+v", added[0])
	}
	if added[1].Role != radio.RoleAssistant || added[1].Content != "All quiet." {
		t.Fatalf("second turn = %+v", added[1])
	}
	if added[0].ID == added[1].ID {
		t.Fatal("turn IDs are not unique")
	}

	in, out = r.Live()
	if in != "" || out != "" {
		t.Fatalf("accumulators not cleared: %q / %q", in, out)
	}
}

func TestReconcilerTurnCompleteIsIdempotent(t *testing.T) {
	t.Parallel()

	r := radio.NewReconciler(fixedClock())
	r.AssistantDelta("Perimeter clear")
	r.TurnComplete()

	if added := r.TurnComplete(); len(added) != 0 {
		t.Fatalf("second turn-complete added %v", added)
	}
	if got := len(r.History()); got != 1 {
		t.Fatalf("history length = %d, want 1", got)
	}
}

func TestReconcilerDeduplicatesRepeat(t *testing.T) {
	t.Parallel()

	r := radio.NewReconciler(fixedClock())
	r.AssistantDelta("Perimeter clear")
	r.TurnComplete()
	r.AssistantDelta("Perimeter clear")
	r.TurnComplete()

	h := r.History()
	if len(h) != 1 || h[0].Content != "Perimeter clear" {
		t.Fatalf("history = %+v", h)
	}

	// Same text from the other role is a new turn.
	r.OperatorText("Perimeter clear")
	r.TurnComplete()
	if got := len(r.History()); got != 2 {
		t.Fatalf("history length = %d, want 2", got)
	}
}

func TestReconcilerSkipsBlank(t *testing.T) {
	t.Parallel()

	r := radio.NewReconciler(fixedClock())
	r.OperatorText("   ")
	r.AssistantDelta("\n")
	if added := r.TurnComplete(); len(added) != 0 {
		t.Fatalf("blank turns added: %+v", added)
	}
	if _, ok := r.Record(radio.RoleUser, ""); ok {
		t.Fatal("Record accepted empty content")
	}
}

func TestReconcilerInterrupt(t *testing.T) {
	t.Parallel()

	r := radio.NewReconciler(fixedClock())
	r.OperatorText("Say again")
	r.AssistantDelta("Contact at grid")
	r.Interrupt()

	in, out := r.Live()
	if in != "Say again" || out != "" {
		t.Fatalf("live after interrupt = %q / %q", in, out)
	}

	r.AssistantDelta("Roger.")
	added := r.TurnComplete()
	if len(added) != 2 || added[1].Content != "Roger." {
		t.Fatalf("added = %+v", added)
	}
}

func TestReconcilerRecordAndRestore(t *testing.T) {
	t.Parallel()

	now := fixedClock()
	r := radio.NewReconciler(now)
	turn, ok := r.Record(radio.RoleUser, "Identify subjects")
	if !ok {
		t.Fatal("Record rejected command")
	}
	if !turn.Timestamp.Equal(now()) {
		t.Fatalf("timestamp = %v", turn.Timestamp)
	}
	if _, ok := r.Record(radio.RoleUser, "Identify subjects"); ok {
		t.Fatal("duplicate command recorded twice")
	}

	saved := r.History()
	r.ClearHistory()
	if len(r.History()) != 0 {
		t.Fatal("ClearHistory left turns")
	}
	r.Restore(saved)
	h := r.History()
	if len(h) != 1 || h[0].ID != turn.ID {
		t.Fatalf("restored history = %+v", h)
	}

	// History returns a copy.
	h[0].Content = "tampered"
	if r.History()[0].Content != "Identify subjects" {
		t.Fatal("History exposed internal slice")
	}
}
