package receipts

import (
	"testing"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
)

func setup(t *testing.T) *Tracker {
	t.Helper()
	logger.Init()
	store.SetPublisher(nil)
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewTracker()
}

func TestAdvanceMonotonic(t *testing.T) {
	tr := setup(t)
	conv := models.DirectKey("a", "b")

	b, moved, err := tr.Advance(conv, "b", 100, "m100")
	if err != nil || !moved {
		t.Fatalf("first advance: moved=%v err=%v", moved, err)
	}
	if b.TS != 100 || b.MsgID != "m100" {
		t.Fatalf("boundary: %+v", b)
	}

	// older boundary is a no-op
	b, moved, err = tr.Advance(conv, "b", 50, "m050")
	if err != nil || moved {
		t.Fatalf("older advance must be a no-op: moved=%v err=%v", moved, err)
	}
	if b.TS != 100 {
		t.Fatalf("boundary regressed: %+v", b)
	}

	// equal boundary is idempotent
	_, moved, err = tr.Advance(conv, "b", 100, "m100")
	if err != nil || moved {
		t.Fatalf("equal advance must be a no-op: moved=%v err=%v", moved, err)
	}

	// newer advances
	b, moved, err = tr.Advance(conv, "b", 200, "m200")
	if err != nil || !moved {
		t.Fatalf("newer advance: moved=%v err=%v", moved, err)
	}
	if b.MsgID != "m200" {
		t.Fatalf("boundary: %+v", b)
	}
}

func TestAdvancePersists(t *testing.T) {
	tr := setup(t)
	conv := models.GroupKey("g")
	if _, _, err := tr.Advance(conv, "v", 7, "m7"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	// a fresh tracker reads the stored boundary
	fresh := NewTracker()
	b, err := fresh.Boundary(conv, "v")
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	if b.TS != 7 || b.MsgID != "m7" {
		t.Fatalf("persisted boundary: %+v", b)
	}
}

func TestSeen(t *testing.T) {
	tr := setup(t)
	conv := models.DirectKey("a", "b")
	if _, _, err := tr.Advance(conv, "b", 100, "00000000000000000100-000001"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	covered := models.Message{ID: "00000000000000000090-000001", TS: 90}
	uncovered := models.Message{ID: "00000000000000000110-000001", TS: 110}
	if !tr.Seen(conv, "b", covered) {
		t.Fatalf("message at 90 must be seen")
	}
	if tr.Seen(conv, "b", uncovered) {
		t.Fatalf("message at 110 must not be seen")
	}
}

func TestSeenMarkerOnlyOnLatestOwnMessage(t *testing.T) {
	tr := setup(t)
	conv := models.DirectKey("alice", "bob")
	msgs := []models.Message{
		{ID: "id1", TS: 10, Sender: "alice"},
		{ID: "id2", TS: 20, Sender: "bob"},
		{ID: "id3", TS: 30, Sender: "alice"},
	}

	// counterpart (bob) has seen everything up to ts=30
	if _, _, err := tr.Advance(conv, "bob", 30, "id3"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := tr.SeenMarkerFor(conv, "alice", msgs); got != "id3" {
		t.Fatalf("marker: got %q want id3", got)
	}

	// a newer own message beyond the boundary removes the marker entirely
	msgs = append(msgs, models.Message{ID: "id4", TS: 40, Sender: "alice"})
	if got := tr.SeenMarkerFor(conv, "alice", msgs); got != "" {
		t.Fatalf("marker must vanish when latest own message is unseen, got %q", got)
	}
}

func TestSeenMarkerGroupIsEmpty(t *testing.T) {
	tr := setup(t)
	msgs := []models.Message{{ID: "id1", TS: 10, Sender: "alice"}}
	if got := tr.SeenMarkerFor(models.GroupKey("g"), "alice", msgs); got != "" {
		t.Fatalf("group conversations have no single seen marker, got %q", got)
	}
}
