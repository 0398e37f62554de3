package inbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"converse/pkg/models"
	"converse/pkg/reply"
	"converse/pkg/transport"
	"converse/pkg/utils"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func newAggregator(t *testing.T, self string, profiles ProfileFetcher, isMember MembershipFunc) (*Aggregator, *transport.Bus) {
	t.Helper()
	bus := transport.NewBus(64)
	a := New(self, bus, profiles, isMember)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(a.Close)
	return a, bus
}

func msg(conv, sender, recipient, body string, ts int64) models.Message {
	return models.Message{
		ID:           utils.GenIDAt(ts),
		Conversation: conv,
		Sender:       sender,
		Recipient:    recipient,
		Body:         body,
		TS:           ts,
	}
}

func TestNewEntryFetchesProfile(t *testing.T) {
	profiles := func(ctx context.Context, id string) (models.Profile, error) {
		return models.Profile{ID: id, Name: "Bob B."}, nil
	}
	a, bus := newAggregator(t, "alice", profiles, nil)

	conv := models.DirectKey("alice", "bob")
	bus.PublishMessage(transport.KindCreate, msg(conv, "bob", "alice", "hello", 100))

	waitFor(t, func() bool { return len(a.Entries()) == 1 })
	e := a.Entries()[0]
	if e.Peer != "bob" || e.PeerName != "Bob B." {
		t.Fatalf("peer = %q/%q, want bob/Bob B.", e.Peer, e.PeerName)
	}
	if e.Preview != "hello" || e.Unread != 1 {
		t.Fatalf("entry = %+v", e)
	}
}

func TestProfileFailureFallsBackToID(t *testing.T) {
	profiles := func(ctx context.Context, id string) (models.Profile, error) {
		return models.Profile{}, fmt.Errorf("directory down")
	}
	a, bus := newAggregator(t, "alice", profiles, nil)

	conv := models.DirectKey("alice", "bob")
	bus.PublishMessage(transport.KindCreate, msg(conv, "bob", "alice", "hi", 100))

	waitFor(t, func() bool { return len(a.Entries()) == 1 })
	if got := a.Entries()[0].PeerName; got != "bob" {
		t.Fatalf("peer name = %q, want bare id", got)
	}
}

func TestEntriesSortNewestFirst(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	older := models.DirectKey("alice", "bob")
	newer := models.DirectKey("alice", "carol")
	bus.PublishMessage(transport.KindCreate, msg(older, "bob", "alice", "first", 100))
	bus.PublishMessage(transport.KindCreate, msg(newer, "carol", "alice", "second", 200))

	waitFor(t, func() bool { return len(a.Entries()) == 2 })
	got := a.Entries()
	if got[0].Conversation != newer || got[1].Conversation != older {
		t.Fatalf("order = %s, %s", got[0].Conversation, got[1].Conversation)
	}

	// new activity in the older conversation moves it to the top
	bus.PublishMessage(transport.KindCreate, msg(older, "bob", "alice", "third", 300))
	waitFor(t, func() bool { return a.Entries()[0].Conversation == older })
	top := a.Entries()[0]
	if top.Preview != "third" || top.Unread != 2 {
		t.Fatalf("top entry = %+v", top)
	}
}

func TestOwnMessagesDoNotCountUnread(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	conv := models.DirectKey("alice", "bob")
	bus.PublishMessage(transport.KindCreate, msg(conv, "alice", "bob", "sent by me", 100))

	waitFor(t, func() bool { return len(a.Entries()) == 1 })
	if got := a.Entries()[0].Unread; got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
}

func TestMarkReadClearsUnread(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	conv := models.DirectKey("alice", "bob")
	bus.PublishMessage(transport.KindCreate, msg(conv, "bob", "alice", "one", 100))
	bus.PublishMessage(transport.KindCreate, msg(conv, "bob", "alice", "two", 200))
	waitFor(t, func() bool {
		es := a.Entries()
		return len(es) == 1 && es[0].Unread == 2
	})

	a.MarkRead(conv)
	if got := a.Entries()[0].Unread; got != 0 {
		t.Fatalf("unread after mark read = %d", got)
	}
}

func TestEditRefreshesPreviewOnlyForLatest(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	conv := models.DirectKey("alice", "bob")
	first := msg(conv, "bob", "alice", "first", 100)
	second := msg(conv, "bob", "alice", "second", 200)
	bus.PublishMessage(transport.KindCreate, first)
	bus.PublishMessage(transport.KindCreate, second)
	waitFor(t, func() bool {
		es := a.Entries()
		return len(es) == 1 && es[0].Preview == "second"
	})

	// editing an older message leaves the preview alone
	first.Body = "first edited"
	bus.PublishMessage(transport.KindUpdate, first)

	// editing the previewed message rewrites it
	second.Body = "second edited"
	bus.PublishMessage(transport.KindUpdate, second)

	waitFor(t, func() bool { return a.Entries()[0].Preview == "second edited" })
}

func TestDeleteOfPreviewedMessageDropsEntry(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	conv := models.DirectKey("alice", "bob")
	m := msg(conv, "bob", "alice", "soon gone", 100)
	bus.PublishMessage(transport.KindCreate, m)
	waitFor(t, func() bool { return len(a.Entries()) == 1 })

	bus.PublishMessage(transport.KindDelete, m)
	waitFor(t, func() bool { return len(a.Entries()) == 0 })
}

func TestDeleteOfOlderMessageKeepsEntry(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	conv := models.DirectKey("alice", "bob")
	first := msg(conv, "bob", "alice", "first", 100)
	second := msg(conv, "bob", "alice", "second", 200)
	bus.PublishMessage(transport.KindCreate, first)
	bus.PublishMessage(transport.KindCreate, second)
	waitFor(t, func() bool {
		es := a.Entries()
		return len(es) == 1 && es[0].Preview == "second"
	})

	bus.PublishMessage(transport.KindDelete, first)
	time.Sleep(30 * time.Millisecond)
	if es := a.Entries(); len(es) != 1 || es[0].Preview != "second" {
		t.Fatalf("entries after stale delete = %+v", es)
	}
}

func TestForeignTrafficIgnored(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	bus.PublishMessage(transport.KindCreate, msg(models.DirectKey("bob", "carol"), "bob", "carol", "private", 100))
	time.Sleep(30 * time.Millisecond)
	if n := len(a.Entries()); n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}

func TestGroupEntriesFollowMembership(t *testing.T) {
	member := func(gid, uid string) bool { return gid == "team" && uid == "alice" }
	a, bus := newAggregator(t, "alice", nil, member)

	bus.PublishMessage(transport.KindCreate, msg(models.GroupKey("team"), "bob", "", "standup", 100))
	bus.PublishMessage(transport.KindCreate, msg(models.GroupKey("other"), "bob", "", "not ours", 200))

	waitFor(t, func() bool { return len(a.Entries()) == 1 })
	e := a.Entries()[0]
	if e.Conversation != models.GroupKey("team") || e.Peer != "team" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestPreviewStripsReplyEnvelopeAndTruncates(t *testing.T) {
	a, bus := newAggregator(t, "alice", nil, nil)

	conv := models.DirectKey("alice", "bob")
	quoted := reply.Encode(&models.ReplyEnvelope{QuotedID: "x", QuotedSnippet: "plan?"}, "agreed")
	bus.PublishMessage(transport.KindCreate, msg(conv, "bob", "alice", quoted, 100))
	waitFor(t, func() bool { return len(a.Entries()) == 1 })
	if got := a.Entries()[0].Preview; got != "agreed" {
		t.Fatalf("preview = %q", got)
	}

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	bus.PublishMessage(transport.KindCreate, msg(conv, "bob", "alice", long, 200))
	waitFor(t, func() bool { return a.Entries()[0].Preview != "agreed" })
	if got := a.Entries()[0].Preview; len([]rune(got)) != previewMax+1 {
		t.Fatalf("preview length = %d runes", len([]rune(got)))
	}
}
