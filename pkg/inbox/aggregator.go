// Package inbox maintains the cross-conversation summary: one entry per
// peer or group holding the most recent message, sorted by recency. It is
// updated incrementally from the event stream; no full refetch happens
// per event.
package inbox

import (
	"context"
	"sort"
	"sync"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/reply"
	"converse/pkg/transport"
)

const previewMax = 80

// ProfileFetcher resolves a minimal peer profile on first contact. It is
// the external profile collaborator.
type ProfileFetcher func(ctx context.Context, userID string) (models.Profile, error)

// MembershipFunc mirrors the external group authorization predicate.
type MembershipFunc func(groupID, userID string) bool

// Aggregator consumes the per-user event fan-in and keeps the preview
// cache current. It owns no session state and no session owns it.
type Aggregator struct {
	self     string
	bus      *transport.Bus
	profiles ProfileFetcher
	isMember MembershipFunc

	mu      sync.Mutex
	entries map[string]*models.InboxEntry
	// previewID remembers which message each entry currently previews so
	// a delete of exactly that message can drop the entry
	previewID map[string]string

	sub  *transport.Subscription
	done chan struct{}
}

func New(self string, bus *transport.Bus, profiles ProfileFetcher, isMember MembershipFunc) *Aggregator {
	return &Aggregator{
		self:      self,
		bus:       bus,
		profiles:  profiles,
		isMember:  isMember,
		entries:   make(map[string]*models.InboxEntry),
		previewID: make(map[string]string),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the firehose and begins incremental updates.
func (a *Aggregator) Start(ctx context.Context) error {
	sub, err := a.bus.Subscribe(transport.FirehoseTopic)
	if err != nil {
		return err
	}
	a.sub = sub
	go a.consume(ctx)
	return nil
}

// Close stops the aggregator.
func (a *Aggregator) Close() {
	select {
	case <-a.done:
		return
	default:
	}
	close(a.done)
	if a.sub != nil {
		a.sub.Close()
	}
}

func (a *Aggregator) consume(ctx context.Context) {
	for {
		select {
		case <-a.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-a.sub.Events():
			if !ok {
				return
			}
			if ev.Kind == transport.KindPresence {
				continue
			}
			m, err := transport.DecodeMessage(ev)
			if err != nil {
				logger.Warn("inbox_event_degraded", "err", err)
				continue
			}
			if !a.relevant(m) {
				continue
			}
			switch ev.Kind {
			case transport.KindCreate:
				a.applyCreate(ctx, m)
			case transport.KindUpdate:
				a.applyUpdate(m)
			case transport.KindDelete:
				a.applyDelete(m)
			}
		}
	}
}

// relevant filters the firehose down to this user's conversations.
func (a *Aggregator) relevant(m models.Message) bool {
	if models.IsDirect(m.Conversation) {
		return m.Sender == a.self || m.Recipient == a.self
	}
	if gid := models.GroupID(m.Conversation); gid != "" {
		if a.isMember == nil {
			return false
		}
		return a.isMember(gid, a.self)
	}
	return false
}

func previewText(m models.Message) string {
	body := m.Body
	if env, stripped := reply.Decode(body); env != nil {
		body = stripped
	}
	if body == "" && m.Attachment != nil {
		body = "[attachment]"
	}
	r := []rune(body)
	if len(r) > previewMax {
		return string(r[:previewMax]) + "…"
	}
	return body
}

func (a *Aggregator) applyCreate(ctx context.Context, m models.Message) {
	a.mu.Lock()
	e, ok := a.entries[m.Conversation]
	if ok {
		// move-to-top: refresh preview and timestamp in place
		e.Preview = previewText(m)
		e.TS = m.TS
		if m.Sender != a.self {
			e.Unread++
		}
		a.previewID[m.Conversation] = m.ID
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	// first activity for this peer: fetch the minimal profile, then insert
	entry := models.InboxEntry{Conversation: m.Conversation, Preview: previewText(m), TS: m.TS}
	if m.Sender != a.self {
		entry.Unread = 1
	}
	if models.IsDirect(m.Conversation) {
		peer := models.Counterpart(m.Conversation, a.self)
		entry.Peer = peer
		entry.PeerName = peer
		if a.profiles != nil {
			if p, err := a.profiles(ctx, peer); err == nil {
				entry.PeerName = p.Name
			} else {
				logger.Warn("inbox_profile_fetch_failed", "peer", peer, "err", err)
			}
		}
	} else {
		entry.Peer = models.GroupID(m.Conversation)
		entry.PeerName = entry.Peer
	}

	a.mu.Lock()
	if cur, ok := a.entries[m.Conversation]; ok && cur.TS > entry.TS {
		// a newer event raced the profile fetch; keep it
		a.mu.Unlock()
		return
	}
	a.entries[m.Conversation] = &entry
	a.previewID[m.Conversation] = m.ID
	a.mu.Unlock()
}

func (a *Aggregator) applyUpdate(m models.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.previewID[m.Conversation] != m.ID {
		return
	}
	if e, ok := a.entries[m.Conversation]; ok {
		e.Preview = previewText(m)
	}
}

// applyDelete drops the conversation from the preview cache when its
// previewed message is the one deleted. The next fetch or new message
// restores it; recomputing the new most-recent from history is
// deliberately not done here.
func (a *Aggregator) applyDelete(m models.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.previewID[m.Conversation] != m.ID {
		return
	}
	delete(a.entries, m.Conversation)
	delete(a.previewID, m.Conversation)
}

// MarkRead zeroes the unread count for a conversation (the viewer opened
// it).
func (a *Aggregator) MarkRead(conv string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[conv]; ok {
		e.Unread = 0
	}
}

// Entries returns the summary rows sorted descending by recency.
func (a *Aggregator) Entries() []models.InboxEntry {
	a.mu.Lock()
	out := make([]models.InboxEntry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, *e)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS > out[j].TS
		}
		return out[i].Conversation < out[j].Conversation
	})
	return out
}
