package transport

import (
	"encoding/json"
	"sort"

	"converse/pkg/logger"
	"converse/pkg/models"
)

// Presence rides the same bus as messages but under its own event kind,
// and is reconstructed from a full snapshot on every (re)subscribe: it is
// never persisted.

// JoinPresence subscribes to presence diffs for a scope and returns the
// current full snapshot alongside the subscription. The subscription
// carries every event kind on the topic; presence consumers filter on
// KindPresence.
func (b *Bus) JoinPresence(scope string) ([]models.PresenceRecord, *Subscription, error) {
	sub, err := b.Subscribe(scope)
	if err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	t := b.topic(scope)
	snap := make([]models.PresenceRecord, 0, len(t.presence))
	for _, r := range t.presence {
		snap = append(snap, r)
	}
	b.mu.Unlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].User < snap[j].User })
	return snap, sub, nil
}

// UpdatePresence records a diff in the scope's snapshot and broadcasts it.
func (b *Bus) UpdatePresence(scope string, rec models.PresenceRecord) {
	b.mu.Lock()
	t := b.topic(scope)
	if rec.Typing {
		t.presence[rec.User] = rec
	} else {
		delete(t.presence, rec.User)
	}
	b.mu.Unlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		logger.Error("presence_marshal_failed", "user", rec.User, "err", err)
		return
	}
	b.Publish(scope, KindPresence, payload, rec.LastActivityTS)
}

// LeavePresence clears any state the user still holds in the scope and
// broadcasts the clearing diff so receivers drop the typist.
func (b *Bus) LeavePresence(scope, user string) {
	b.mu.Lock()
	_, had := b.topic(scope).presence[user]
	b.mu.Unlock()
	if !had {
		return
	}
	b.UpdatePresence(scope, models.PresenceRecord{User: user, Typing: false})
}

// DecodePresence parses a presence diff payload.
func DecodePresence(ev Event) (models.PresenceRecord, error) {
	var r models.PresenceRecord
	if err := json.Unmarshal(ev.Payload, &r); err != nil {
		return models.PresenceRecord{}, err
	}
	return r, nil
}
