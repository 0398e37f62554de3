// Package receipts manages the per-(conversation, viewer) read boundary:
// the highest message position a viewer is known to have seen. Advancing
// the boundary backward is a no-op, which makes every advance idempotent
// and safe to replay.
package receipts

import (
	"sync"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/store"
)

// Tracker caches boundaries in memory and persists advances through the
// store. All mutation goes through Advance; nothing else writes seen keys.
type Tracker struct {
	mu    sync.Mutex
	cache map[string]models.ReadBoundary
}

func NewTracker() *Tracker {
	return &Tracker{cache: make(map[string]models.ReadBoundary)}
}

func cacheKey(conv, viewer string) string { return conv + "\x00" + viewer }

// Advance sets the boundary to max(current, boundary). It returns the
// effective boundary after the call and whether it moved.
func (t *Tracker) Advance(conv, viewer string, ts int64, msgID string) (models.ReadBoundary, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, err := t.loadLocked(conv, viewer)
	if err != nil {
		return models.ReadBoundary{}, false, err
	}
	proposed := models.ReadBoundary{Conversation: conv, Viewer: viewer, TS: ts, MsgID: msgID}
	if !cur.LessThan(proposed) {
		// older or equal boundary: no-op
		return cur, false, nil
	}
	if err := store.PutBoundary(proposed); err != nil {
		return cur, false, err
	}
	t.cache[cacheKey(conv, viewer)] = proposed
	logger.Debug("boundary_advanced", "conversation", conv, "viewer", viewer, "msg", msgID)
	return proposed, true, nil
}

// Boundary returns the current boundary for (conv, viewer).
func (t *Tracker) Boundary(conv, viewer string) (models.ReadBoundary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked(conv, viewer)
}

func (t *Tracker) loadLocked(conv, viewer string) (models.ReadBoundary, error) {
	if b, ok := t.cache[cacheKey(conv, viewer)]; ok {
		return b, nil
	}
	b, err := store.GetBoundary(conv, viewer)
	if err != nil {
		return models.ReadBoundary{}, err
	}
	t.cache[cacheKey(conv, viewer)] = b
	return b, nil
}

// Seen reports whether the viewer's boundary covers the given message.
func (t *Tracker) Seen(conv, viewer string, m models.Message) bool {
	b, err := t.Boundary(conv, viewer)
	if err != nil {
		return false
	}
	return b.Covers(m.TS, m.ID)
}

// SeenMarkerFor returns the id of the message that should carry the
// single "Seen" affordance: the most recent message authored by author
// within msgs whose position is covered by the counterpart's boundary.
// Empty when nothing qualifies. msgs must be in ascending (TS, ID) order.
func (t *Tracker) SeenMarkerFor(conv, author string, msgs []models.Message) string {
	counterpart := models.Counterpart(conv, author)
	if counterpart == "" {
		// group conversations do not render a single seen marker
		return ""
	}
	b, err := t.Boundary(conv, counterpart)
	if err != nil {
		return ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Sender != author {
			continue
		}
		if b.Covers(m.TS, m.ID) {
			return m.ID
		}
		// the most recent own message is not covered: no marker at all
		return ""
	}
	return ""
}
