// Package presence maintains the ephemeral typing state per scope. The
// idle timer is owned by the publisher: once a user stops producing
// keystrokes the false transition is sent automatically, so receivers
// never have to guess. The one documented exception is an ungraceful
// disconnect, where stale typing state persists until the scope is
// rejoined.
package presence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "converse/pkg/errors"
	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/transport"
)

// Hub tracks typing state for every scope the local user has joined.
// Presence failures degrade the feature off for that scope; message
// delivery is not affected.
type Hub struct {
	bus  *transport.Bus
	self models.Profile
	idle time.Duration

	limitRPS   rate.Limit
	limitBurst int

	mu     sync.Mutex
	scopes map[string]*scopeState
}

type scopeState struct {
	sub      *transport.Subscription
	records  map[string]models.PresenceRecord
	degraded bool

	typingSelf bool
	idleTimer  *time.Timer
	limiter    *rate.Limiter
	done       chan struct{}
}

// NewHub creates a hub publishing under the given identity.
func NewHub(bus *transport.Bus, self models.Profile, idleWindow time.Duration, publishRPS float64, publishBurst int) *Hub {
	if idleWindow <= 0 {
		idleWindow = 2 * time.Second
	}
	if publishRPS <= 0 {
		publishRPS = 2
	}
	if publishBurst <= 0 {
		publishBurst = 2
	}
	return &Hub{
		bus:        bus,
		self:       self,
		idle:       idleWindow,
		limitRPS:   rate.Limit(publishRPS),
		limitBurst: publishBurst,
		scopes:     make(map[string]*scopeState),
	}
}

// Join subscribes to a scope's presence channel and installs the full
// snapshot. On subscribe failure the scope is marked degraded: typing
// queries return empty and local typing publishes become no-ops.
func (h *Hub) Join(scope string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.scopes[scope]; ok && !st.degraded {
		return nil
	}
	snap, sub, err := h.bus.JoinPresence(scope)
	if err != nil {
		h.scopes[scope] = &scopeState{degraded: true, records: map[string]models.PresenceRecord{}}
		logger.Warn("presence_degraded", "scope", scope, "err", err)
		return apperrors.PresenceUnavailable("presence subscribe failed", err)
	}
	st := &scopeState{
		sub:     sub,
		records: make(map[string]models.PresenceRecord, len(snap)),
		limiter: rate.NewLimiter(h.limitRPS, h.limitBurst),
		done:    make(chan struct{}),
	}
	for _, r := range snap {
		st.records[r.User] = r
	}
	h.scopes[scope] = st
	go h.consume(scope, st)
	return nil
}

func (h *Hub) consume(scope string, st *scopeState) {
	for {
		select {
		case <-st.done:
			return
		case ev, ok := <-st.sub.Events():
			if !ok {
				return
			}
			if ev.Kind != transport.KindPresence {
				continue
			}
			rec, err := transport.DecodePresence(ev)
			if err != nil {
				logger.Warn("presence_diff_degraded", "scope", scope, "err", err)
				continue
			}
			h.mu.Lock()
			if rec.Typing {
				st.records[rec.User] = rec
			} else {
				delete(st.records, rec.User)
			}
			h.mu.Unlock()
		}
	}
}

// StartTyping publishes typing=true for the local user and (re)arms the
// idle timer. Repeated keystrokes extend the timer but are throttled so
// they do not flood the topic.
func (h *Hub) StartTyping(scope string) {
	h.mu.Lock()
	st, ok := h.scopes[scope]
	if !ok || st.degraded {
		h.mu.Unlock()
		return
	}
	wasTyping := st.typingSelf
	st.typingSelf = true
	if st.idleTimer != nil {
		st.idleTimer.Stop()
	}
	st.idleTimer = time.AfterFunc(h.idle, func() { h.idleExpire(scope) })
	shouldPublish := !wasTyping || st.limiter.Allow()
	h.mu.Unlock()

	if shouldPublish {
		h.bus.UpdatePresence(scope, models.PresenceRecord{
			User: h.self.ID, Name: h.self.Name, Typing: true,
			LastActivityTS: time.Now().UTC().UnixNano(),
		})
	}
}

// StopTyping publishes the explicit false transition (message sent, input
// cleared) and cancels the idle timer.
func (h *Hub) StopTyping(scope string) {
	h.mu.Lock()
	st, ok := h.scopes[scope]
	if !ok || st.degraded || !st.typingSelf {
		h.mu.Unlock()
		return
	}
	st.typingSelf = false
	if st.idleTimer != nil {
		st.idleTimer.Stop()
		st.idleTimer = nil
	}
	h.mu.Unlock()

	h.bus.UpdatePresence(scope, models.PresenceRecord{
		User: h.self.ID, Typing: false,
		LastActivityTS: time.Now().UTC().UnixNano(),
	})
}

func (h *Hub) idleExpire(scope string) {
	h.mu.Lock()
	st, ok := h.scopes[scope]
	if !ok || !st.typingSelf {
		h.mu.Unlock()
		return
	}
	st.typingSelf = false
	st.idleTimer = nil
	h.mu.Unlock()

	h.bus.UpdatePresence(scope, models.PresenceRecord{
		User: h.self.ID, Typing: false,
		LastActivityTS: time.Now().UTC().UnixNano(),
	})
}

// Leave tears the scope down: the idle timer is cancelled, typing=false
// and the presence leave still fire even if the user abandoned typing
// mid-stream, and the subscription is released.
func (h *Hub) Leave(scope string) {
	h.mu.Lock()
	st, ok := h.scopes[scope]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.scopes, scope)
	if st.idleTimer != nil {
		st.idleTimer.Stop()
	}
	degraded := st.degraded
	h.mu.Unlock()

	if degraded {
		return
	}
	close(st.done)
	st.sub.Close()
	h.bus.LeavePresence(scope, h.self.ID)
}

// Degraded reports whether presence is disabled for the scope.
func (h *Hub) Degraded(scope string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.scopes[scope]
	return ok && st.degraded
}

// TypingUsers returns the display names of everyone currently typing in
// the scope, excluding the local user, sorted for stable rendering.
func (h *Hub) TypingUsers(scope string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.scopes[scope]
	if !ok || st.degraded {
		return nil
	}
	names := make([]string, 0, len(st.records))
	for _, r := range st.records {
		if r.User == h.self.ID || !r.Typing {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.User
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypingText renders the indicator for the scope. More than one
// participant may type concurrently, so 0, 1, 2 and >2 typists are
// distinct renderings.
func (h *Hub) TypingText(scope string) string {
	names := h.TypingUsers(scope)
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%d people are typing...", len(names))
	}
}
