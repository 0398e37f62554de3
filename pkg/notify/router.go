// Package notify emits the transient "new activity" signal for events
// addressed to the current user in conversations that are not the one
// currently open. It is a pure consumer on the event bus: disabling it
// affects nothing else.
package notify

import (
	"context"
	"sync/atomic"

	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/reply"
	"converse/pkg/transport"
)

// Notification is one dismissable signal: sender identity, preview text
// and the deep link target.
type Notification struct {
	From         string `json:"from"`
	FromName     string `json:"from_name,omitempty"`
	Preview      string `json:"preview"`
	Conversation string `json:"conversation"`
	TS           int64  `json:"ts"`
}

// MembershipFunc mirrors the external group authorization predicate.
type MembershipFunc func(groupID, userID string) bool

// OpenConvFunc reports the conversation currently in the active
// viewport; empty when none.
type OpenConvFunc func() string

// Router filters the per-user fan-in down to background activity.
type Router struct {
	self     string
	bus      *transport.Bus
	openConv OpenConvFunc
	isMember MembershipFunc

	ch     chan Notification
	unread atomic.Int64

	sub  *transport.Subscription
	done chan struct{}
}

func New(self string, bus *transport.Bus, openConv OpenConvFunc, isMember MembershipFunc) *Router {
	return &Router{
		self:     self,
		bus:      bus,
		openConv: openConv,
		isMember: isMember,
		ch:       make(chan Notification, 64),
		done:     make(chan struct{}),
	}
}

// Start subscribes and begins routing. The notification channel is
// buffered; if no consumer drains it, signals are dropped rather than
// blocking the bus.
func (r *Router) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(transport.FirehoseTopic)
	if err != nil {
		return err
	}
	r.sub = sub
	go r.consume(ctx)
	return nil
}

// Close stops the router.
func (r *Router) Close() {
	select {
	case <-r.done:
		return
	default:
	}
	close(r.done)
	if r.sub != nil {
		r.sub.Close()
	}
}

// Notifications is the stream of emitted signals.
func (r *Router) Notifications() <-chan Notification { return r.ch }

// Unread returns the current unread counter.
func (r *Router) Unread() int64 { return r.unread.Load() }

// ResetUnread clears the counter (the user caught up).
func (r *Router) ResetUnread() { r.unread.Store(0) }

func (r *Router) consume(ctx context.Context) {
	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-r.sub.Events():
			if !ok {
				return
			}
			if ev.Kind != transport.KindCreate {
				continue
			}
			m, err := transport.DecodeMessage(ev)
			if err != nil {
				logger.Warn("notify_event_degraded", "err", err)
				continue
			}
			if !r.addressedToSelf(m) {
				continue
			}
			if m.Conversation == r.openConv() {
				// the open conversation renders its own updates
				continue
			}
			r.unread.Add(1)
			n := Notification{
				From:         m.Sender,
				FromName:     m.SenderName,
				Preview:      preview(m),
				Conversation: m.Conversation,
				TS:           m.TS,
			}
			select {
			case r.ch <- n:
			default:
				logger.Debug("notification_dropped", "conversation", m.Conversation)
			}
		}
	}
}

func (r *Router) addressedToSelf(m models.Message) bool {
	if m.Sender == r.self {
		return false
	}
	if models.IsDirect(m.Conversation) {
		return m.Recipient == r.self
	}
	if gid := models.GroupID(m.Conversation); gid != "" {
		return r.isMember != nil && r.isMember(gid, r.self)
	}
	return false
}

func preview(m models.Message) string {
	body := m.Body
	if env, stripped := reply.Decode(body); env != nil {
		body = stripped
	}
	if body == "" && m.Attachment != nil {
		body = "[attachment]"
	}
	const max = 80
	runes := []rune(body)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return body
}
