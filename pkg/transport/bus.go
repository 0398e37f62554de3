// Package transport is an in-process rendition of the external realtime
// transport contract: topic-based publish/subscribe with per-topic FIFO
// delivery, per-topic sequence numbers, and a presence snapshot-plus-diff
// primitive. Message delivery and presence are independent failure
// domains even though they share one bus.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/valyala/bytebufferpool"

	"converse/pkg/logger"
	"converse/pkg/models"
)

// Event kinds.
const (
	KindCreate   = "create"
	KindUpdate   = "update"
	KindDelete   = "delete"
	KindPresence = "presence"
)

// FirehoseTopic subscribes to every event on the bus. Cross-topic
// ordering is not guaranteed; consumers must only reason per-topic.
const FirehoseTopic = "*"

// Event is one delivery on a topic. Seq increases by exactly one per
// topic; a subscriber observing a jump has missed events (slow-consumer
// drop or reconnect gap) and must resync.
type Event struct {
	Topic   string
	Seq     uint64
	Kind    string
	Payload []byte
	TS      int64
}

// Subscription is one subscriber's ordered view of a topic.
type Subscription struct {
	topic string
	bus   *Bus
	ch    chan Event

	mu     sync.Mutex
	closed bool
}

// Events returns the delivery channel. It is closed on Close.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.bus.unsubscribe(s)
	close(s.ch)
}

type topicState struct {
	seq      uint64
	subs     map[*Subscription]struct{}
	presence map[string]models.PresenceRecord
}

// Bus multiplexes topics over bounded per-subscriber channels. A slow
// subscriber loses events rather than blocking the publisher; the lost
// events show up as a sequence gap on that subscription.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topicState
	buf    int

	failSubscribe map[string]bool
}

// NewBus creates a bus with the given per-subscriber channel capacity.
func NewBus(buf int) *Bus {
	if buf <= 0 {
		buf = 256
	}
	return &Bus{topics: make(map[string]*topicState), buf: buf, failSubscribe: map[string]bool{}}
}

func (b *Bus) topic(name string) *topicState {
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{subs: make(map[*Subscription]struct{}), presence: make(map[string]models.PresenceRecord)}
		b.topics[name] = t
	}
	return t
}

// Subscribe attaches a new subscriber to topic. Events published after
// this call are delivered in order.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribe[topic] {
		return nil, fmt.Errorf("subscribe refused for topic %s", topic)
	}
	s := &Subscription{topic: topic, bus: b, ch: make(chan Event, b.buf)}
	b.topic(topic).subs[s] = struct{}{}
	return s, nil
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[s.topic]; ok {
		delete(t.subs, s)
	}
}

// Publish stamps the next per-topic sequence number and fans the event
// out to topic subscribers and the firehose.
func (b *Bus) Publish(topic, kind string, payload []byte, ts int64) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topic)
	t.seq++
	ev := Event{Topic: topic, Seq: t.seq, Kind: kind, Payload: payload, TS: ts}
	deliver := func(s *Subscription) {
		select {
		case s.ch <- ev:
		default:
			// slow consumer: drop; the seq gap forces a resync
			droppedTotal.Inc()
			logger.Warn("bus_drop", "topic", topic, "seq", ev.Seq)
		}
	}
	// sends stay under the lock so concurrent publishers cannot reorder a
	// topic's deliveries; they never block because channel sends fall
	// through to a drop
	for s := range t.subs {
		deliver(s)
	}
	if fh, ok := b.topics[FirehoseTopic]; ok {
		for s := range fh.subs {
			deliver(s)
		}
	}
	publishedTotal.Inc()
	return ev
}

// PublishMessage marshals a message and publishes it on its conversation
// topic. It satisfies the store's Publisher hook.
func (b *Bus) PublishMessage(kind string, m models.Message) {
	bb := bytebufferpool.Get()
	if err := json.NewEncoder(bb).Encode(m); err != nil {
		bytebufferpool.Put(bb)
		logger.Error("publish_marshal_failed", "id", m.ID, "err", err)
		return
	}
	payload := append([]byte(nil), bb.B...)
	bytebufferpool.Put(bb)
	b.Publish(m.Conversation, kind, payload, m.TS)
}

// DecodeMessage parses an event payload produced by PublishMessage.
func DecodeMessage(ev Event) (models.Message, error) {
	var m models.Message
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		return models.Message{}, fmt.Errorf("bad message payload on %s seq %d: %w", ev.Topic, ev.Seq, err)
	}
	return m, nil
}

// AdvanceSeq bumps a topic's sequence counter without delivering
// anything, simulating events lost during a brief disconnect. Used by
// tests to exercise gap detection.
func (b *Bus) AdvanceSeq(topic string, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic(topic).seq += n
}

// FailSubscriptions makes future Subscribe calls for topic fail. Used by
// tests to exercise the degraded-presence path.
func (b *Bus) FailSubscriptions(topic string, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSubscribe[topic] = fail
}
