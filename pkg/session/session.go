// Package session implements the per-open-conversation controller. A
// Session merges three inputs into one ordered, deduplicated visible
// list: persisted history, live broadcast events, and optimistic local
// state. It owns no other component's state; all durable writes go
// through the log and all ephemeral state through the presence hub.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	apperrors "converse/pkg/errors"
	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/presence"
	"converse/pkg/receipts"
	"converse/pkg/reply"
	"converse/pkg/transport"
	"converse/pkg/utils"
)

// State of a session's lifecycle.
type State int

const (
	StateLoading State = iota
	StateReady
	StateSending
	StateEditing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateEditing:
		return "editing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Log is the durable message log surface a session writes through. The
// store package provides the production implementation; tests substitute
// failing variants to exercise the retry path.
type Log interface {
	Append(m models.Message) (models.Message, error)
	Edit(conv, id, editor, newBody string) (models.Message, error)
	SoftDelete(conv, id, requester string) error
	ListRange(conv, cursor string, limit int) ([]models.Message, string, error)
}

// MembershipFunc is the external authorization predicate for group
// scopes.
type MembershipFunc func(groupID, userID string) bool

// Options wires a session's collaborators.
type Options struct {
	Conversation string
	Self         models.Profile
	Log          Log
	Bus          *transport.Bus
	Hub          *presence.Hub
	Receipts     *receipts.Tracker
	IsMember     MembershipFunc
	HistoryPage  int
}

// Session is the state machine for one open conversation.
type Session struct {
	conv     string
	self     models.Profile
	log      Log
	bus      *transport.Bus
	hub      *presence.Hub
	receipts *receipts.Tracker
	isMember MembershipFunc
	page     int

	mu         sync.Mutex
	state      State
	msgs       []models.Message
	sub        *transport.Subscription
	lastSeq    uint64
	foreground bool
	active     bool
	closeOnce  sync.Once
	done       chan struct{}
}

// New builds a session in the Loading state. Call Open to start it.
func New(opts Options) *Session {
	page := opts.HistoryPage
	if page <= 0 {
		page = 200
	}
	return &Session{
		conv:     opts.Conversation,
		self:     opts.Self,
		log:      opts.Log,
		bus:      opts.Bus,
		hub:      opts.Hub,
		receipts: opts.Receipts,
		isMember: opts.IsMember,
		page:     page,
		state:    StateLoading,
		done:     make(chan struct{}),
	}
}

// Open authorizes, subscribes, loads history, merges anything that
// arrived on the live channel during the fetch, and enters Ready.
// Membership is checked before any history is fetched; presence failure
// degrades the typing feature without affecting the open.
func (s *Session) Open(ctx context.Context) error {
	if gid := models.GroupID(s.conv); gid != "" && s.isMember != nil {
		if !s.isMember(gid, s.self.ID) {
			return apperrors.PermissionDenied("not a member of this group")
		}
	}

	// live subscription starts before the history fetch so nothing
	// published mid-fetch is lost; those events wait in the channel and
	// are merged by id afterwards
	sub, err := s.bus.Subscribe(s.conv)
	if err != nil {
		return apperrors.TransientNetwork("subscribe failed", err)
	}

	if s.hub != nil {
		if perr := s.hub.Join(s.conv); perr != nil {
			logger.Warn("presence_disabled_for_session", "conversation", s.conv, "err", perr)
		}
	}

	history, err := s.fetchHistory(ctx)
	if err != nil {
		sub.Close()
		if s.hub != nil {
			s.hub.Leave(s.conv)
		}
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.msgs = history
	s.state = StateReady
	s.mu.Unlock()

	go s.consume()
	sessionsOpened.Inc()
	return nil
}

func (s *Session) fetchHistory(ctx context.Context) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.TransientNetwork("canceled", err)
	}
	var out []models.Message
	cursor := ""
	for {
		page, next, err := s.log.ListRange(s.conv, cursor, s.page)
		if err != nil {
			return nil, apperrors.TransientNetwork("history fetch failed", err)
		}
		for _, m := range page {
			out = append(out, normalize(m))
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// normalize lifts a legacy inline reply envelope into the structured
// field so rendering code never sees delimiter bytes. Decode is total, so
// malformed rows pass through untouched.
func normalize(m models.Message) models.Message {
	if m.Reply == nil {
		if env, body := reply.Decode(m.Body); env != nil {
			m.Reply = env
			m.Body = body
		}
	}
	return m
}

func (s *Session) consume() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	s.mu.Lock()
	gap := s.lastSeq != 0 && ev.Seq != s.lastSeq+1
	s.lastSeq = ev.Seq
	s.mu.Unlock()

	if gap {
		// events were lost between lastSeq and ev.Seq; the durable log
		// already holds whatever this event carries, so a full refetch
		// covers both the gap and the event itself
		logger.Warn("seq_gap_detected", "conversation", s.conv, "seq", ev.Seq)
		resyncsTotal.Inc()
		if err := s.Resync(context.Background()); err != nil {
			logger.Error("resync_failed", "conversation", s.conv, "err", err)
		}
		return
	}

	if ev.Kind == transport.KindPresence {
		// presence is the hub's concern; it only shares the topic
		return
	}
	m, err := transport.DecodeMessage(ev)
	if err != nil {
		logger.Warn("event_decode_degraded", "conversation", s.conv, "err", err)
		return
	}
	m = normalize(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case transport.KindCreate:
		s.applyCreateLocked(m)
	case transport.KindUpdate:
		s.applyUpdateLocked(m)
	case transport.KindDelete:
		s.applyDeleteLocked(m.ID)
	}
}

// applyCreateLocked inserts an inbound message, collapsing it with the
// local optimistic echo of the same write when one is pending.
func (s *Session) applyCreateLocked(m models.Message) {
	if s.indexOfLocked(m.ID) >= 0 {
		// server echo of a write we already reconciled via ack
		return
	}
	if m.Sender == s.self.ID {
		if i := s.matchOptimisticLocked(m); i >= 0 {
			s.msgs[i] = m
			s.sortLocked()
			reconciledTotal.Inc()
			return
		}
	}
	s.insertSortedLocked(m)
}

func (s *Session) applyUpdateLocked(m models.Message) {
	i := s.indexOfLocked(m.ID)
	if i < 0 {
		// belongs to history outside the loaded window
		return
	}
	if m.Deleted {
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		return
	}
	s.msgs[i] = m
	s.sortLocked()
}

func (s *Session) applyDeleteLocked(id string) {
	i := s.indexOfLocked(id)
	if i < 0 {
		return
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
}

// matchOptimisticLocked finds the pending entry that an inbound echo of
// our own write corresponds to: first by body and timestamp proximity,
// then by append order.
func (s *Session) matchOptimisticLocked(m models.Message) int {
	const proximity = 5 * time.Second
	fallback := -1
	for i, e := range s.msgs {
		if !e.Pending || e.Failed || e.Sender != m.Sender {
			continue
		}
		if fallback < 0 {
			fallback = i
		}
		if e.Body == m.Body {
			d := e.TS - m.TS
			if d < 0 {
				d = -d
			}
			if time.Duration(d) <= proximity {
				return i
			}
		}
	}
	return fallback
}

func (s *Session) indexOfLocked(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) insertSortedLocked(m models.Message) {
	s.msgs = append(s.msgs, m)
	s.sortLocked()
}

func (s *Session) sortLocked() {
	sort.SliceStable(s.msgs, func(i, j int) bool { return s.msgs[i].Before(&s.msgs[j]) })
}

// Send appends an optimistic entry immediately and performs the durable
// write. On failure the entry is marked failed and kept visible with a
// retry affordance; it is never dropped silently. The returned id is the
// temporary client id of the optimistic entry.
func (s *Session) Send(ctx context.Context, body string, attachment *models.Attachment, replyTo *models.ReplyEnvelope) (string, error) {
	if body == "" && attachment == nil {
		return "", apperrors.Validation("empty body and no attachment")
	}
	draft := models.Message{
		ID:           utils.TempID(uuid.NewString()),
		Conversation: s.conv,
		Sender:       s.self.ID,
		SenderName:   s.self.Name,
		Body:         body,
		Reply:        replyTo,
		Attachment:   attachment,
		TS:           time.Now().UTC().UnixNano(),
		Pending:      true,
	}
	if models.IsDirect(s.conv) {
		draft.Recipient = models.Counterpart(s.conv, s.self.ID)
	} else {
		draft.Group = models.GroupID(s.conv)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", apperrors.Conflict("session closed")
	}
	s.state = StateSending
	s.insertSortedLocked(draft)
	s.mu.Unlock()

	// sending implies the user is no longer typing
	if s.hub != nil {
		s.hub.StopTyping(s.conv)
	}

	err := s.commitSend(ctx, draft)
	s.mu.Lock()
	if s.state == StateSending {
		s.state = StateReady
	}
	s.mu.Unlock()
	return draft.ID, err
}

func (s *Session) commitSend(ctx context.Context, draft models.Message) error {
	if err := ctx.Err(); err != nil {
		s.markFailed(draft.ID)
		return apperrors.TransientNetwork("canceled", err)
	}
	canonical, err := s.log.Append(draft)
	if err != nil {
		s.markFailed(draft.ID)
		sendFailures.Inc()
		logger.Warn("send_failed", "conversation", s.conv, "temp_id", draft.ID, "err", err)
		if apperrors.CodeOf(err) == apperrors.CodeValidation {
			return err
		}
		return apperrors.TransientNetwork("send failed", err)
	}
	s.reconcileAck(draft.ID, normalize(canonical))
	return nil
}

func (s *Session) markFailed(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOfLocked(tempID); i >= 0 {
		s.msgs[i].Pending = false
		s.msgs[i].Failed = true
	}
}

// reconcileAck replaces the optimistic entry with the canonical row. The
// broadcast echo of the same write may have arrived first through the
// live channel; either way exactly one row with the canonical id remains.
func (s *Session) reconcileAck(tempID string, canonical models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ti := s.indexOfLocked(tempID)
	ci := s.indexOfLocked(canonical.ID)
	switch {
	case ti >= 0 && ci >= 0:
		// echo beat the ack and was matched to some other entry; drop the temp row
		s.msgs = append(s.msgs[:ti], s.msgs[ti+1:]...)
	case ti >= 0:
		s.msgs[ti] = canonical
		s.sortLocked()
	case ci < 0:
		s.insertSortedLocked(canonical)
	}
	reconciledTotal.Inc()
}

// RetrySend re-attempts the durable write for a failed optimistic entry.
func (s *Session) RetrySend(ctx context.Context, tempID string) error {
	s.mu.Lock()
	i := s.indexOfLocked(tempID)
	if i < 0 {
		s.mu.Unlock()
		return apperrors.NotFound("no such pending message")
	}
	if !s.msgs[i].Failed {
		s.mu.Unlock()
		return apperrors.Conflict("message is not in a failed state")
	}
	s.msgs[i].Failed = false
	s.msgs[i].Pending = true
	draft := s.msgs[i]
	s.mu.Unlock()
	return s.commitSend(ctx, draft)
}

// Edit performs a body edit round-trip. A conflict (the row was deleted
// server-side) removes the local entry and is not retried.
func (s *Session) Edit(ctx context.Context, id, newBody string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return apperrors.Conflict("session closed")
	}
	s.state = StateEditing
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.state == StateEditing {
			s.state = StateReady
		}
		s.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return apperrors.TransientNetwork("canceled", err)
	}
	updated, err := s.log.Edit(s.conv, id, s.self.ID, newBody)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeConflict {
			s.mu.Lock()
			s.applyDeleteLocked(id)
			s.mu.Unlock()
		}
		return err
	}
	s.mu.Lock()
	s.applyUpdateLocked(normalize(updated))
	s.mu.Unlock()
	return nil
}

// Delete soft-deletes one of the viewer's own messages.
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.TransientNetwork("canceled", err)
	}
	err := s.log.SoftDelete(s.conv, id, s.self.ID)
	if err != nil && apperrors.CodeOf(err) != apperrors.CodeConflict {
		return err
	}
	s.mu.Lock()
	s.applyDeleteLocked(id)
	s.mu.Unlock()
	return err
}

// SetViewport records whether this conversation is the active view and
// whether the application is foregrounded. MarkSeen only acts when both
// hold.
func (s *Session) SetViewport(active, foreground bool) {
	s.mu.Lock()
	s.active = active
	s.foreground = foreground
	s.mu.Unlock()
}

// MarkSeen batches every currently-unseen inbound message into a single
// boundary advance. It never issues per-message receipts.
func (s *Session) MarkSeen() error {
	s.mu.Lock()
	if !s.active || !s.foreground || s.receipts == nil {
		s.mu.Unlock()
		return nil
	}
	var latest *models.Message
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.Sender == s.self.ID || m.Pending || m.Failed {
			continue
		}
		if latest == nil || latest.Before(m) {
			latest = m
		}
	}
	if latest == nil {
		s.mu.Unlock()
		return nil
	}
	ts, id := latest.TS, latest.ID
	s.mu.Unlock()

	_, _, err := s.receipts.Advance(s.conv, s.self.ID, ts, id)
	return err
}

// Resync refetches the full history and merges it with local optimistic
// state. Used after a detected sequence gap and by the periodic resync
// runner. Transient fetch failures are retried with exponential backoff.
func (s *Session) Resync(ctx context.Context) error {
	var history []models.Message
	op := func() error {
		h, err := s.fetchHistory(ctx)
		if err != nil {
			return err
		}
		history = h
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	// locally-originated rows not yet durable survive the merge
	var local []models.Message
	for _, m := range s.msgs {
		if m.Pending || m.Failed {
			local = append(local, m)
		}
	}
	s.msgs = history
	for _, m := range local {
		if s.indexOfLocked(m.ID) < 0 {
			s.msgs = append(s.msgs, m)
		}
	}
	s.sortLocked()
	return nil
}

// Messages returns a snapshot of the visible list, always sorted
// ascending by (TS, ID).
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Conversation returns the session's scope key.
func (s *Session) Conversation() string { return s.conv }

// Close tears the session down: the live subscription is released and
// every per-scope presence side effect still fires, even if the user
// abandoned typing mid-stream. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		sub := s.sub
		s.mu.Unlock()
		close(s.done)
		if sub != nil {
			sub.Close()
		}
		if s.hub != nil {
			s.hub.Leave(s.conv)
		}
		sessionsClosed.Inc()
	})
}
