package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	apperrors "converse/pkg/errors"
	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/reply"
	"converse/pkg/utils"
)

var db *pebble.DB
var dbPath string

// Publisher receives an event after each durable write. The realtime bus
// satisfies this; the indirection keeps the store free of a transport
// dependency.
type Publisher interface {
	PublishMessage(kind string, m models.Message)
}

var pub Publisher

// SetPublisher installs the post-write broadcast hook. Pass nil to
// disable broadcasting (tests that only exercise durability do this).
func SetPublisher(p Publisher) { pub = p }

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "err", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Append validates and durably writes a new message, assigning the
// server id and timestamp, then broadcasts a create event. It is the only
// write that can race with its own broadcast echo; sessions dedup by id.
func Append(m models.Message) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if m.Conversation == "" {
		return models.Message{}, apperrors.Validation("conversation key is required")
	}
	if m.Sender == "" {
		return models.Message{}, apperrors.Validation("sender is required")
	}
	if m.Body == "" && m.Attachment == nil {
		return models.Message{}, apperrors.Validation("empty body and no attachment")
	}
	if m.TS == 0 {
		m.TS = time.Now().UTC().UnixNano()
	}
	if m.ID == "" || utils.IsTempID(m.ID) {
		m.ID = utils.GenIDAt(m.TS)
	}
	m.Pending = false
	m.Failed = false

	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	key := msgKey(m.Conversation, m.ID)
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("append_failed", "conversation", m.Conversation, "key", key, "err", err)
		return models.Message{}, apperrors.TransientNetwork("append failed", err)
	}
	appendsTotal.Inc()
	logger.Debug("message_appended", "conversation", m.Conversation, "id", m.ID)
	if pub != nil {
		pub.PublishMessage("create", m)
	}
	return m, nil
}

// Get returns the canonical row for a message id within a conversation.
func Get(conv, id string) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(msgKey(conv, id)))
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.Message{}, apperrors.NotFound("message not found")
		}
		return models.Message{}, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, fmt.Errorf("corrupt message row %s: %w", id, err)
	}
	return m, nil
}

// Edit replaces the body of a message. Only the sender may edit; the
// reply envelope, if any, is immutable and survives the edit. The prior
// revision is appended to the version trail before the row is replaced.
func Edit(conv, id, editor, newBody string) (models.Message, error) {
	cur, err := Get(conv, id)
	if err != nil {
		return models.Message{}, err
	}
	if cur.Sender != editor {
		permissionDenials.Inc()
		return models.Message{}, apperrors.PermissionDenied("only the sender may edit a message")
	}
	if cur.Deleted {
		return models.Message{}, apperrors.Conflict("message already deleted")
	}
	if newBody == "" && cur.Attachment == nil {
		return models.Message{}, apperrors.Validation("empty body and no attachment")
	}

	if err := appendVersion(cur); err != nil {
		return models.Message{}, err
	}

	now := time.Now().UTC().UnixNano()
	if now <= cur.EditedTS {
		// edited_ts never moves backwards
		now = cur.EditedTS + 1
	}
	// legacy rows carry the reply envelope inline in the body; re-encode
	// the existing envelope around the new body so the target survives
	cur.Body = reply.Reencode(cur.Body, newBody)
	cur.EditedTS = now

	data, err := json.Marshal(cur)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(msgKey(conv, id)), data, pebble.Sync); err != nil {
		return models.Message{}, apperrors.TransientNetwork("edit failed", err)
	}
	editsTotal.Inc()
	logger.Debug("message_edited", "conversation", conv, "id", id)
	if pub != nil {
		pub.PublishMessage("update", cur)
	}
	return cur, nil
}

// SoftDelete tombstones a message in place. Only the sender may delete.
// The row stays in the log (ids are never reused) but is excluded from
// ListRange output.
func SoftDelete(conv, id, requester string) error {
	cur, err := Get(conv, id)
	if err != nil {
		return err
	}
	if cur.Sender != requester {
		permissionDenials.Inc()
		return apperrors.PermissionDenied("only the sender may delete a message")
	}
	if cur.Deleted {
		return apperrors.Conflict("message already deleted")
	}

	if err := appendVersion(cur); err != nil {
		return err
	}

	now := time.Now().UTC().UnixNano()
	if now <= cur.DeletedTS {
		now = cur.DeletedTS + 1
	}
	cur.Deleted = true
	cur.DeletedTS = now

	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone: %w", err)
	}
	if err := db.Set([]byte(msgKey(conv, id)), data, pebble.Sync); err != nil {
		return apperrors.TransientNetwork("delete failed", err)
	}
	deletesTotal.Inc()
	logger.Debug("message_deleted", "conversation", conv, "id", id)
	if pub != nil {
		pub.PublishMessage("delete", cur)
	}
	return nil
}

// ListRange returns up to limit active messages of a conversation in
// ascending (TS, ID) order, starting after cursor (a message id; empty
// means from the beginning). The returned cursor resumes the scan; it is
// empty when the range is exhausted.
func ListRange(conv, cursor string, limit int) ([]models.Message, string, error) {
	if db == nil {
		return nil, "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	if limit <= 0 {
		limit = 100
	}
	prefix := []byte(msgPrefix(conv))
	start := prefix
	if cursor != "" {
		// seek strictly past the cursor id
		start = append([]byte(msgKey(conv, cursor)), 0x00)
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, "", err
	}
	defer iter.Close()

	listsTotal.Inc()
	var out []models.Message
	next := ""
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_corrupt_row", "key", string(iter.Key()), "err", err)
			continue
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			next = m.ID
			break
		}
	}
	if next != "" {
		// peek: drop the cursor when nothing follows
		probe := append([]byte(msgKey(conv, next)), 0x00)
		more := false
		for iter.SeekGE(probe); iter.Valid(); iter.Next() {
			if !bytes.HasPrefix(iter.Key(), prefix) {
				break
			}
			var m models.Message
			if json.Unmarshal(iter.Value(), &m) == nil && !m.Deleted {
				more = true
			}
			if more {
				break
			}
		}
		if !more {
			next = ""
		}
	}
	return out, next, nil
}

// ListVersions returns the revision trail of a message, oldest first.
func ListVersions(id string) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(versionPrefixFor(id))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_corrupt_version", "key", string(iter.Key()), "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func appendVersion(m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	ts := time.Now().UTC().UnixNano()
	if err := db.Set([]byte(versionKey(m.ID, ts)), data, pebble.Sync); err != nil {
		return apperrors.TransientNetwork("version write failed", err)
	}
	return nil
}

// GetBoundary returns the stored read boundary for (conv, viewer); a zero
// boundary when none exists.
func GetBoundary(conv, viewer string) (models.ReadBoundary, error) {
	if db == nil {
		return models.ReadBoundary{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(seenKey(conv, viewer)))
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.ReadBoundary{Conversation: conv, Viewer: viewer}, nil
		}
		return models.ReadBoundary{}, err
	}
	defer closer.Close()
	var b models.ReadBoundary
	if err := json.Unmarshal(v, &b); err != nil {
		return models.ReadBoundary{}, fmt.Errorf("corrupt boundary row: %w", err)
	}
	return b, nil
}

// PutBoundary stores a read boundary. Monotonicity is enforced by the
// receipts tracker, the sole caller.
func PutBoundary(b models.ReadBoundary) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal boundary: %w", err)
	}
	return db.Set([]byte(seenKey(b.Conversation, b.Viewer)), data, pebble.Sync)
}
