package models

// Message is a single row in a conversation's durable log. TS is the
// server-assigned creation time in nanoseconds; together with ID it forms
// the total order the visible list is rendered in.
type Message struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Sender       string `json:"sender"`
	SenderName   string `json:"sender_name,omitempty"`
	// Exactly one of Recipient (direct) or Group is set.
	Recipient string `json:"recipient,omitempty"`
	Group     string `json:"group,omitempty"`
	Body      string `json:"body"`
	// Reply is the structured quote reference, frozen at reply creation.
	// Legacy rows may instead carry an inline envelope in Body; the reply
	// codec decodes those on read.
	Reply      *ReplyEnvelope `json:"reply,omitempty"`
	Attachment *Attachment    `json:"attachment,omitempty"`
	TS         int64          `json:"ts"`
	EditedTS   int64          `json:"edited_ts,omitempty"`
	// Deleted marks a soft-deleted row; kept as an appended tombstone
	// version, the id is never reused.
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`

	// Client-local delivery state; never persisted or broadcast.
	Pending bool `json:"-"`
	Failed  bool `json:"-"`
}

// ReplyEnvelope references the quoted message. QuotedSnippet is a frozen
// copy of the quoted body at reply time; it does not track later edits or
// deletes of the original.
type ReplyEnvelope struct {
	QuotedID         string `json:"quoted_id"`
	QuotedSender     string `json:"quoted_sender"`
	QuotedSenderName string `json:"quoted_sender_name,omitempty"`
	QuotedSnippet    string `json:"quoted_snippet"`
}

// Attachment is the opaque result of the external upload capability.
type Attachment struct {
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Before reports whether m sorts before other in (TS, ID) order.
func (m *Message) Before(other *Message) bool {
	if m.TS != other.TS {
		return m.TS < other.TS
	}
	return m.ID < other.ID
}
