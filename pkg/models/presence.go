package models

// PresenceRecord is the ephemeral typing/online state for one user in one
// scope. It is never persisted; scopes are reconstructed from a full
// snapshot on every (re)subscribe and updated by diffs afterwards.
type PresenceRecord struct {
	User           string `json:"user"`
	Name           string `json:"name,omitempty"`
	Typing         bool   `json:"typing"`
	LastActivityTS int64  `json:"last_activity_ts"`
}

// InboxEntry is one row of the recency-ordered inbox summary: the most
// recent message of a conversation plus minimal peer identity.
type InboxEntry struct {
	Conversation string `json:"conversation"`
	Peer         string `json:"peer,omitempty"`
	PeerName     string `json:"peer_name,omitempty"`
	Preview      string `json:"preview"`
	TS           int64  `json:"ts"`
	Unread       int    `json:"unread"`
}

// Profile is the minimal identity surface consumed from the external
// auth/profile collaborator.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ReadBoundary is the highest (TS, MsgID) position a viewer has seen in a
// conversation. Advancing it backward is a no-op.
type ReadBoundary struct {
	Conversation string `json:"conversation"`
	Viewer       string `json:"viewer"`
	TS           int64  `json:"ts"`
	MsgID        string `json:"msg_id"`
}

// Covers reports whether the boundary includes the given message position.
func (b ReadBoundary) Covers(ts int64, msgID string) bool {
	if ts != b.TS {
		return ts < b.TS
	}
	return msgID <= b.MsgID
}

// LessThan reports whether b is strictly behind other.
func (b ReadBoundary) LessThan(other ReadBoundary) bool {
	if b.TS != other.TS {
		return b.TS < other.TS
	}
	return b.MsgID < other.MsgID
}
