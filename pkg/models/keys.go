package models

import "strings"

// Conversation keys identify the scope a conversation's events are
// published under. Direct conversations use the canonical unordered pair
// of participants; group conversations use the group id.

const (
	directPrefix = "dm:"
	groupPrefix  = "grp:"
)

// DirectKey returns the canonical key for a 1:1 conversation. The pair is
// unordered: DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return directPrefix + a + ":" + b
}

// GroupKey returns the key for a group-scoped conversation.
func GroupKey(groupID string) string {
	return groupPrefix + groupID
}

// IsDirect reports whether key names a 1:1 conversation.
func IsDirect(key string) bool {
	return strings.HasPrefix(key, directPrefix)
}

// IsGroup reports whether key names a group conversation.
func IsGroup(key string) bool {
	return strings.HasPrefix(key, groupPrefix)
}

// GroupID extracts the group id from a group key; empty for non-group keys.
func GroupID(key string) string {
	if !IsGroup(key) {
		return ""
	}
	return strings.TrimPrefix(key, groupPrefix)
}

// Counterpart returns the other participant of a direct conversation from
// the viewer's perspective; empty for group keys or when viewer is not a
// participant.
func Counterpart(key, viewer string) string {
	if !IsDirect(key) {
		return ""
	}
	rest := strings.TrimPrefix(key, directPrefix)
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return ""
	}
	lo, hi := rest[:i], rest[i+1:]
	switch viewer {
	case lo:
		return hi
	case hi:
		return lo
	}
	return ""
}
