// Package reply implements the legacy inline reply envelope carried
// inside a message body. New writes store the envelope as a structured
// field on the message; this codec survives as a compatibility shim so a
// single malformed or legacy-encoded row never breaks rendering of the
// conversation it sits in.
package reply

import (
	"encoding/json"
	"strings"

	"converse/pkg/logger"
	"converse/pkg/models"
)

// Delimiters chosen from the C0 control range so they cannot collide with
// user-typed text that has passed validation.
const (
	envOpen  = "\x02REPLY:"
	envClose = "\x03"
)

// Encode wraps the serialized envelope between the delimiter tokens and
// concatenates the plain body after it.
func Encode(env *models.ReplyEnvelope, body string) string {
	if env == nil {
		return body
	}
	b, err := json.Marshal(env)
	if err != nil {
		// envelope is plain data; marshal can only fail on corruption
		logger.Warn("reply_encode_failed", "err", err)
		return body
	}
	return envOpen + string(b) + envClose + body
}

// Decode is total: it never fails and never drops content. A raw string
// without delimiters comes back unchanged with a nil envelope; a present
// but malformed envelope degrades to the raw string.
func Decode(raw string) (*models.ReplyEnvelope, string) {
	if !strings.HasPrefix(raw, envOpen) {
		return nil, raw
	}
	end := strings.Index(raw, envClose)
	if end < 0 {
		return nil, raw
	}
	payload := raw[len(envOpen):end]
	var env models.ReplyEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Warn("reply_decode_degraded", "err", err)
		return nil, raw
	}
	if env.QuotedID == "" {
		// an envelope without a target is not a reply
		logger.Warn("reply_decode_degraded", "err", "missing quoted id")
		return nil, raw
	}
	return &env, raw[end+len(envClose):]
}

// Reencode replaces the body of an encoded string while preserving the
// existing envelope. The reply target is immutable once set, so edits
// must go through here rather than Encode with a fresh envelope.
func Reencode(raw, newBody string) string {
	env, _ := Decode(raw)
	return Encode(env, newBody)
}
