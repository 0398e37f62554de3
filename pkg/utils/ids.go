package utils

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// seq reduces collisions when multiple ids are generated within the same
// nanosecond.
var seq uint64

// GenID returns a sortable message id: zero-padded unix nanos plus a
// process-local sequence tie-break. Lexicographic order of ids matches
// creation order, which the store's key layout relies on.
func GenID() string {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1) % 1000000
	return fmt.Sprintf("%020d-%06d", ts, s)
}

// GenIDAt returns a sortable id for an explicit timestamp.
func GenIDAt(ts int64) string {
	s := atomic.AddUint64(&seq, 1) % 1000000
	return fmt.Sprintf("%020d-%06d", ts, s)
}

// TempID returns a client-generated placeholder id for an optimistic
// entry. Temp ids never collide with server ids because of the prefix.
func TempID(unique string) string {
	return "tmp-" + unique
}

// IsTempID reports whether id is a client placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, "tmp-")
}
