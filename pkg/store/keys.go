package store

import "fmt"

// Key layout. Message ids are themselves sortable (padded nanos + seq),
// so the per-conversation prefix scan yields ascending (TS, ID) order
// without a secondary index.
//
//	conv:<key>:msg:<id>        canonical message row
//	version:msg:<id>:<ts>      prior revision / tombstone audit trail
//	seen:<key>:<viewer>        read boundary for one viewer
const (
	convPrefix    = "conv:"
	versionPrefix = "version:msg:"
	seenPrefix    = "seen:"
)

func msgKey(conv, id string) string {
	return convPrefix + conv + ":msg:" + id
}

func msgPrefix(conv string) string {
	return convPrefix + conv + ":msg:"
}

func versionKey(id string, ts int64) string {
	return fmt.Sprintf("%s%s:%020d", versionPrefix, id, ts)
}

func versionPrefixFor(id string) string {
	return versionPrefix + id + ":"
}

func seenKey(conv, viewer string) string {
	return seenPrefix + conv + ":" + viewer
}