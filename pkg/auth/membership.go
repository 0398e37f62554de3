// Package auth holds the authorization surface the engine consumes:
// group membership, request identity, and gateway rate limiting.
// Identity itself is established by an external system; this package only
// resolves and enforces what it is handed.
package auth

import "sync"

// MembershipFunc reports whether a user belongs to a group. The engine
// treats it as an oracle and consults it before any group fetch or
// subscribe.
type MembershipFunc func(groupID, userID string) bool

// Directory is an in-memory membership table, useful as the oracle for a
// single-node deployment and for tests.
type Directory struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{groups: make(map[string]map[string]struct{})}
}

// AddMember puts a user into a group, creating the group as needed.
func (d *Directory) AddMember(groupID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		g = make(map[string]struct{})
		d.groups[groupID] = g
	}
	g[userID] = struct{}{}
}

// RemoveMember removes a user from a group.
func (d *Directory) RemoveMember(groupID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.groups[groupID]; ok {
		delete(g, userID)
	}
}

// IsMember satisfies MembershipFunc.
func (d *Directory) IsMember(groupID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return false
	}
	_, ok = g[userID]
	return ok
}

// Members returns the current member ids of a group.
func (d *Directory) Members(groupID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g := d.groups[groupID]
	out := make([]string, 0, len(g))
	for id := range g {
		out = append(out, id)
	}
	return out
}
