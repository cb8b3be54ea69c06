// Package rooms tracks which live connections are joined to which rooms.
//
// Rooms are named within three namespaces (workspace:, channel: and user:),
// are created on first join and disappear when their last connection leaves.
// The registry keeps two indexes, room to connections and connection to
// rooms, each split into lock stripes so that operations on unrelated rooms
// do not contend. A connection stripe is always locked before a room stripe.
package rooms

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const numStripes = 64

type Namespace string

const (
	NamespaceWorkspace Namespace = "workspace"
	NamespaceChannel   Namespace = "channel"
	NamespaceUser      Namespace = "user"
)

func WorkspaceRoom(id string) string { return string(NamespaceWorkspace) + ":" + id }
func ChannelRoom(id string) string   { return string(NamespaceChannel) + ":" + id }
func UserRoom(id string) string      { return string(NamespaceUser) + ":" + id }

// ParseRoom splits a room name into its namespace and id.
func ParseRoom(name string) (Namespace, string, bool) {
	ns, id, ok := strings.Cut(name, ":")
	if !ok || id == "" {
		return "", "", false
	}

	switch Namespace(ns) {
	case NamespaceWorkspace, NamespaceChannel, NamespaceUser:
		return Namespace(ns), id, true
	}

	return "", "", false
}

type set map[string]struct{}

type stripe struct {
	mu    sync.RWMutex
	index map[string]set
}

func (s *stripe) add(key, member string) bool {
	members, ok := s.index[key]
	if !ok {
		members = make(set)
		s.index[key] = members
	}
	if _, ok := members[member]; ok {
		return false
	}
	members[member] = struct{}{}
	return true
}

func (s *stripe) remove(key, member string) bool {
	members, ok := s.index[key]
	if !ok {
		return false
	}
	if _, ok := members[member]; !ok {
		return false
	}
	delete(members, member)
	if len(members) == 0 {
		delete(s.index, key)
	}
	return true
}

func (s *stripe) list(key string) []string {
	members := s.index[key]
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

type Registry struct {
	rooms [numStripes]stripe
	conns [numStripes]stripe
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range numStripes {
		r.rooms[i].index = make(map[string]set)
		r.conns[i].index = make(map[string]set)
	}
	return r
}

func stripeFor(key string) uint64 {
	return xxhash.Sum64String(key) % numStripes
}

func (r *Registry) roomStripe(room string) *stripe {
	return &r.rooms[stripeFor(room)]
}

func (r *Registry) connStripe(connId string) *stripe {
	return &r.conns[stripeFor(connId)]
}

// Join adds the connection to the room. It reports whether the connection was
// newly added; joining a room twice is a no-op.
func (r *Registry) Join(connId, room string) bool {
	cs := r.connStripe(connId)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	rs := r.roomStripe(room)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	added := rs.add(room, connId)
	cs.add(connId, room)
	return added
}

// Leave removes the connection from the room, deleting the room when it
// becomes empty. It reports whether the connection was a member.
func (r *Registry) Leave(connId, room string) bool {
	cs := r.connStripe(connId)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	rs := r.roomStripe(room)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	cs.remove(connId, room)
	return rs.remove(room, connId)
}

// LeaveAll removes the connection from every room it joined and returns the
// rooms it vacated.
func (r *Registry) LeaveAll(connId string) []string {
	cs := r.connStripe(connId)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	vacated := cs.list(connId)
	delete(cs.index, connId)

	for _, room := range vacated {
		rs := r.roomStripe(room)
		rs.mu.Lock()
		rs.remove(room, connId)
		rs.mu.Unlock()
	}

	return vacated
}

// MembersOf returns the connections currently joined to room. Unknown rooms
// have no members.
func (r *Registry) MembersOf(room string) []string {
	rs := r.roomStripe(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	return rs.list(room)
}

func (r *Registry) RoomsOf(connId string) []string {
	cs := r.connStripe(connId)
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return cs.list(connId)
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	n := 0
	for i := range numStripes {
		rs := &r.rooms[i]
		rs.mu.RLock()
		n += len(rs.index)
		rs.mu.RUnlock()
	}
	return n
}
