// Package presence derives each user's online/away/offline status from the
// number of live connections they hold.
package presence

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/npezzotti/go-teamchat/internal/rooms"
	"github.com/npezzotti/go-teamchat/internal/types"
)

const numStripes = 32

var (
	ErrInvalidState  = errors.New("user has no active connections")
	ErrInvalidStatus = errors.New("invalid status")
)

type Kind string

const (
	KindOnline        Kind = "user_online"
	KindOffline       Kind = "user_offline"
	KindStatusChanged Kind = "user_status_changed"
)

// Announcement tells the caller to broadcast a presence change to Rooms.
// ConnId is the connection that caused it.
type Announcement struct {
	Kind     Kind
	UserId   string
	ConnId   string
	Status   types.Status
	LastSeen *time.Time
	Rooms    []string
}

type Record struct {
	UserId      string       `json:"user_id"`
	Connections int          `json:"connections"`
	Status      types.Status `json:"status"`
	LastSeen    *time.Time   `json:"last_seen,omitempty"`
}

type entry struct {
	status   types.Status
	lastSeen *time.Time
	// workspace rooms per open connection, captured when it opened
	conns map[string][]string
	// every workspace room the user was visible in since going online
	seen []string
}

type stripe struct {
	mu    sync.Mutex
	users map[string]*entry
}

type Tracker struct {
	registry *rooms.Registry
	now      func() time.Time
	stripes  [numStripes]stripe
}

func NewTracker(registry *rooms.Registry) *Tracker {
	t := &Tracker{
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for i := range numStripes {
		t.stripes[i].users = make(map[string]*entry)
	}
	return t
}

func (t *Tracker) stripe(userId string) *stripe {
	return &t.stripes[xxhash.Sum64String(userId)%numStripes]
}

func (t *Tracker) workspaceRooms(connId string) []string {
	var out []string
	for _, room := range t.registry.RoomsOf(connId) {
		if ns, _, ok := rooms.ParseRoom(room); ok && ns == rooms.NamespaceWorkspace {
			out = append(out, room)
		}
	}
	slices.Sort(out)
	return out
}

func mergeRooms(dst, src []string) []string {
	for _, r := range src {
		if !slices.Contains(dst, r) {
			dst = append(dst, r)
		}
	}
	slices.Sort(dst)
	return dst
}

func (e *entry) allRooms() []string {
	var out []string
	for _, rs := range e.conns {
		for _, r := range rs {
			if !slices.Contains(out, r) {
				out = append(out, r)
			}
		}
	}
	slices.Sort(out)
	return out
}

// ConnectionOpened counts a new connection for the user. It returns an online
// announcement when this is the user's first connection and nil otherwise.
// Opening the same connection twice is counted once.
func (t *Tracker) ConnectionOpened(userId, connId string) *Announcement {
	wsRooms := t.workspaceRooms(connId)

	s := t.stripe(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userId]
	if !ok {
		e = &entry{status: types.StatusOffline, conns: make(map[string][]string)}
		s.users[userId] = e
	}
	if _, dup := e.conns[connId]; dup {
		return nil
	}

	e.conns[connId] = wsRooms
	if len(e.conns) > 1 {
		e.seen = mergeRooms(e.seen, wsRooms)
		return nil
	}

	e.status = types.StatusOnline
	e.lastSeen = nil
	e.seen = slices.Clone(wsRooms)

	return &Announcement{
		Kind:   KindOnline,
		UserId: userId,
		ConnId: connId,
		Status: types.StatusOnline,
		Rooms:  wsRooms,
	}
}

// ConnectionClosed releases a connection. It returns an offline announcement
// with the last-seen time when the user's last connection closes and nil
// otherwise. Closing an unknown connection does nothing.
func (t *Tracker) ConnectionClosed(userId, connId string) *Announcement {
	s := t.stripe(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userId]
	if !ok {
		return nil
	}
	if _, ok := e.conns[connId]; !ok {
		return nil
	}

	delete(e.conns, connId)
	if len(e.conns) > 0 {
		return nil
	}

	now := t.now()
	e.status = types.StatusOffline
	e.lastSeen = &now
	seen := e.seen
	e.seen = nil

	return &Announcement{
		Kind:     KindOffline,
		UserId:   userId,
		ConnId:   connId,
		Status:   types.StatusOffline,
		LastSeen: &now,
		Rooms:    seen,
	}
}

// SetStatus changes the status of a connected user to online or away.
func (t *Tracker) SetStatus(userId string, status types.Status) (*Announcement, error) {
	if status != types.StatusOnline && status != types.StatusAway {
		return nil, ErrInvalidStatus
	}

	s := t.stripe(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userId]
	if !ok || len(e.conns) == 0 {
		return nil, ErrInvalidState
	}

	e.status = status

	return &Announcement{
		Kind:   KindStatusChanged,
		UserId: userId,
		Status: status,
		Rooms:  e.allRooms(),
	}, nil
}

// Get returns the user's presence. Users never seen are offline with no
// last-seen time.
func (t *Tracker) Get(userId string) Record {
	s := t.stripe(userId)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.users[userId]
	if !ok {
		return Record{UserId: userId, Status: types.StatusOffline}
	}

	return Record{
		UserId:      userId,
		Connections: len(e.conns),
		Status:      e.status,
		LastSeen:    e.lastSeen,
	}
}

// OnlineCount returns the number of users with at least one connection.
func (t *Tracker) OnlineCount() int {
	n := 0
	for i := range numStripes {
		s := &t.stripes[i]
		s.mu.Lock()
		for _, e := range s.users {
			if len(e.conns) > 0 {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}
