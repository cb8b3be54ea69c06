package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-teamchat/internal/database"
	"github.com/npezzotti/go-teamchat/internal/presence"
	"github.com/npezzotti/go-teamchat/internal/rooms"
	"github.com/npezzotti/go-teamchat/internal/stats"
	"go.uber.org/zap"
)

const (
	metricActiveConnections        = "active_connections"
	metricAuthenticatedConnections = "authenticated_connections"
	metricEventsRouted             = "events_routed_total"
	metricEventsDenied             = "events_denied_total"
	metricOnlineUsers              = "online_users"
	metricActiveRooms              = "active_rooms"

	presenceWriteTimeout = 2 * time.Second
	minReapInterval      = 10 * time.Millisecond
)

// Issuer verifies credential tokens and returns the user id they were
// issued to.
type Issuer interface {
	Verify(ctx context.Context, token string) (string, error)
}

type Options struct {
	// AuthTimeout is how long a session may stay unauthenticated before it
	// is closed.
	AuthTimeout time.Duration
	// RateLimit and RateBurst bound inbound frames per connection.
	RateLimit float64
	RateBurst int
}

type ChatServer struct {
	log          *zap.SugaredLogger
	db           database.GoChatRepository
	presenceDb   database.PresenceStore
	issuer       Issuer
	stats        stats.StatsProvider
	opts         Options
	registry     *rooms.Registry
	tracker      *presence.Tracker
	router       *Router
	sessions     map[string]*Session
	sessionsLock sync.RWMutex
	stopOnce     sync.Once
	stop         chan struct{}
	done         chan struct{}
}

// NewChatServer wires the realtime layer together. presenceDb may be nil, in
// which case presence is kept in memory only.
func NewChatServer(
	logger *zap.SugaredLogger,
	db database.GoChatRepository,
	presenceDb database.PresenceStore,
	issuer Issuer,
	su stats.StatsProvider,
	opts Options,
) (*ChatServer, error) {
	registry := rooms.NewRegistry()
	tracker := presence.NewTracker(registry)

	cs := &ChatServer{
		log:        logger,
		db:         db,
		presenceDb: presenceDb,
		issuer:     issuer,
		stats:      su,
		opts:       opts,
		registry:   registry,
		tracker:    tracker,
		sessions:   make(map[string]*Session),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	cs.router = NewRouter(db, registry, tracker, cs.broadcast, cs.announce)

	su.RegisterMetric(metricActiveConnections)
	su.RegisterMetric(metricAuthenticatedConnections)
	su.RegisterCounter(metricEventsRouted)
	su.RegisterCounter(metricEventsDenied)
	su.RegisterGaugeFunc(metricOnlineUsers, func() float64 { return float64(tracker.OnlineCount()) })
	su.RegisterGaugeFunc(metricActiveRooms, func() float64 { return float64(registry.Len()) })

	return cs, nil
}

func (cs *ChatServer) Router() *Router {
	return cs.router
}

// NewSession registers a pending session for a freshly accepted connection.
func (cs *ChatServer) NewSession() (*Session, error) {
	select {
	case <-cs.stop:
		return nil, ErrServiceUnavailable
	default:
	}

	s, err := newSession(cs)
	if err != nil {
		return nil, err
	}

	cs.sessionsLock.Lock()
	cs.sessions[s.id] = s
	cs.sessionsLock.Unlock()

	cs.stats.Incr(metricActiveConnections)
	cs.log.Debugw("session opened", "session_id", s.id)

	go s.process()
	return s, nil
}

func (cs *ChatServer) getSession(id string) (*Session, bool) {
	cs.sessionsLock.RLock()
	defer cs.sessionsLock.RUnlock()
	s, ok := cs.sessions[id]
	return s, ok
}

func (cs *ChatServer) snapshot() []*Session {
	cs.sessionsLock.RLock()
	defer cs.sessionsLock.RUnlock()

	out := make([]*Session, 0, len(cs.sessions))
	for _, s := range cs.sessions {
		out = append(out, s)
	}
	return out
}

// sessionClosed releases everything a session held. It runs once per
// session, from Session.Close.
func (cs *ChatServer) sessionClosed(s *Session, prev sessionState, userId string) {
	cs.sessionsLock.Lock()
	delete(cs.sessions, s.id)
	cs.sessionsLock.Unlock()

	vacated := cs.registry.LeaveAll(s.id)
	cs.stats.Decr(metricActiveConnections)
	cs.log.Debugw("session closed", "session_id", s.id, "user_id", userId, "rooms", len(vacated))

	if prev != stateAuthenticated {
		return
	}

	cs.stats.Decr(metricAuthenticatedConnections)
	cs.announce(cs.tracker.ConnectionClosed(userId, s.id))
}

// announce broadcasts a presence change and projects it to the presence
// store. A nil announcement is ignored.
func (cs *ChatServer) announce(ann *presence.Announcement) {
	if ann == nil {
		return
	}

	cs.broadcastPresence(ann)
	cs.persistPresence(ann.UserId)
}

func (cs *ChatServer) broadcastPresence(ann *presence.Announcement) {
	if ann == nil {
		return
	}

	n := cs.broadcast(Route{Rooms: ann.Rooms, Exclude: ann.ConnId}, presenceMessage(ann))
	cs.log.Debugw("presence changed", "user_id", ann.UserId, "kind", ann.Kind, "delivered", n)
}

func (cs *ChatServer) persistPresence(userId string) {
	if cs.presenceDb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()

	if err := cs.presenceDb.SavePresence(ctx, cs.tracker.Get(userId)); err != nil {
		cs.log.Warnw("failed to save presence", "user_id", userId, "error", err)
	}
}

// Presence returns the user's live presence. For users with no connections
// the stored record is preferred since it survives restarts.
func (cs *ChatServer) Presence(ctx context.Context, userId string) presence.Record {
	rec := cs.tracker.Get(userId)
	if rec.Connections > 0 || rec.LastSeen != nil || cs.presenceDb == nil {
		return rec
	}

	stored, err := cs.presenceDb.GetPresence(ctx, userId)
	if err != nil {
		return rec
	}

	stored.Status = rec.Status
	stored.Connections = 0
	return stored
}

// broadcast queues msg once on every connection in the route's rooms,
// except the excluded one. It returns the number of connections reached.
func (cs *ChatServer) broadcast(route Route, msg *ServerMessage) int {
	seen := make(map[string]struct{})
	n := 0

	for _, room := range route.Rooms {
		for _, connId := range cs.registry.MembersOf(room) {
			if connId == route.Exclude {
				continue
			}
			if _, ok := seen[connId]; ok {
				continue
			}
			seen[connId] = struct{}{}

			if s, ok := cs.getSession(connId); ok && s.queueMessage(msg) {
				n++
			}
		}
	}

	return n
}

func (cs *ChatServer) reapInterval() time.Duration {
	return max(cs.opts.AuthTimeout/4, minReapInterval)
}

// reapPending closes sessions that have not authenticated within the grace
// period.
func (cs *ChatServer) reapPending(now time.Time) {
	for _, s := range cs.snapshot() {
		if s.State() == statePending && now.Sub(s.openedAt) >= cs.opts.AuthTimeout {
			cs.log.Infow("closing unauthenticated session", "session_id", s.id)
			s.Close()
		}
	}
}

func (cs *ChatServer) Run() {
	ticker := time.NewTicker(cs.reapInterval())
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			cs.reapPending(now)
		case <-cs.stop:
			cs.log.Info("closing sessions")
			for _, s := range cs.snapshot() {
				s.Close()
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")
	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
