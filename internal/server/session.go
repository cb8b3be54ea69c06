package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-teamchat/internal/rooms"
	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
)

const (
	sendBufferSize  = 256
	inboxSize       = 64
	dispatchTimeout = 10 * time.Second
)

type sessionState int

const (
	statePending sessionState = iota
	stateAuthenticated
	stateClosed
)

func (st sessionState) String() string {
	switch st {
	case statePending:
		return "pending"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

type created struct {
	envelopeId int
	message    *types.Message
}

// Session is the server side of one connection. Inbound envelopes are
// handled one at a time, in arrival order, by the session's own goroutine.
type Session struct {
	id       string
	cs       *ChatServer
	log      *zap.SugaredLogger
	openedAt time.Time

	mu     sync.Mutex
	state  sessionState
	userId string
	// seq counts messages created through this session; last is the most
	// recent one, kept to answer a retried envelope without re-sending it.
	seq  int
	last *created

	send      chan *ServerMessage
	inbox     chan *ClientMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(cs *ChatServer) (*Session, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	return &Session{
		id:       id,
		cs:       cs,
		log:      cs.log.With("session_id", id),
		openedAt: time.Now(),
		send:     make(chan *ServerMessage, sendBufferSize),
		inbox:    make(chan *ClientMessage, inboxSize),
		done:     make(chan struct{}),
	}, nil
}

func (s *Session) Id() string {
	return s.id
}

// UserId returns the bound identity, or "" before authentication. It stays
// set after the session closes.
func (s *Session) UserId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userId
}

func (s *Session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) origin() Origin {
	return Origin{UserId: s.UserId(), ConnId: s.id}
}

// withOpen runs fn while the session is authenticated and cannot close.
func (s *Session) withOpen(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAuthenticated {
		return ErrInvalidState
	}
	fn()
	return nil
}

func (s *Session) queueMessage(msg *ServerMessage) bool {
	select {
	case s.send <- msg:
	default:
		s.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

// Enqueue hands an inbound envelope to the session's goroutine. A full inbox
// is answered with ErrServiceUnavailable.
func (s *Session) Enqueue(msg *ClientMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.inbox <- msg:
		return true
	default:
		s.log.Warn("inbox full")
		s.queueMessage(ErrResponse(msg.Id, ErrServiceUnavailable))
		return false
	}
}

func (s *Session) process() {
	for {
		select {
		case msg := <-s.inbox:
			s.handle(msg)
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain finishes writes that were already queued when the connection went
// away. Everything else is dropped.
func (s *Session) drain() {
	for {
		select {
		case msg := <-s.inbox:
			switch msg.Kind() {
			case "new_message", "message_updated", "message_deleted", "reaction_added", "reaction_removed":
				s.handle(msg)
			}
		default:
			return
		}
	}
}

func (s *Session) handle(msg *ClientMessage) {
	// detached from the connection so a disconnect does not abort the event
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	s.queueMessage(s.dispatch(ctx, msg))
}

func (s *Session) dispatch(ctx context.Context, msg *ClientMessage) *ServerMessage {
	// pending sessions may only authenticate, whatever else they send
	if msg.Authenticate == nil && s.UserId() == "" {
		return ErrResponse(msg.Id, ErrUnauthenticated)
	}

	if err := msg.Validate(); err != nil {
		return ErrResponse(msg.Id, err)
	}

	if msg.Authenticate != nil {
		auth, err := s.Authenticate(ctx, msg.Authenticate.Token)
		if errors.Is(err, ErrAuthenticationFailure) {
			s.log.Infow("authentication failed", "error", err)
			return AuthenticationError(msg.Id)
		}
		if err != nil {
			s.log.Warnw("authenticate", "error", err)
			return ErrResponse(msg.Id, err)
		}

		resp := newServerMessage(msg.Id)
		resp.Authenticated = auth
		return resp
	}

	resp, err := s.cs.router.Dispatch(ctx, s, msg)
	if err != nil {
		if errors.Is(err, ErrDenied) {
			s.cs.stats.Incr(metricEventsDenied)
		}
		s.log.Debugw("event rejected", "kind", msg.Kind(), "error", err)
		return ErrResponse(msg.Id, err)
	}

	s.cs.stats.Incr(metricEventsRouted)
	return resp
}

// Authenticate binds the session to the token's identity, joins its user and
// workspace rooms and announces the user online when this is their first
// connection. On failure the session stays pending.
func (s *Session) Authenticate(ctx context.Context, token string) (*Authenticated, error) {
	if s.State() != statePending {
		return nil, ErrInvalidState
	}

	userId, err := s.cs.issuer.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}

	workspaces, err := s.cs.db.GetUserWorkspaces(ctx, userId)
	if err != nil {
		return nil, storeError(err)
	}

	s.mu.Lock()
	if s.state != statePending {
		s.mu.Unlock()
		return nil, ErrInvalidState
	}
	s.state = stateAuthenticated
	s.userId = userId

	s.cs.registry.Join(s.id, rooms.UserRoom(userId))
	for _, w := range workspaces {
		s.cs.registry.Join(s.id, rooms.WorkspaceRoom(w))
	}
	// broadcast before unlocking so a concurrent Close cannot announce
	// offline ahead of online
	ann := s.cs.tracker.ConnectionOpened(userId, s.id)
	s.cs.broadcastPresence(ann)
	s.mu.Unlock()

	s.cs.stats.Incr(metricAuthenticatedConnections)
	if ann != nil {
		s.cs.persistPresence(userId)
	}
	s.log.Infow("session authenticated", "user_id", userId, "workspaces", len(workspaces))

	return &Authenticated{
		UserId:     userId,
		SessionId:  s.id,
		Workspaces: workspaces,
	}, nil
}

// Close ends the session. Only the first call has any effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		userId := s.userId
		s.state = stateClosed
		s.mu.Unlock()

		close(s.done)
		s.cs.sessionClosed(s, prev, userId)
	})
}

func (s *Session) lastCreated(envelopeId int) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if envelopeId <= 0 || s.last == nil || s.last.envelopeId != envelopeId {
		return nil
	}
	return s.last.message
}

func (s *Session) recordCreated(envelopeId int, msg *types.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.last = &created{envelopeId: envelopeId, message: msg}
	return s.seq
}
