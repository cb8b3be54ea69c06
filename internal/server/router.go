package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-teamchat/internal/authz"
	"github.com/npezzotti/go-teamchat/internal/database"
	"github.com/npezzotti/go-teamchat/internal/presence"
	"github.com/npezzotti/go-teamchat/internal/rooms"
	"github.com/npezzotti/go-teamchat/internal/types"
)

// Route is the set of connections an event fans out to: every member of
// Rooms except Exclude.
type Route struct {
	Rooms   []string
	Exclude string
}

// Origin identifies who caused an event. ConnId is empty for events that
// arrive over REST.
type Origin struct {
	UserId string
	ConnId string
}

// Router authorizes inbound events, writes them to the message store and
// fans them out. Store and membership lookups happen before any room lock is
// taken, and nothing is fanned out unless the write succeeded.
type Router struct {
	db       database.GoChatRepository
	registry *rooms.Registry
	tracker  *presence.Tracker
	fanout   func(Route, *ServerMessage) int
	announce func(*presence.Announcement)
	now      func() time.Time
}

func NewRouter(
	db database.GoChatRepository,
	registry *rooms.Registry,
	tracker *presence.Tracker,
	fanout func(Route, *ServerMessage) int,
	announce func(*presence.Announcement),
) *Router {
	return &Router{
		db:       db,
		registry: registry,
		tracker:  tracker,
		fanout:   fanout,
		announce: announce,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch routes a validated envelope from an authenticated session and
// returns the reply for that session.
func (r *Router) Dispatch(ctx context.Context, s *Session, msg *ClientMessage) (*ServerMessage, error) {
	from := s.origin()

	switch {
	case msg.JoinChannel != nil:
		joined, err := r.JoinChannel(ctx, s, msg.JoinChannel.ChannelId)
		if err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, map[string]any{"channel_id": msg.JoinChannel.ChannelId, "joined": joined}), nil

	case msg.LeaveChannel != nil:
		left, err := r.LeaveChannel(s, msg.LeaveChannel.ChannelId)
		if err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, map[string]any{"channel_id": msg.LeaveChannel.ChannelId, "left": left}), nil

	case msg.TypingStart != nil:
		if err := r.Typing(ctx, from, msg.TypingStart, true); err != nil {
			return nil, err
		}
		return NoErrAccepted(msg.Id), nil

	case msg.TypingStop != nil:
		if err := r.Typing(ctx, from, msg.TypingStop, false); err != nil {
			return nil, err
		}
		return NoErrAccepted(msg.Id), nil

	case msg.NewMessage != nil:
		if prev := s.lastCreated(msg.Id); prev != nil {
			return NoErrOK(msg.Id, prev), nil
		}
		created, err := r.CreateMessage(ctx, from, msg.NewMessage)
		if err != nil {
			return nil, err
		}
		s.recordCreated(msg.Id, created)
		return NoErrOK(msg.Id, created), nil

	case msg.MessageUpdated != nil:
		updated, err := r.EditMessage(ctx, from, msg.MessageUpdated)
		if err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, updated), nil

	case msg.MessageDeleted != nil:
		if err := r.DeleteMessage(ctx, from, msg.MessageDeleted.MessageId); err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, msg.MessageDeleted), nil

	case msg.ReactionAdded != nil:
		ev, err := r.AddReaction(ctx, from, msg.ReactionAdded)
		if err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, ev), nil

	case msg.ReactionRemoved != nil:
		ev, err := r.RemoveReaction(ctx, from, msg.ReactionRemoved)
		if err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, ev), nil

	case msg.StatusChange != nil:
		if err := r.SetStatus(from, msg.StatusChange.Status); err != nil {
			return nil, err
		}
		return NoErrOK(msg.Id, msg.StatusChange), nil
	}

	return nil, ErrInvalidMessage
}

// AuthorizeChannel loads the channel and checks userId may see it. Public
// channels are open to every member of their workspace.
func (r *Router) AuthorizeChannel(ctx context.Context, userId, channelId string) (*types.Channel, error) {
	ch, err := r.db.GetChannel(ctx, channelId)
	if err != nil {
		return nil, storeError(err)
	}

	if ch.IsPrivate {
		if !authz.CanAccessChannel(userId, ch) {
			return nil, fmt.Errorf("%w: channel %q", ErrDenied, channelId)
		}
		return ch, nil
	}

	ws, err := r.db.GetWorkspace(ctx, ch.WorkspaceId)
	if err != nil {
		return nil, storeError(err)
	}
	if !authz.CanAccessWorkspace(userId, ws) {
		return nil, fmt.Errorf("%w: channel %q", ErrDenied, channelId)
	}

	return ch, nil
}

// authorizeMessage checks userId may see msg: a party to a direct message,
// or someone with access to the channel it was posted in.
func (r *Router) authorizeMessage(ctx context.Context, userId string, msg *types.Message) error {
	if msg.IsDirect() {
		if !authz.CanAccessDirect(userId, msg) {
			return fmt.Errorf("%w: message %q", ErrDenied, msg.Id)
		}
		return nil
	}

	_, err := r.AuthorizeChannel(ctx, userId, msg.ChannelId)
	return err
}

func (r *Router) getMessage(ctx context.Context, id string) (*types.Message, error) {
	msg, err := r.db.GetMessage(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return msg, nil
}

// messageRoute is the room set an existing message's events fan out to.
func messageRoute(msg *types.Message) Route {
	if msg.IsDirect() {
		return Route{Rooms: []string{rooms.UserRoom(msg.SenderId), rooms.UserRoom(msg.RecipientId)}}
	}
	return Route{Rooms: []string{rooms.ChannelRoom(msg.ChannelId)}}
}

func (r *Router) JoinChannel(ctx context.Context, s *Session, channelId string) (bool, error) {
	ch, err := r.AuthorizeChannel(ctx, s.UserId(), channelId)
	if err != nil {
		return false, err
	}

	var joined bool
	err = s.withOpen(func() {
		joined = r.registry.Join(s.id, rooms.ChannelRoom(ch.Id))
	})
	return joined, err
}

// LeaveChannel needs no access check: leaving a room the connection is not
// in does nothing.
func (r *Router) LeaveChannel(s *Session, channelId string) (bool, error) {
	var left bool
	err := s.withOpen(func() {
		left = r.registry.Leave(s.id, rooms.ChannelRoom(channelId))
	})
	return left, err
}

// EvictFromChannel removes every live connection of userId from the channel
// room, for use after a moderator takes the user off the channel. It returns
// how many connections were in the room. Only the channel creator or a
// workspace admin may evict.
func (r *Router) EvictFromChannel(ctx context.Context, from Origin, channelId, userId string) (int, error) {
	ch, err := r.db.GetChannel(ctx, channelId)
	if err != nil {
		return 0, storeError(err)
	}

	ws, err := r.db.GetWorkspace(ctx, ch.WorkspaceId)
	if err != nil {
		return 0, storeError(err)
	}
	if !authz.CanModerateChannel(from.UserId, ch, ws) {
		return 0, fmt.Errorf("%w: moderate channel %q", ErrDenied, channelId)
	}

	room := rooms.ChannelRoom(ch.Id)
	var evicted int
	for _, connId := range r.registry.MembersOf(rooms.UserRoom(userId)) {
		if r.registry.Leave(connId, room) {
			evicted++
		}
	}

	return evicted, nil
}

// Typing relays a typing indicator to a channel, leaving out the sender's
// connection, or to the recipient of a direct conversation.
func (r *Router) Typing(ctx context.Context, from Origin, t *Typing, isTyping bool) error {
	var route Route
	if t.IsDirect {
		if _, err := r.db.GetUser(ctx, t.RecipientId); err != nil {
			return storeError(err)
		}
		route = Route{Rooms: []string{rooms.UserRoom(t.RecipientId)}, Exclude: from.ConnId}
	} else {
		if _, err := r.AuthorizeChannel(ctx, from.UserId, t.ChannelId); err != nil {
			return err
		}
		route = Route{Rooms: []string{rooms.ChannelRoom(t.ChannelId)}, Exclude: from.ConnId}
	}

	out := newServerMessage(0)
	out.UserTyping = &TypingEvent{
		UserId:    from.UserId,
		ChannelId: t.ChannelId,
		IsTyping:  isTyping,
	}
	r.fanout(route, out)

	return nil
}

// CreateMessage stores a new channel or direct message and fans it out to
// the channel, or to both parties of a direct message.
func (r *Router) CreateMessage(ctx context.Context, from Origin, nm *NewMessage) (*types.Message, error) {
	var route Route
	if nm.RecipientId != "" {
		if _, err := r.db.GetUser(ctx, nm.RecipientId); err != nil {
			return nil, storeError(err)
		}
		route = Route{Rooms: []string{rooms.UserRoom(from.UserId), rooms.UserRoom(nm.RecipientId)}}
	} else {
		if _, err := r.AuthorizeChannel(ctx, from.UserId, nm.ChannelId); err != nil {
			return nil, err
		}
		route = Route{Rooms: []string{rooms.ChannelRoom(nm.ChannelId)}}
	}

	created, err := r.db.CreateMessage(ctx, types.Message{
		SenderId:    from.UserId,
		ChannelId:   nm.ChannelId,
		RecipientId: nm.RecipientId,
		Content:     nm.Content,
		ThreadId:    nm.ThreadId,
		Attachments: nm.Attachments,
		CreatedAt:   r.now(),
	})
	if err != nil {
		return nil, storeError(err)
	}

	out := newServerMessage(0)
	out.NewMessage = created
	r.fanout(route, out)

	return created, nil
}

// EditMessage replaces the content of a message its sender posted less than
// authz.EditWindow ago and marks it edited.
func (r *Router) EditMessage(ctx context.Context, from Origin, mu *MessageUpdate) (*types.Message, error) {
	msg, err := r.getMessage(ctx, mu.MessageId)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if !authz.CanEditMessage(from.UserId, msg, now) {
		return nil, fmt.Errorf("%w: edit message %q", ErrDenied, msg.Id)
	}

	edited := types.Edited{At: now, By: from.UserId}
	if err := r.db.UpdateMessage(ctx, msg.Id, mu.Content, edited); err != nil {
		return nil, storeError(err)
	}

	msg.Content = mu.Content
	msg.Edited = &edited

	out := newServerMessage(0)
	out.MessageUpdated = msg
	r.fanout(messageRoute(msg), out)

	return msg, nil
}

// DeleteMessage removes a message on behalf of its sender or an admin of
// the workspace it was posted in. Only the id is fanned out.
func (r *Router) DeleteMessage(ctx context.Context, from Origin, messageId string) error {
	msg, err := r.getMessage(ctx, messageId)
	if err != nil {
		return err
	}

	ws, err := r.messageWorkspace(ctx, msg)
	if err != nil {
		return err
	}
	if !authz.CanDeleteMessage(from.UserId, msg, ws) {
		return fmt.Errorf("%w: delete message %q", ErrDenied, msg.Id)
	}

	if err := r.db.DeleteMessage(ctx, msg.Id); err != nil {
		return storeError(err)
	}

	out := newServerMessage(0)
	out.MessageDeleted = &MessageRef{MessageId: msg.Id}
	r.fanout(messageRoute(msg), out)

	return nil
}

// messageWorkspace returns the workspace a channel message belongs to, or
// nil for direct messages and messages whose channel is gone.
func (r *Router) messageWorkspace(ctx context.Context, msg *types.Message) (*types.Workspace, error) {
	if msg.IsDirect() {
		return nil, nil
	}

	ch, err := r.db.GetChannel(ctx, msg.ChannelId)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}

	ws, err := r.db.GetWorkspace(ctx, ch.WorkspaceId)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}

	return ws, nil
}

// AddReaction adds the user to the emoji's reaction. Reacting twice changes
// nothing and returns the current reaction without a write or broadcast.
func (r *Router) AddReaction(ctx context.Context, from Origin, rc *ReactionChange) (*ReactionEvent, error) {
	return r.react(ctx, from, rc, true)
}

// RemoveReaction is the inverse of AddReaction and is idempotent the same
// way.
func (r *Router) RemoveReaction(ctx context.Context, from Origin, rc *ReactionChange) (*ReactionEvent, error) {
	return r.react(ctx, from, rc, false)
}

func (r *Router) react(ctx context.Context, from Origin, rc *ReactionChange, add bool) (*ReactionEvent, error) {
	msg, err := r.getMessage(ctx, rc.MessageId)
	if err != nil {
		return nil, err
	}
	if err := r.authorizeMessage(ctx, from.UserId, msg); err != nil {
		return nil, err
	}

	var changed bool
	if add {
		changed = msg.AddReaction(rc.Emoji, from.UserId)
	} else {
		changed = msg.RemoveReaction(rc.Emoji, from.UserId)
	}
	if !changed {
		return &ReactionEvent{MessageId: msg.Id, Reaction: msg.FindReaction(rc.Emoji)}, nil
	}

	// the snapshot may be stale under concurrent reactions, so the event
	// carries the reactor set the store holds after the write
	var users []string
	if add {
		users, err = r.db.AddReaction(ctx, msg.Id, rc.Emoji, from.UserId)
	} else {
		users, err = r.db.RemoveReaction(ctx, msg.Id, rc.Emoji, from.UserId)
	}
	if err != nil {
		return nil, storeError(err)
	}
	if users == nil {
		users = []string{}
	}

	ev := &ReactionEvent{MessageId: msg.Id, Reaction: types.Reaction{Emoji: rc.Emoji, Users: users}}
	out := newServerMessage(0)
	if add {
		out.ReactionAdded = ev
	} else {
		out.ReactionRemoved = ev
	}

	r.fanout(messageRoute(msg), out)
	return ev, nil
}

// SetStatus switches a connected user between online and away and tells
// every workspace they are connected to.
func (r *Router) SetStatus(from Origin, status types.Status) error {
	ann, err := r.tracker.SetStatus(from.UserId, status)
	if err != nil {
		return presenceError(err)
	}

	r.announce(ann)
	return nil
}
