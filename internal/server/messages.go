package server

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/go-teamchat/internal/presence"
	"github.com/npezzotti/go-teamchat/internal/types"
)

const maxContentLength = 5000

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound envelope. Exactly one variant is set.
type ClientMessage struct {
	BaseMessage
	Authenticate    *Authenticate   `json:"authenticate,omitempty"`
	JoinChannel     *ChannelRef     `json:"join_channel,omitempty"`
	LeaveChannel    *ChannelRef     `json:"leave_channel,omitempty"`
	TypingStart     *Typing         `json:"typing_start,omitempty"`
	TypingStop      *Typing         `json:"typing_stop,omitempty"`
	NewMessage      *NewMessage     `json:"new_message,omitempty"`
	MessageUpdated  *MessageUpdate  `json:"message_updated,omitempty"`
	MessageDeleted  *MessageRef     `json:"message_deleted,omitempty"`
	ReactionAdded   *ReactionChange `json:"reaction_added,omitempty"`
	ReactionRemoved *ReactionChange `json:"reaction_removed,omitempty"`
	StatusChange    *StatusChange   `json:"status_change,omitempty"`
}

type Authenticate struct {
	Token string `json:"token"`
}

type ChannelRef struct {
	ChannelId string `json:"channel_id"`
}

type Typing struct {
	ChannelId   string `json:"channel_id,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
	RecipientId string `json:"recipient_id,omitempty"`
}

type NewMessage struct {
	ChannelId   string   `json:"channel_id,omitempty"`
	RecipientId string   `json:"recipient_id,omitempty"`
	Content     string   `json:"content"`
	ThreadId    string   `json:"thread_id,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type MessageUpdate struct {
	MessageId string `json:"message_id"`
	Content   string `json:"content"`
}

type MessageRef struct {
	MessageId string `json:"message_id"`
}

type ReactionChange struct {
	MessageId string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type StatusChange struct {
	Status types.Status `json:"status"`
}

// Kind names the variant set on the envelope, or "" when none or several
// are set.
func (m *ClientMessage) Kind() string {
	kind, n := "", 0
	set := func(ok bool, name string) {
		if ok {
			kind = name
			n++
		}
	}

	set(m.Authenticate != nil, "authenticate")
	set(m.JoinChannel != nil, "join_channel")
	set(m.LeaveChannel != nil, "leave_channel")
	set(m.TypingStart != nil, "typing_start")
	set(m.TypingStop != nil, "typing_stop")
	set(m.NewMessage != nil, "new_message")
	set(m.MessageUpdated != nil, "message_updated")
	set(m.MessageDeleted != nil, "message_deleted")
	set(m.ReactionAdded != nil, "reaction_added")
	set(m.ReactionRemoved != nil, "reaction_removed")
	set(m.StatusChange != nil, "status_change")

	if n != 1 {
		return ""
	}
	return kind
}

func validContent(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	return utf8.RuneCountInString(content) <= maxContentLength
}

// Validate checks the shape of the envelope. It does not check access.
func (m *ClientMessage) Validate() error {
	var ok bool
	switch m.Kind() {
	case "authenticate":
		ok = m.Authenticate.Token != ""
	case "join_channel":
		ok = m.JoinChannel.ChannelId != ""
	case "leave_channel":
		ok = m.LeaveChannel.ChannelId != ""
	case "typing_start":
		ok = m.TypingStart.valid()
	case "typing_stop":
		ok = m.TypingStop.valid()
	case "new_message":
		nm := m.NewMessage
		ok = validContent(nm.Content) && (nm.ChannelId == "") != (nm.RecipientId == "")
	case "message_updated":
		ok = m.MessageUpdated.MessageId != "" && validContent(m.MessageUpdated.Content)
	case "message_deleted":
		ok = m.MessageDeleted.MessageId != ""
	case "reaction_added":
		ok = m.ReactionAdded.valid()
	case "reaction_removed":
		ok = m.ReactionRemoved.valid()
	case "status_change":
		ok = m.StatusChange.Status != ""
	}

	if !ok {
		return ErrInvalidMessage
	}
	return nil
}

func (t *Typing) valid() bool {
	if t.IsDirect {
		return t.RecipientId != "" && t.ChannelId == ""
	}
	return t.ChannelId != "" && t.RecipientId == ""
}

func (r *ReactionChange) valid() bool {
	return r.MessageId != "" && strings.TrimSpace(r.Emoji) != ""
}

// ServerMessage is an outbound envelope. Exactly one variant is set.
type ServerMessage struct {
	BaseMessage
	Authenticated       *Authenticated `json:"authenticated,omitempty"`
	AuthenticationError *AuthError     `json:"authentication_error,omitempty"`
	Response            *Response      `json:"response,omitempty"`
	UserOnline          *PresenceEvent `json:"user_online,omitempty"`
	UserOffline         *PresenceEvent `json:"user_offline,omitempty"`
	UserStatusChanged   *PresenceEvent `json:"user_status_changed,omitempty"`
	UserTyping          *TypingEvent   `json:"user_typing,omitempty"`
	NewMessage          *types.Message `json:"new_message,omitempty"`
	MessageUpdated      *types.Message `json:"message_updated,omitempty"`
	MessageDeleted      *MessageRef    `json:"message_deleted,omitempty"`
	ReactionAdded       *ReactionEvent `json:"reaction_added,omitempty"`
	ReactionRemoved     *ReactionEvent `json:"reaction_removed,omitempty"`
}

type Authenticated struct {
	UserId     string   `json:"user_id"`
	SessionId  string   `json:"session_id"`
	Workspaces []string `json:"workspaces"`
}

type AuthError struct {
	Error string `json:"error"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type PresenceEvent struct {
	UserId   string       `json:"user_id"`
	Status   types.Status `json:"status"`
	LastSeen *time.Time   `json:"last_seen,omitempty"`
}

type TypingEvent struct {
	UserId    string `json:"user_id"`
	ChannelId string `json:"channel_id,omitempty"`
	IsTyping  bool   `json:"is_typing"`
}

type ReactionEvent struct {
	MessageId string         `json:"message_id"`
	Reaction  types.Reaction `json:"reaction"`
}

func newServerMessage(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusOK,
		Data:         data,
	}
	return msg
}

func NoErrAccepted(id int) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusAccepted,
	}
	return msg
}

// ErrResponse reports err against the envelope id. Only the sentinel's text
// reaches the client.
func ErrResponse(id int, err error) *ServerMessage {
	sentinel, code := classify(err)

	msg := newServerMessage(id)
	if id < 0 {
		msg.Id = 0
	}
	msg.Response = &Response{
		ResponseCode: code,
		Error:        sentinel.Error(),
	}
	return msg
}

func AuthenticationError(id int) *ServerMessage {
	msg := newServerMessage(id)
	msg.AuthenticationError = &AuthError{Error: ErrAuthenticationFailure.Error()}
	return msg
}

func presenceMessage(ann *presence.Announcement) *ServerMessage {
	msg := newServerMessage(0)
	ev := &PresenceEvent{
		UserId:   ann.UserId,
		Status:   ann.Status,
		LastSeen: ann.LastSeen,
	}

	switch ann.Kind {
	case presence.KindOnline:
		msg.UserOnline = ev
	case presence.KindOffline:
		msg.UserOffline = ev
	default:
		msg.UserStatusChanged = ev
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
