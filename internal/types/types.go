package types

import (
	"encoding/json"
	"slices"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleGuest  Role = "guest"
)

// Identity is the projection of a user the realtime layer holds while the
// user has live connections.
type Identity struct {
	Id       string     `json:"id"`
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

type WorkspaceMember struct {
	UserId string `json:"user_id"`
	Role   Role   `json:"role"`
}

type Workspace struct {
	Id       string            `json:"id"`
	Name     string            `json:"name"`
	Members  []WorkspaceMember `json:"members"`
	Channels []string          `json:"channels"`
}

type Channel struct {
	Id          string   `json:"id"`
	WorkspaceId string   `json:"workspace_id"`
	Name        string   `json:"name"`
	Members     []string `json:"members"`
	IsPrivate   bool     `json:"is_private"`
	CreatedBy   string   `json:"created_by"`
}

type Edited struct {
	At time.Time `json:"at"`
	By string    `json:"by"`
}

type Message struct {
	Id          string     `json:"id"`
	SenderId    string     `json:"sender_id"`
	ChannelId   string     `json:"channel_id,omitempty"`
	RecipientId string     `json:"recipient_id,omitempty"`
	Content     string     `json:"content"`
	ThreadId    string     `json:"thread_id,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	Reactions   []Reaction `json:"reactions,omitempty"`
	Edited      *Edited    `json:"edited,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (m *Message) IsDirect() bool {
	return m.ChannelId == ""
}

// Reaction reports its count as the size of its user set; the count is
// never stored on its own.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

func (r Reaction) Count() int {
	return len(r.Users)
}

func (r Reaction) Has(userId string) bool {
	return slices.Contains(r.Users, userId)
}

func (r Reaction) MarshalJSON() ([]byte, error) {
	users := r.Users
	if users == nil {
		users = []string{}
	}

	return json.Marshal(struct {
		Emoji string   `json:"emoji"`
		Users []string `json:"users"`
		Count int      `json:"count"`
	}{
		Emoji: r.Emoji,
		Users: users,
		Count: len(users),
	})
}

// FindReaction returns the reaction for emoji on the message, or an empty
// reaction with that emoji when nobody has reacted with it.
func (m *Message) FindReaction(emoji string) Reaction {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return r
		}
	}

	return Reaction{Emoji: emoji, Users: []string{}}
}

// AddReaction adds userId to the emoji's user set. It reports false when the
// user had already reacted with that emoji.
func (m *Message) AddReaction(emoji, userId string) bool {
	for i, r := range m.Reactions {
		if r.Emoji != emoji {
			continue
		}
		if r.Has(userId) {
			return false
		}
		m.Reactions[i].Users = append(m.Reactions[i].Users, userId)
		return true
	}

	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, Users: []string{userId}})
	return true
}

// RemoveReaction removes userId from the emoji's user set, dropping the
// reaction once nobody is left. It reports false when there was nothing to
// remove.
func (m *Message) RemoveReaction(emoji, userId string) bool {
	for i, r := range m.Reactions {
		if r.Emoji != emoji {
			continue
		}
		idx := slices.Index(r.Users, userId)
		if idx < 0 {
			return false
		}
		m.Reactions[i].Users = slices.Delete(slices.Clone(r.Users), idx, idx+1)
		if len(m.Reactions[i].Users) == 0 {
			m.Reactions = slices.Delete(m.Reactions, i, i+1)
		}
		return true
	}

	return false
}
