package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-teamchat/internal/presence"
	"github.com/npezzotti/go-teamchat/internal/types"
)

var ErrNotFound = errors.New("not found")

// MembershipStore is the read path the realtime layer uses for
// authorization and for populating rooms on connect.
type MembershipStore interface {
	GetWorkspace(ctx context.Context, id string) (*types.Workspace, error)
	GetChannel(ctx context.Context, id string) (*types.Channel, error)
	GetUserWorkspaces(ctx context.Context, userId string) ([]string, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
}

// MessageStore persists the outcome of routed events. GetMessage is used to
// authorize edits, deletes and reactions against the stored message.
// AddReaction and RemoveReaction return the emoji's reactor set as stored
// after the write.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	CreateMessage(ctx context.Context, msg types.Message) (*types.Message, error)
	UpdateMessage(ctx context.Context, id, content string, edited types.Edited) error
	DeleteMessage(ctx context.Context, id string) error
	AddReaction(ctx context.Context, messageId, emoji, userId string) ([]string, error)
	RemoveReaction(ctx context.Context, messageId, emoji, userId string) ([]string, error)
}

type GoChatRepository interface {
	MembershipStore
	MessageStore
	Ping(ctx context.Context) error
}

// PresenceStore keeps the last known presence of users so it survives the
// connections that produced it.
type PresenceStore interface {
	SavePresence(ctx context.Context, rec presence.Record) error
	GetPresence(ctx context.Context, userId string) (presence.Record, error)
}
