// Package authz holds the authorization decisions shared by the REST handlers
// and the realtime router. Every function is pure: callers fetch the
// membership data and pass it in.
package authz

import (
	"slices"
	"time"

	"github.com/npezzotti/go-teamchat/internal/types"
)

// EditWindow is how long after creation a sender may edit a message.
const EditWindow = 15 * time.Minute

func RoleOf(userId string, workspace *types.Workspace) (types.Role, bool) {
	if workspace == nil {
		return "", false
	}

	for _, m := range workspace.Members {
		if m.UserId == userId {
			return m.Role, true
		}
	}

	return "", false
}

func isAdmin(userId string, workspace *types.Workspace) bool {
	role, ok := RoleOf(userId, workspace)
	return ok && role == types.RoleAdmin
}

func CanAccessWorkspace(userId string, workspace *types.Workspace) bool {
	_, ok := RoleOf(userId, workspace)
	return ok
}

// CanAccessChannel reports whether the channel is public or userId is one of
// its members. Workspace membership for public channels is checked separately
// with CanAccessWorkspace.
func CanAccessChannel(userId string, channel *types.Channel) bool {
	if channel == nil {
		return false
	}

	return !channel.IsPrivate || slices.Contains(channel.Members, userId)
}

func CanModerateChannel(userId string, channel *types.Channel, workspace *types.Workspace) bool {
	if channel == nil {
		return false
	}

	return channel.CreatedBy == userId || isAdmin(userId, workspace)
}

func CanEditMessage(userId string, message *types.Message, now time.Time) bool {
	if message == nil || message.SenderId != userId {
		return false
	}

	return now.Sub(message.CreatedAt) < EditWindow
}

// CanDeleteMessage allows the sender, or an admin of the workspace the
// message was posted in. workspace is nil for direct messages.
func CanDeleteMessage(userId string, message *types.Message, workspace *types.Workspace) bool {
	if message == nil {
		return false
	}

	return message.SenderId == userId || isAdmin(userId, workspace)
}

// CanAccessDirect reports whether userId is a party to a direct message.
func CanAccessDirect(userId string, message *types.Message) bool {
	if message == nil {
		return false
	}

	return message.SenderId == userId || message.RecipientId == userId
}
