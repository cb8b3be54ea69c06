package authz

import (
	"testing"
	"time"

	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/stretchr/testify/assert"
)

var testWorkspace = &types.Workspace{
	Id: "w1",
	Members: []types.WorkspaceMember{
		{UserId: "admin", Role: types.RoleAdmin},
		{UserId: "alice", Role: types.RoleMember},
		{UserId: "guest", Role: types.RoleGuest},
	},
}

func TestCanAccessWorkspace(t *testing.T) {
	assert.True(t, CanAccessWorkspace("alice", testWorkspace))
	assert.True(t, CanAccessWorkspace("guest", testWorkspace))
	assert.False(t, CanAccessWorkspace("mallory", testWorkspace))
	assert.False(t, CanAccessWorkspace("alice", nil))
}

func TestCanAccessChannel(t *testing.T) {
	public := &types.Channel{Id: "c1", WorkspaceId: "w1"}
	private := &types.Channel{Id: "c2", WorkspaceId: "w1", IsPrivate: true, Members: []string{"alice"}}

	tcases := []struct {
		name     string
		userId   string
		channel  *types.Channel
		expected bool
	}{
		{name: "public channel", userId: "bob", channel: public, expected: true},
		{name: "private channel member", userId: "alice", channel: private, expected: true},
		{name: "private channel non-member", userId: "bob", channel: private, expected: false},
		{name: "nil channel", userId: "alice", channel: nil, expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanAccessChannel(tc.userId, tc.channel))
		})
	}
}

func TestCanModerateChannel(t *testing.T) {
	channel := &types.Channel{Id: "c1", CreatedBy: "alice"}

	assert.True(t, CanModerateChannel("alice", channel, testWorkspace), "creator")
	assert.True(t, CanModerateChannel("admin", channel, testWorkspace), "workspace admin")
	assert.False(t, CanModerateChannel("guest", channel, testWorkspace), "guest")
	assert.False(t, CanModerateChannel("admin", nil, testWorkspace), "nil channel")
}

func TestCanEditMessage(t *testing.T) {
	created := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	msg := &types.Message{Id: "m1", SenderId: "alice", CreatedAt: created}

	tcases := []struct {
		name     string
		userId   string
		elapsed  time.Duration
		expected bool
	}{
		{name: "sender at 14:59", userId: "alice", elapsed: 14*time.Minute + 59*time.Second, expected: true},
		{name: "sender at 15:00", userId: "alice", elapsed: 15 * time.Minute, expected: false},
		{name: "sender at 15:01", userId: "alice", elapsed: 15*time.Minute + time.Second, expected: false},
		{name: "other user immediately", userId: "bob", elapsed: 0, expected: false},
		{name: "admin at 14:59", userId: "admin", elapsed: 14*time.Minute + 59*time.Second, expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanEditMessage(tc.userId, msg, created.Add(tc.elapsed)))
		})
	}
}

func TestCanDeleteMessage(t *testing.T) {
	msg := &types.Message{Id: "m1", SenderId: "alice", ChannelId: "c1"}
	dm := &types.Message{Id: "m2", SenderId: "alice", RecipientId: "bob"}

	assert.True(t, CanDeleteMessage("alice", msg, testWorkspace), "sender")
	assert.True(t, CanDeleteMessage("admin", msg, testWorkspace), "admin")
	assert.False(t, CanDeleteMessage("guest", msg, testWorkspace), "guest")
	assert.False(t, CanDeleteMessage("bob", dm, nil), "dm recipient")
	assert.True(t, CanDeleteMessage("alice", dm, nil), "dm sender")
}

func TestCanAccessDirect(t *testing.T) {
	dm := &types.Message{Id: "m2", SenderId: "alice", RecipientId: "bob"}

	assert.True(t, CanAccessDirect("alice", dm))
	assert.True(t, CanAccessDirect("bob", dm))
	assert.False(t, CanAccessDirect("carol", dm))
}
