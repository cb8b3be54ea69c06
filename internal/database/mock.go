package database

import (
	"context"

	"github.com/npezzotti/go-teamchat/internal/presence"
	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetWorkspace(ctx context.Context, id string) (*types.Workspace, error) {
	args := m.Called(ctx, id)
	if ws, ok := args.Get(0).(*types.Workspace); ok {
		return ws, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	args := m.Called(ctx, id)
	if ch, ok := args.Get(0).(*types.Channel); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetUserWorkspaces(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(ctx, userId)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetUser(ctx context.Context, id string) (*types.User, error) {
	args := m.Called(ctx, id)
	if u, ok := args.Get(0).(*types.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	args := m.Called(ctx, id)
	if msg, ok := args.Get(0).(*types.Message); ok {
		// hand out a copy so callers can mutate it freely
		cp := *msg
		cp.Reactions = make([]types.Reaction, len(msg.Reactions))
		for i, r := range msg.Reactions {
			cp.Reactions[i] = types.Reaction{Emoji: r.Emoji, Users: append([]string(nil), r.Users...)}
		}
		return &cp, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	args := m.Called(ctx, msg)
	if created, ok := args.Get(0).(*types.Message); ok {
		return created, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) UpdateMessage(ctx context.Context, id, content string, edited types.Edited) error {
	args := m.Called(ctx, id, content, edited)
	return args.Error(0)
}
func (m *MockGoChatRepository) DeleteMessage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockGoChatRepository) AddReaction(ctx context.Context, messageId, emoji, userId string) ([]string, error) {
	args := m.Called(ctx, messageId, emoji, userId)
	if users, ok := args.Get(0).([]string); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) RemoveReaction(ctx context.Context, messageId, emoji, userId string) ([]string, error) {
	args := m.Called(ctx, messageId, emoji, userId)
	if users, ok := args.Get(0).([]string); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockPresenceStore struct {
	mock.Mock
}

func (m *MockPresenceStore) SavePresence(ctx context.Context, rec presence.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}
func (m *MockPresenceStore) GetPresence(ctx context.Context, userId string) (presence.Record, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(presence.Record), args.Error(1)
}
