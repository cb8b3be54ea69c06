package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/npezzotti/go-teamchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PgGoChatRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &PgGoChatRepository{conn: db}, mock
}

func TestGetWorkspace(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(getWorkspaceQuery).WithArgs("w1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("w1", "acme"))
		mock.ExpectQuery(getWorkspaceMembersQuery).WithArgs("w1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "role"}).
				AddRow("alice", "admin").
				AddRow("bob", "member"))
		mock.ExpectQuery(getWorkspaceChannelQuery).WithArgs("w1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1").AddRow("c2"))

		ws, err := repo.GetWorkspace(context.Background(), "w1")
		require.NoError(t, err)
		assert.Equal(t, "acme", ws.Name)
		assert.Equal(t, []types.WorkspaceMember{
			{UserId: "alice", Role: types.RoleAdmin},
			{UserId: "bob", Role: types.RoleMember},
		}, ws.Members)
		assert.Equal(t, []string{"c1", "c2"}, ws.Channels)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(getWorkspaceQuery).WithArgs("missing").WillReturnError(sql.ErrNoRows)

		ws, err := repo.GetWorkspace(context.Background(), "missing")
		assert.Nil(t, ws)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetChannel(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(getChannelQuery).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "name", "is_private", "created_by"}).
			AddRow("c1", "w1", "general", true, "alice"))
	mock.ExpectQuery(getChannelMembersQuery).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice"))

	ch, err := repo.GetChannel(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, &types.Channel{
		Id:          "c1",
		WorkspaceId: "w1",
		Name:        "general",
		IsPrivate:   true,
		CreatedBy:   "alice",
		Members:     []string{"alice"},
	}, ch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserWorkspaces(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(getUserWorkspacesQuery).WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"workspace_id"}).AddRow("w1").AddRow("w2"))

		ids, err := repo.GetUserWorkspaces(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"w1", "w2"}, ids)
	})

	t.Run("query error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(getUserWorkspacesQuery).WithArgs("alice").WillReturnError(errors.New("boom"))

		_, err := repo.GetUserWorkspaces(context.Background(), "alice")
		assert.Error(t, err)
	})
}

func TestGetUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(getUserQuery).WithArgs("bob").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUser(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMessage(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	edited := created.Add(time.Minute)

	repo, mock := newMockRepo(t)
	mock.ExpectQuery(getMessageQuery).WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "sender_id", "channel_id", "recipient_id", "content", "thread_id",
			"attachments", "created_at", "edited_at", "edited_by",
		}).AddRow("m1", "alice", "c1", "", "hello", "", []byte("{f1,f2}"), created, edited, "alice"))
	mock.ExpectQuery(getReactionsQuery).WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"emoji", "user_id"}).
			AddRow(":+1:", "bob").
			AddRow(":+1:", "carol").
			AddRow(":eyes:", "bob"))

	msg, err := repo.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderId)
	assert.Equal(t, "c1", msg.ChannelId)
	assert.Equal(t, []string{"f1", "f2"}, msg.Attachments)
	require.NotNil(t, msg.Edited)
	assert.Equal(t, edited, msg.Edited.At)
	assert.Equal(t, 2, msg.FindReaction(":+1:").Count())
	assert.Equal(t, 1, msg.FindReaction(":eyes:").Count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMessage(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	repo, mock := newMockRepo(t)
	mock.ExpectQuery(createMessageQuery).
		WithArgs("alice", "c1", "", "hello", "", sqlmock.AnyArg(), created).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("m9", created))

	msg, err := repo.CreateMessage(context.Background(), types.Message{
		SenderId:  "alice",
		ChannelId: "c1",
		Content:   "hello",
		CreatedAt: created,
	})
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.Id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessage(t *testing.T) {
	at := time.Now().UTC()

	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(updateMessageQuery).WithArgs("m1", "new", at, "alice").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.UpdateMessage(context.Background(), "m1", "new", types.Edited{At: at, By: "alice"})
		assert.NoError(t, err)
	})

	t.Run("no rows", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(updateMessageQuery).WithArgs("m1", "new", at, "alice").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateMessage(context.Background(), "m1", "new", types.Edited{At: at, By: "alice"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("commits", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(deleteReactionsQuery).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(deleteMessageQuery).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.DeleteMessage(context.Background(), "m1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when missing", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(deleteReactionsQuery).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(deleteMessageQuery).WithArgs("m1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.DeleteMessage(context.Background(), "m1"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReactions(t *testing.T) {
	t.Run("add returns stored reactors", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(addReactionQuery).WithArgs("m1", ":+1:", "bob").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(getReactorsQuery).WithArgs("m1", ":+1:").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice").AddRow("bob"))
		mock.ExpectCommit()

		users, err := repo.AddReaction(context.Background(), "m1", ":+1:", "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, users)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("remove last reactor", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(removeReactionQuery).WithArgs("m1", ":+1:", "bob").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(getReactorsQuery).WithArgs("m1", ":+1:").
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
		mock.ExpectCommit()

		users, err := repo.RemoveReaction(context.Background(), "m1", ":+1:", "bob")
		require.NoError(t, err)
		assert.Empty(t, users)
		assert.NotNil(t, users)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("write failure rolls back", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(addReactionQuery).WithArgs("m1", ":x:", "bob").WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		_, err := repo.AddReaction(context.Background(), "m1", ":x:", "bob")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
