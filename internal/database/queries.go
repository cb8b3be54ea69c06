package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/npezzotti/go-teamchat/internal/types"
)

const (
	getWorkspaceQuery        = "SELECT id, name FROM workspaces WHERE id = $1 LIMIT 1"
	getWorkspaceMembersQuery = "SELECT user_id, role FROM workspace_members WHERE workspace_id = $1 ORDER BY user_id"
	getWorkspaceChannelQuery = "SELECT id FROM channels WHERE workspace_id = $1 ORDER BY id"
	getChannelQuery          = "SELECT id, workspace_id, name, is_private, created_by FROM channels WHERE id = $1 LIMIT 1"
	getChannelMembersQuery   = "SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY user_id"
	getUserWorkspacesQuery   = "SELECT workspace_id FROM workspace_members WHERE user_id = $1 ORDER BY workspace_id"
	getUserQuery             = "SELECT id, username FROM accounts WHERE id = $1 LIMIT 1"
	getReactionsQuery        = "SELECT emoji, user_id FROM message_reactions WHERE message_id = $1 ORDER BY created_at, user_id"
	updateMessageQuery       = "UPDATE messages SET content = $2, edited_at = $3, edited_by = $4 WHERE id = $1"
	deleteReactionsQuery     = "DELETE FROM message_reactions WHERE message_id = $1"
	deleteMessageQuery       = "DELETE FROM messages WHERE id = $1"
	removeReactionQuery      = "DELETE FROM message_reactions WHERE message_id = $1 AND emoji = $2 AND user_id = $3"
	getReactorsQuery         = "SELECT user_id FROM message_reactions WHERE message_id = $1 AND emoji = $2 ORDER BY created_at, user_id"

	getMessageQuery = "SELECT id, sender_id, COALESCE(channel_id, ''), COALESCE(recipient_id, ''), content, " +
		"COALESCE(thread_id, ''), attachments, created_at, edited_at, COALESCE(edited_by, '') " +
		"FROM messages WHERE id = $1 LIMIT 1"

	createMessageQuery = "INSERT INTO messages (sender_id, channel_id, recipient_id, content, thread_id, attachments, created_at) " +
		"VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7) RETURNING id, created_at"

	addReactionQuery = "INSERT INTO message_reactions (message_id, emoji, user_id, created_at) VALUES ($1, $2, $3, now()) " +
		"ON CONFLICT (message_id, emoji, user_id) DO NOTHING"
)

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (db *PgGoChatRepository) queryStrings(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

func (db *PgGoChatRepository) GetWorkspace(ctx context.Context, id string) (*types.Workspace, error) {
	var ws types.Workspace
	err := db.conn.QueryRowContext(ctx, getWorkspaceQuery, id).Scan(&ws.Id, &ws.Name)
	if err != nil {
		return nil, fmt.Errorf("get workspace %q: %w", id, notFound(err))
	}

	rows, err := db.conn.QueryContext(ctx, getWorkspaceMembersQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get workspace members: %w", err)
	}
	defer rows.Close()

	ws.Members = make([]types.WorkspaceMember, 0)
	for rows.Next() {
		var m types.WorkspaceMember
		if err := rows.Scan(&m.UserId, &m.Role); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ws.Members = append(ws.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	ws.Channels, err = db.queryStrings(ctx, getWorkspaceChannelQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get workspace channels: %w", err)
	}

	return &ws, nil
}

func (db *PgGoChatRepository) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	var ch types.Channel
	err := db.conn.QueryRowContext(ctx, getChannelQuery, id).Scan(
		&ch.Id,
		&ch.WorkspaceId,
		&ch.Name,
		&ch.IsPrivate,
		&ch.CreatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("get channel %q: %w", id, notFound(err))
	}

	ch.Members, err = db.queryStrings(ctx, getChannelMembersQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get channel members: %w", err)
	}

	return &ch, nil
}

func (db *PgGoChatRepository) GetUserWorkspaces(ctx context.Context, userId string) ([]string, error) {
	ids, err := db.queryStrings(ctx, getUserWorkspacesQuery, userId)
	if err != nil {
		return nil, fmt.Errorf("get user workspaces: %w", err)
	}
	return ids, nil
}

func (db *PgGoChatRepository) GetUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	if err := db.conn.QueryRowContext(ctx, getUserQuery, id).Scan(&u.Id, &u.Username); err != nil {
		return nil, fmt.Errorf("get user %q: %w", id, notFound(err))
	}
	return &u, nil
}

func (db *PgGoChatRepository) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	var (
		msg      types.Message
		editedAt sql.NullTime
		editedBy string
	)
	err := db.conn.QueryRowContext(ctx, getMessageQuery, id).Scan(
		&msg.Id,
		&msg.SenderId,
		&msg.ChannelId,
		&msg.RecipientId,
		&msg.Content,
		&msg.ThreadId,
		pq.Array(&msg.Attachments),
		&msg.CreatedAt,
		&editedAt,
		&editedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", id, notFound(err))
	}

	if editedAt.Valid {
		msg.Edited = &types.Edited{At: editedAt.Time, By: editedBy}
	}

	rows, err := db.conn.QueryContext(ctx, getReactionsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var emoji, userId string
		if err := rows.Scan(&emoji, &userId); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		msg.AddReaction(emoji, userId)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &msg, nil
}

func (db *PgGoChatRepository) CreateMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	err := db.conn.QueryRowContext(ctx, createMessageQuery,
		msg.SenderId,
		msg.ChannelId,
		msg.RecipientId,
		msg.Content,
		msg.ThreadId,
		pq.Array(msg.Attachments),
		msg.CreatedAt,
	).Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	return &msg, nil
}

func (db *PgGoChatRepository) UpdateMessage(ctx context.Context, id, content string, edited types.Edited) error {
	res, err := db.conn.ExecContext(ctx, updateMessageQuery, id, content, edited.At, edited.By)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	return checkAffected(res, id)
}

func (db *PgGoChatRepository) DeleteMessage(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteReactionsQuery, id); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}

	res, err := tx.ExecContext(ctx, deleteMessageQuery, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if err := checkAffected(res, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (db *PgGoChatRepository) AddReaction(ctx context.Context, messageId, emoji, userId string) ([]string, error) {
	users, err := db.writeReaction(ctx, addReactionQuery, messageId, emoji, userId)
	if err != nil {
		return nil, fmt.Errorf("add reaction: %w", err)
	}
	return users, nil
}

func (db *PgGoChatRepository) RemoveReaction(ctx context.Context, messageId, emoji, userId string) ([]string, error) {
	users, err := db.writeReaction(ctx, removeReactionQuery, messageId, emoji, userId)
	if err != nil {
		return nil, fmt.Errorf("remove reaction: %w", err)
	}
	return users, nil
}

// writeReaction applies a reaction write and reads back the reactor set for
// the emoji in the same transaction.
func (db *PgGoChatRepository) writeReaction(ctx context.Context, query, messageId, emoji, userId string) ([]string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, messageId, emoji, userId); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, getReactorsQuery, messageId, emoji)
	if err != nil {
		return nil, fmt.Errorf("get reactors: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return users, nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %q: %w", id, ErrNotFound)
	}
	return nil
}
