package postgres

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// UpsertMessage inserts or replaces a message row.
func (d *DB) UpsertMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal reactions")
	}
	if msg.Reactions == nil {
		reactions = []byte("{}")
	}

	stmt := `INSERT INTO message (
			id, channel_id, author, author_id, posted_ts, text, text_hash,
			reactions, parent_id, thread_id, stale, updated_ts)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			author = EXCLUDED.author,
			author_id = EXCLUDED.author_id,
			posted_ts = EXCLUDED.posted_ts,
			text = EXCLUDED.text,
			text_hash = EXCLUDED.text_hash,
			reactions = EXCLUDED.reactions,
			parent_id = EXCLUDED.parent_id,
			thread_id = EXCLUDED.thread_id,
			stale = EXCLUDED.stale,
			updated_ts = EXCLUDED.updated_ts`

	_, err = d.db.ExecContext(ctx, stmt,
		msg.ID,
		msg.ChannelID,
		msg.Author,
		msg.AuthorID,
		msg.PostedTs,
		msg.Text,
		store.TextHash(msg.Text),
		reactions,
		msg.ParentID,
		msg.ThreadID,
		msg.Stale,
		msg.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert message")
	}

	return msg, nil
}

// ListMessages lists messages matching the find condition, oldest first.
func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = "+placeholder(len(args)+1)), append(args, *find.ChannelID)
	}
	if find.Stale != nil {
		where, args = append(where, "stale = "+placeholder(len(args)+1)), append(args, *find.Stale)
	}

	query := `
		SELECT id, channel_id, author, author_id, posted_ts, text,
			reactions, parent_id, thread_id, stale, updated_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY posted_ts ASC, id ASC`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var reactions []byte

	err := row.Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.Author,
		&msg.AuthorID,
		&msg.PostedTs,
		&msg.Text,
		&reactions,
		&msg.ParentID,
		&msg.ThreadID,
		&msg.Stale,
		&msg.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan message")
	}

	if len(reactions) > 0 && string(reactions) != "null" {
		if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal reactions")
		}
	}
	return &msg, nil
}
