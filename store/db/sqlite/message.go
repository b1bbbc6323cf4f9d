package sqlite

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// UpsertMessage inserts or replaces a message row. Reactions are stored as a
// JSON object; text_hash is maintained here so stale embeddings can be found
// with a plain join.
func (d *DB) UpsertMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal reactions")
	}

	stale := 0
	if msg.Stale {
		stale = 1
	}

	stmt := `INSERT INTO message (
			id, channel_id, author, author_id, posted_ts, text, text_hash,
			reactions, parent_id, thread_id, stale, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = excluded.channel_id,
			author = excluded.author,
			author_id = excluded.author_id,
			posted_ts = excluded.posted_ts,
			text = excluded.text,
			text_hash = excluded.text_hash,
			reactions = excluded.reactions,
			parent_id = excluded.parent_id,
			thread_id = excluded.thread_id,
			stale = excluded.stale,
			updated_ts = excluded.updated_ts`

	_, err = d.db.ExecContext(ctx, stmt,
		msg.ID,
		msg.ChannelID,
		msg.Author,
		msg.AuthorID,
		msg.PostedTs,
		msg.Text,
		store.TextHash(msg.Text),
		string(reactions),
		msg.ParentID,
		msg.ThreadID,
		stale,
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
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = ?"), append(args, *find.ChannelID)
	}
	if find.Stale != nil {
		stale := 0
		if *find.Stale {
			stale = 1
		}
		where, args = append(where, "stale = ?"), append(args, stale)
	}

	query := `SELECT id, channel_id, author, author_id, posted_ts, text,
			reactions, parent_id, thread_id, stale, updated_ts
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY posted_ts ASC, id ASC`
	if find.Limit > 0 {
		query += " LIMIT ?"
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
	var reactions string
	var stale int

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
		&stale,
		&msg.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan message")
	}

	if reactions != "" && reactions != "null" {
		if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal reactions")
		}
	}
	msg.Stale = stale != 0
	return &msg, nil
}
