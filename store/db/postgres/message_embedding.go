package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// UpsertMessageEmbedding inserts or updates a message embedding.
func (d *DB) UpsertMessageEmbedding(ctx context.Context, embedding *store.MessageEmbedding) (*store.MessageEmbedding, error) {
	now := time.Now().UnixMilli()
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = now
	}
	if embedding.UpdatedTs == 0 {
		embedding.UpdatedTs = now
	}

	stmt := `
		INSERT INTO message_embedding (message_id, channel_id, model, text_hash, embedding, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (message_id, model)
		DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			text_hash = EXCLUDED.text_hash,
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts
		RETURNING created_ts, updated_ts
	`

	vector := pgvector.NewVector(embedding.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		embedding.MessageID,
		embedding.ChannelID,
		embedding.Model,
		embedding.TextHash,
		vector,
		embedding.CreatedTs,
		embedding.UpdatedTs,
	).Scan(&embedding.CreatedTs, &embedding.UpdatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert message embedding")
	}

	return embedding, nil
}

// ListMessageEmbeddings lists message embeddings.
func (d *DB) ListMessageEmbeddings(ctx context.Context, find *store.FindMessageEmbedding) ([]*store.MessageEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.MessageID != nil {
		where, args = append(where, "message_id = "+placeholder(len(args)+1)), append(args, *find.MessageID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = "+placeholder(len(args)+1)), append(args, *find.ChannelID)
	}
	if find.Model != nil {
		where, args = append(where, "model = "+placeholder(len(args)+1)), append(args, *find.Model)
	}

	query := `
		SELECT message_id, channel_id, model, text_hash, embedding, created_ts, updated_ts
		FROM message_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list message embeddings")
	}
	defer rows.Close()

	list := []*store.MessageEmbedding{}
	for rows.Next() {
		var embedding store.MessageEmbedding
		var vector pgvector.Vector
		err := rows.Scan(
			&embedding.MessageID,
			&embedding.ChannelID,
			&embedding.Model,
			&embedding.TextHash,
			&vector,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message embedding")
		}

		embedding.Embedding = vector.Slice()

		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteMessageEmbedding deletes a message embedding.
func (d *DB) DeleteMessageEmbedding(ctx context.Context, messageID, model string) error {
	stmt := `DELETE FROM message_embedding WHERE message_id = ` + placeholder(1) + ` AND model = ` + placeholder(2)
	result, err := d.db.ExecContext(ctx, stmt, messageID, model)
	if err != nil {
		return errors.Wrap(err, "failed to delete message embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountMessageEmbeddings counts stored embeddings for a model.
func (d *DB) CountMessageEmbeddings(ctx context.Context, model string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_embedding WHERE model = `+placeholder(1), model,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count message embeddings")
	}
	return count, nil
}

// FindMessagesWithoutEmbedding finds messages whose embedding for the model
// is missing or was computed from text that has since changed.
func (d *DB) FindMessagesWithoutEmbedding(ctx context.Context, find *store.FindMessagesWithoutEmbedding) ([]*store.Message, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			m.id, m.channel_id, m.author, m.author_id, m.posted_ts, m.text,
			m.reactions, m.parent_id, m.thread_id, m.stale, m.updated_ts
		FROM message m
		LEFT JOIN message_embedding e ON m.id = e.message_id AND e.model = ` + placeholder(1) + `
		WHERE (e.message_id IS NULL OR e.text_hash <> m.text_hash)
			AND LENGTH(m.text) > 0
			AND m.stale = FALSE
		ORDER BY m.posted_ts DESC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find messages without embedding")
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

// VectorSearch performs vector similarity search using pgvector.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MessageWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{"m.stale = FALSE"}, []any{}
	argIdx := 1

	if opts.ChannelID != "" {
		where = append(where, "m.channel_id = "+placeholder(argIdx))
		args = append(args, opts.ChannelID)
		argIdx++
	}
	if opts.PostedAfter > 0 {
		where = append(where, "m.posted_ts >= "+placeholder(argIdx))
		args = append(args, opts.PostedAfter)
		argIdx++
	}

	// The <=> operator computes cosine distance (1 - cosine_similarity),
	// so ordering by distance ascending yields most similar first.
	query := `
		SELECT
			m.id, m.channel_id, m.author, m.author_id, m.posted_ts, m.text,
			m.reactions, m.parent_id, m.thread_id, m.stale, m.updated_ts,
			1 - (e.embedding <=> ` + placeholder(argIdx) + `) AS score
		FROM message m
		INNER JOIN message_embedding e ON m.id = e.message_id
		WHERE ` + strings.Join(where, " AND ") + `
			AND e.model = ` + placeholder(argIdx+1) + `
		ORDER BY e.embedding <=> ` + placeholder(argIdx+2) + `, m.id ASC
		LIMIT ` + placeholder(argIdx+3)

	vector := pgvector.NewVector(opts.Vector)
	args = append(args, vector, opts.Model, vector, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.MessageWithScore{}
	for rows.Next() {
		var result store.MessageWithScore
		var msg store.Message
		var reactions []byte

		err := rows.Scan(
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
			&result.Score,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}

		if len(reactions) > 0 && string(reactions) != "null" {
			if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal reactions")
			}
		}

		result.Message = &msg
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
