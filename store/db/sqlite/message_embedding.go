package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// Vectors are stored as little-endian float32 BLOBs and similarity is
// computed in the application layer. This keeps the SQLite path dependency
// free; PostgreSQL searches in the database via pgvector instead.

// float32ArrayToBLOB converts a []float32 to its BLOB encoding.
func float32ArrayToBLOB(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, errors.New("empty vector")
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf, nil
}

// blobToFloat32Array converts a BLOB back to a float32 array. This is the
// inverse of float32ArrayToBLOB.
func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid BLOB length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// UpsertMessageEmbedding inserts or updates a message embedding. Re-indexing
// a message replaces its vector for that model.
func (d *DB) UpsertMessageEmbedding(ctx context.Context, embedding *store.MessageEmbedding) (*store.MessageEmbedding, error) {
	vectorBLOB, err := float32ArrayToBLOB(embedding.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding vector to BLOB")
	}

	now := time.Now().UnixMilli()
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = now
	}
	if embedding.UpdatedTs == 0 {
		embedding.UpdatedTs = now
	}

	stmt := `INSERT INTO message_embedding (message_id, channel_id, model, text_hash, embedding, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, model) DO UPDATE SET
			channel_id = excluded.channel_id,
			text_hash = excluded.text_hash,
			embedding = excluded.embedding,
			updated_ts = excluded.updated_ts
		RETURNING created_ts, updated_ts`

	err = d.db.QueryRowContext(ctx, stmt,
		embedding.MessageID,
		embedding.ChannelID,
		embedding.Model,
		embedding.TextHash,
		vectorBLOB,
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
		where, args = append(where, "message_id = ?"), append(args, *find.MessageID)
	}
	if find.ChannelID != nil {
		where, args = append(where, "channel_id = ?"), append(args, *find.ChannelID)
	}
	if find.Model != nil {
		where, args = append(where, "model = ?"), append(args, *find.Model)
	}

	query := `SELECT message_id, channel_id, model, text_hash, embedding, created_ts, updated_ts
		FROM message_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
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
		var vectorBLOB []byte

		err := rows.Scan(
			&embedding.MessageID,
			&embedding.ChannelID,
			&embedding.Model,
			&embedding.TextHash,
			&vectorBLOB,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message embedding")
		}

		embedding.Embedding, err = blobToFloat32Array(vectorBLOB)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}

		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteMessageEmbedding deletes a message embedding.
func (d *DB) DeleteMessageEmbedding(ctx context.Context, messageID, model string) error {
	stmt := `DELETE FROM message_embedding WHERE message_id = ? AND model = ?`
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
		`SELECT COUNT(*) FROM message_embedding WHERE model = ?`, model,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count message embeddings")
	}
	return count, nil
}

// FindMessagesWithoutEmbedding finds messages whose embedding for the model
// is missing or was computed from text that has since changed. Empty-text
// messages are never candidates.
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
		LEFT JOIN message_embedding e ON m.id = e.message_id AND e.model = ?
		WHERE (e.message_id IS NULL OR e.text_hash <> m.text_hash)
			AND LENGTH(m.text) > 0
			AND m.stale = 0
		ORDER BY m.posted_ts DESC
		LIMIT ?`

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

// VectorSearch performs vector similarity search with application-layer
// cosine similarity over stored BLOBs.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MessageWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT
			m.id, m.channel_id, m.author, m.author_id, m.posted_ts, m.text,
			m.reactions, m.parent_id, m.thread_id, m.stale, m.updated_ts,
			e.embedding
		FROM message m
		INNER JOIN message_embedding e ON m.id = e.message_id
		WHERE m.stale = 0
			AND e.model = ?`

	args := []any{opts.Model}
	if opts.ChannelID != "" {
		query += " AND m.channel_id = ?"
		args = append(args, opts.ChannelID)
	}
	if opts.PostedAfter > 0 {
		query += " AND m.posted_ts >= ?"
		args = append(args, opts.PostedAfter)
	}

	// Most recent first so the candidate window prefers fresh conversation
	// when it has to cut off.
	query += " ORDER BY m.posted_ts DESC"

	candidateLimit := opts.MaxCandidates
	if candidateLimit <= 0 {
		candidateLimit = 5000
	}
	query += " LIMIT ?"
	args = append(args, candidateLimit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	type candidate struct {
		msg       *store.Message
		embedding []float32
	}
	candidates := []candidate{}

	for rows.Next() {
		var msg store.Message
		var reactions string
		var stale int
		var vectorBLOB []byte

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
			&stale,
			&msg.UpdatedTs,
			&vectorBLOB,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		msg.Stale = stale != 0
		if reactions != "" && reactions != "null" {
			if err := json.Unmarshal([]byte(reactions), &msg.Reactions); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal reactions")
			}
		}

		embedding, err := blobToFloat32Array(vectorBLOB)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}

		candidates = append(candidates, candidate{msg: &msg, embedding: embedding})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]*store.MessageWithScore, 0, len(candidates))
	for _, cand := range candidates {
		results = append(results, &store.MessageWithScore{
			Message: cand.msg,
			Score:   cosineSimilarity(opts.Vector, cand.embedding),
		})
	}

	// Sort by similarity descending; equal scores tie-break on id so search
	// output is stable across runs.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Message.ID < results[j].Message.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
