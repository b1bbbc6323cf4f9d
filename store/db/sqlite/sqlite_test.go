package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	p := &profile.Profile{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	db := driver.(*DB)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func mustUpsertMessage(t *testing.T, db *DB, msg *store.Message) {
	t.Helper()
	_, err := db.UpsertMessage(context.Background(), msg)
	require.NoError(t, err)
}

func mustUpsertEmbedding(t *testing.T, db *DB, emb *store.MessageEmbedding) {
	t.Helper()
	_, err := db.UpsertMessageEmbedding(context.Background(), emb)
	require.NoError(t, err)
}

func TestMessageRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	msg := &store.Message{
		ID:        "m1",
		ChannelID: "c1",
		Author:    "alice",
		AuthorID:  "u-1",
		PostedTs:  1700000000000,
		Text:      "how do I configure the sync cron?",
		Reactions: map[string]int{"👍": 2, "🎉": 1},
		ParentID:  "m0",
		ThreadID:  "th1",
		UpdatedTs: 1700000000000,
	}
	mustUpsertMessage(t, db, msg)

	got, err := db.ListMessages(ctx, &store.FindMessage{ID: strPtr("m1")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.Text, got[0].Text)
	assert.Equal(t, msg.Reactions, got[0].Reactions)
	assert.Equal(t, "m0", got[0].ParentID)
	assert.Equal(t, "th1", got[0].ThreadID)
	assert.False(t, got[0].Stale)

	// Upserting again with new text replaces the row in place.
	msg.Text = "edited"
	mustUpsertMessage(t, db, msg)

	got, err = db.ListMessages(ctx, &store.FindMessage{ID: strPtr("m1")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "edited", got[0].Text)
}

func TestListMessagesFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, m := range []*store.Message{
		{ID: "m1", ChannelID: "c1", Text: "one", PostedTs: 300},
		{ID: "m2", ChannelID: "c1", Text: "two", PostedTs: 100},
		{ID: "m3", ChannelID: "c2", Text: "three", PostedTs: 200},
	} {
		m.UpdatedTs = int64(1000 + i)
		mustUpsertMessage(t, db, m)
	}

	byChannel, err := db.ListMessages(ctx, &store.FindMessage{ChannelID: strPtr("c1")})
	require.NoError(t, err)
	require.Len(t, byChannel, 2)
	// Chronological order.
	assert.Equal(t, "m2", byChannel[0].ID)
	assert.Equal(t, "m1", byChannel[1].ID)

	limited, err := db.ListMessages(ctx, &store.FindMessage{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mustUpsertMessage(t, db, &store.Message{ID: "m1", ChannelID: "c1", Text: "hello", PostedTs: 100, UpdatedTs: 100})

	emb := &store.MessageEmbedding{
		MessageID: "m1",
		ChannelID: "c1",
		Model:     "text-embedding-3-small",
		TextHash:  store.TextHash("hello"),
		Embedding: []float32{0.1, -0.2, 0.3},
	}
	mustUpsertEmbedding(t, db, emb)
	assert.NotZero(t, emb.CreatedTs)

	list, err := db.ListMessageEmbeddings(ctx, &store.FindMessageEmbedding{MessageID: strPtr("m1")})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDeltaSlice(t, []float32{0.1, -0.2, 0.3}, list[0].Embedding, 1e-6)
	assert.Equal(t, emb.TextHash, list[0].TextHash)

	count, err := db.CountMessageEmbeddings(ctx, "text-embedding-3-small")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = db.CountMessageEmbeddings(ctx, "other-model")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, db.DeleteMessageEmbedding(ctx, "m1", "text-embedding-3-small"))

	list, err = db.ListMessageEmbeddings(ctx, &store.FindMessageEmbedding{MessageID: strPtr("m1")})
	require.NoError(t, err)
	assert.Empty(t, list)

	// Deleting again reports no rows.
	err = db.DeleteMessageEmbedding(ctx, "m1", "text-embedding-3-small")
	assert.Error(t, err)
}

func TestFindMessagesWithoutEmbedding(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	const model = "text-embedding-3-small"

	msgs := []*store.Message{
		{ID: "m1", ChannelID: "c1", Text: "needs embedding", PostedTs: 100, UpdatedTs: 100},
		{ID: "m2", ChannelID: "c1", Text: "has embedding", PostedTs: 200, UpdatedTs: 200},
		{ID: "m3", ChannelID: "c1", Text: "", PostedTs: 300, UpdatedTs: 300},
		{ID: "m4", ChannelID: "c1", Text: "stale embedding", PostedTs: 400, UpdatedTs: 400},
	}
	for _, m := range msgs {
		mustUpsertMessage(t, db, m)
	}

	mustUpsertEmbedding(t, db, &store.MessageEmbedding{
		MessageID: "m2", ChannelID: "c1", Model: model,
		TextHash:  store.TextHash("has embedding"),
		Embedding: []float32{1, 0},
	})
	// m4's stored hash no longer matches its text.
	mustUpsertEmbedding(t, db, &store.MessageEmbedding{
		MessageID: "m4", ChannelID: "c1", Model: model,
		TextHash:  store.TextHash("old text"),
		Embedding: []float32{0, 1},
	})

	missing, err := db.FindMessagesWithoutEmbedding(ctx, &store.FindMessagesWithoutEmbedding{Model: model, Limit: 10})
	require.NoError(t, err)

	found := map[string]bool{}
	for _, m := range missing {
		found[m.ID] = true
	}
	assert.True(t, found["m1"], "message without embedding")
	assert.True(t, found["m4"], "message whose text changed after embedding")
	assert.False(t, found["m2"], "embedding is current")
	assert.False(t, found["m3"], "empty text is never embedded")
}

func TestVectorSearchOrdersByScore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	const model = "text-embedding-3-small"

	vectors := map[string][]float32{
		"m1": {1, 0, 0},
		"m2": {0.9, 0.1, 0},
		"m3": {0, 1, 0},
	}
	ts := int64(100)
	for id, vec := range vectors {
		mustUpsertMessage(t, db, &store.Message{
			ID: id, ChannelID: "c1", Text: "text " + id, PostedTs: ts, UpdatedTs: ts,
		})
		mustUpsertEmbedding(t, db, &store.MessageEmbedding{
			MessageID: id, ChannelID: "c1", Model: model,
			TextHash:  store.TextHash("text " + id),
			Embedding: vec,
		})
		ts += 100
	}

	results, err := db.VectorSearch(ctx, &store.VectorSearchOptions{
		Vector: []float32{1, 0, 0},
		Model:  model,
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m1", results[0].Message.ID)
	assert.Equal(t, "m2", results[1].Message.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestVectorSearchChannelFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	const model = "text-embedding-3-small"

	for id, channel := range map[string]string{"m1": "c1", "m2": "c2"} {
		mustUpsertMessage(t, db, &store.Message{
			ID: id, ChannelID: channel, Text: "text", PostedTs: 100, UpdatedTs: 100,
		})
		mustUpsertEmbedding(t, db, &store.MessageEmbedding{
			MessageID: id, ChannelID: channel, Model: model,
			TextHash:  store.TextHash("text"),
			Embedding: []float32{1, 0},
		})
	}

	results, err := db.VectorSearch(ctx, &store.VectorSearchOptions{
		Vector:    []float32{1, 0},
		Model:     model,
		Limit:     10,
		ChannelID: "c2",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m2", results[0].Message.ID)
}

func TestChannelStateRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	st := &store.ChannelState{
		ChannelID:     "c1",
		GuildID:       "g1",
		Name:          "general",
		LastMessageID: "m42",
		LastSyncTs:    1700000000000,
	}
	_, err := db.UpsertChannelState(ctx, st)
	require.NoError(t, err)

	st.LastMessageID = "m99"
	_, err = db.UpsertChannelState(ctx, st)
	require.NoError(t, err)

	states, err := db.ListChannelStates(ctx, &store.FindChannelState{})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "m99", states[0].LastMessageID)
	assert.Equal(t, "general", states[0].Name)
}

func TestBlobCodec(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	blob, err := float32ArrayToBLOB(vec)
	require.NoError(t, err)

	back, err := blobToFloat32Array(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, back)

	_, err = float32ArrayToBLOB(nil)
	assert.Error(t, err)

	_, err = blobToFloat32Array([]byte{1, 2, 3})
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }
