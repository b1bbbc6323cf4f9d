package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/store"
	"github.com/guildsage/guildsage/store/db/sqlite"
)

func TestIndexMessagesSkipsUnindexable(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)
	idx := vector.NewMemoryIndex()
	ix := NewIndexer(s, idx, newVocabEmbedder(), nil)

	stale := chatMsg("m4", "ops", "", 400, "kim", "old outage notes")
	stale.Stale = true
	msgs := []*store.Message{
		chatMsg("m1", "ops", "", 100, "dana", "deploy went fine"),
		chatMsg("m2", "ops", "", 200, "sam", "   "),
		chatMsg("m3", "ops", "", 300, "lee", ""),
		stale,
	}

	indexed, err := ix.IndexMessages(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
	assert.Equal(t, 1, idx.Len())
}

func TestIndexMessagesBatchesBySize(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)
	idx := vector.NewMemoryIndex()
	embedder := newVocabEmbedder()
	ix := NewIndexer(s, idx, embedder, &IndexerConfig{BatchSize: 2})

	msgs := []*store.Message{
		chatMsg("m1", "ops", "", 100, "dana", "deploy one"),
		chatMsg("m2", "ops", "", 200, "dana", "deploy two"),
		chatMsg("m3", "ops", "", 300, "dana", "deploy three"),
		chatMsg("m4", "ops", "", 400, "dana", "deploy four"),
		chatMsg("m5", "ops", "", 500, "dana", "deploy five"),
	}

	indexed, err := ix.IndexMessages(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, 5, indexed)
	assert.Equal(t, []int{2, 2, 1}, embedder.batchSizes)
	assert.Equal(t, 5, idx.Len())
}

func TestSearchRanksByRelevance(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)
	idx := vector.NewMemoryIndex()
	ix := NewIndexer(s, idx, newVocabEmbedder(), nil)

	msgs := []*store.Message{
		chatMsg("m1", "ops", "", 100, "dana", "the deploy finished"),
		chatMsg("m2", "dev", "", 200, "sam", "deploy and rollback tested"),
		chatMsg("m3", "general", "", 300, "lee", "lunch plans anyone"),
	}
	_, err := ix.IndexMessages(ctx, msgs)
	require.NoError(t, err)

	t.Run("BestMatchFirst", func(t *testing.T) {
		hits, err := ix.Search(ctx, "deploy", nil)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "m1", hits[0].MessageID)
		assert.Greater(t, hits[0].Score, float32(0.9))
	})

	t.Run("MinScoreDropsWeakMatches", func(t *testing.T) {
		hits, err := ix.Search(ctx, "deploy", &SearchOptions{MinScore: 0.9})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "m1", hits[0].MessageID)
	})

	t.Run("ChannelScope", func(t *testing.T) {
		hits, err := ix.Search(ctx, "deploy", &SearchOptions{ChannelID: "dev", MinScore: 0.1})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "m2", hits[0].MessageID)
	})

	t.Run("PostedAfterScope", func(t *testing.T) {
		hits, err := ix.Search(ctx, "deploy", &SearchOptions{PostedAfter: 150, MinScore: 0.1})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "m2", hits[0].MessageID)
	})
}

func TestSearchRequiresQuery(t *testing.T) {
	ctx := context.Background()
	ix := NewIndexer(store.New(nil, nil), vector.NewMemoryIndex(), newVocabEmbedder(), nil)

	_, err := ix.Search(ctx, "", nil)
	require.Error(t, err)
	_, err = ix.Search(ctx, "   ", nil)
	require.Error(t, err)
}

func TestReindexBackfillsDurableIndex(t *testing.T) {
	ctx := context.Background()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "rag.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })
	require.NoError(t, driver.Migrate(ctx))

	s := store.New(driver, p)
	seed(t, s,
		chatMsg("m1", "ops", "", 100, "dana", "the deploy finished"),
		chatMsg("m2", "ops", "", 200, "sam", "rollback steps written up"),
		chatMsg("m3", "ops", "", 300, "lee", ""),
	)

	embedder := newVocabEmbedder()
	ix := NewIndexer(s, vector.NewStoreIndex(s, embedder.Model()), embedder, &IndexerConfig{BatchSize: 1})

	indexed, err := ix.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)

	count, err := ix.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	indexed, err = ix.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, indexed)

	hits, err := ix.Search(ctx, "deploy", &SearchOptions{MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].MessageID)

	// An edited text makes the stored embedding stale and eligible again.
	seed(t, s, chatMsg("m1", "ops", "", 100, "dana", "the deploy broke the backup job"))
	indexed, err = ix.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
}

func TestReindexRejectsMismatchedDimensions(t *testing.T) {
	ctx := context.Background()
	p := &profile.Profile{
		Driver:              "sqlite",
		DSN:                 filepath.Join(t.TempDir(), "dims.db"),
		EmbeddingDimensions: 3,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close() })
	require.NoError(t, driver.Migrate(ctx))

	s := store.New(driver, p)
	seed(t, s, chatMsg("m1", "ops", "", 100, "dana", "the deploy finished"))

	// The vocab embedder emits 5-dim vectors against a 3-dim profile.
	embedder := newVocabEmbedder()
	ix := NewIndexer(s, vector.NewStoreIndex(s, embedder.Model()), embedder, nil)

	_, err = ix.Reindex(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}

func TestRemoveDropsFromIndex(t *testing.T) {
	ctx := context.Background()
	s := store.New(nil, nil)
	idx := vector.NewMemoryIndex()
	ix := NewIndexer(s, idx, newVocabEmbedder(), nil)

	_, err := ix.IndexMessages(ctx, []*store.Message{
		chatMsg("m1", "ops", "", 100, "dana", "deploy log attached"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())

	require.NoError(t, ix.Remove(ctx, "m1"))
	assert.Equal(t, 0, idx.Len())

	// Removing an unknown id is a no-op.
	require.NoError(t, ix.Remove(ctx, "ghost"))
}
