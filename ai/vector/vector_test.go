package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexQuery(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Entry{
		{MessageID: "m1", ChannelID: "c1", PostedTs: 100, Vector: []float32{1, 0, 0}},
		{MessageID: "m2", ChannelID: "c1", PostedTs: 200, Vector: []float32{0.9, 0.1, 0}},
		{MessageID: "m3", ChannelID: "c2", PostedTs: 300, Vector: []float32{0, 1, 0}},
	}))
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, &QueryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].MessageID)
	assert.Equal(t, "m2", hits[1].MessageID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestMemoryIndexFilters(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Entry{
		{MessageID: "m1", ChannelID: "c1", PostedTs: 100, Vector: []float32{1, 0}},
		{MessageID: "m2", ChannelID: "c2", PostedTs: 200, Vector: []float32{1, 0}},
	}))

	byChannel, err := idx.Query(ctx, []float32{1, 0}, &QueryOptions{ChannelID: "c2"})
	require.NoError(t, err)
	require.Len(t, byChannel, 1)
	assert.Equal(t, "m2", byChannel[0].MessageID)

	byTime, err := idx.Query(ctx, []float32{1, 0}, &QueryOptions{PostedAfter: 150})
	require.NoError(t, err)
	require.Len(t, byTime, 1)
	assert.Equal(t, "m2", byTime[0].MessageID)
}

func TestMemoryIndexUpsertReplaces(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Entry{
		{MessageID: "m1", ChannelID: "c1", Vector: []float32{1, 0}},
	}))
	require.NoError(t, idx.Upsert(ctx, []Entry{
		{MessageID: "m1", ChannelID: "c1", Vector: []float32{0, 1}},
	}))
	assert.Equal(t, 1, idx.Len())

	hits, err := idx.Query(ctx, []float32{0, 1}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
}

func TestMemoryIndexRemove(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Entry{
		{MessageID: "m1", ChannelID: "c1", Vector: []float32{1, 0}},
	}))
	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, idx.Remove(ctx, "m1"))
	require.NoError(t, idx.Remove(ctx, "m1"))
	assert.Equal(t, 0, idx.Len())
}

func TestMemoryIndexRejectsBadEntries(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	assert.Error(t, idx.Upsert(ctx, []Entry{{MessageID: "", Vector: []float32{1}}}))
	assert.Error(t, idx.Upsert(ctx, []Entry{{MessageID: "m1"}}))

	_, err := idx.Query(ctx, nil, nil)
	assert.Error(t, err)
}

func TestMemoryIndexEqualScoresTieBreakOnID(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Entry{
		{MessageID: "z", ChannelID: "c1", Vector: []float32{1, 0}},
		{MessageID: "a", ChannelID: "c1", Vector: []float32{1, 0}},
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].MessageID)
	assert.Equal(t, "z", hits[1].MessageID)
}
