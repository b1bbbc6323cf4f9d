package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryIndex is a brute-force in-memory index. It backs the pure in-memory
// deployment mode and the test suite; durable deployments use the store-backed
// index instead.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		if entry.MessageID == "" {
			return errors.New("entry message id is required")
		}
		if len(entry.Vector) == 0 {
			return errors.Errorf("entry %s has an empty vector", entry.MessageID)
		}
		m.entries[entry.MessageID] = entry
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vec []float32, opts *QueryOptions) ([]Hit, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector is required")
	}
	if opts == nil {
		opts = &QueryOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, entry := range m.entries {
		if opts.ChannelID != "" && entry.ChannelID != opts.ChannelID {
			continue
		}
		if opts.PostedAfter > 0 && entry.PostedTs < opts.PostedAfter {
			continue
		}
		hits = append(hits, Hit{
			MessageID: entry.MessageID,
			Score:     cosineSimilarity(vec, entry.Vector),
		})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].MessageID < hits[j].MessageID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Remove(ctx context.Context, messageID string) error {
	m.mu.Lock()
	delete(m.entries, messageID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	return m.Len(), nil
}

// Len reports how many vectors the index holds.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
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
