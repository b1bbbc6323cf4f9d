// Package rag implements the retrieval side of the pipeline: indexing
// messages into the vector index, searching, assembling lineage context
// around matches, and answering questions over the assembled context.
package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/ai/metrics"
	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/store"
)

// Embedder generates vectors for texts. Implemented by ai.EmbeddingService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// IndexerConfig configures the message indexer.
type IndexerConfig struct {
	// BatchSize is how many messages go into one embedding request.
	// Defaults to 64.
	BatchSize int

	// Metrics receives indexing and search metrics when set.
	Metrics *metrics.PrometheusExporter
}

// Indexer keeps the vector index in step with the lineage store. Messages are
// embedded in batches; a message whose text has not changed since its last
// indexing is skipped by the catch-up path.
type Indexer struct {
	store     *store.Store
	index     vector.Index
	embedder  Embedder
	metrics   *metrics.PrometheusExporter
	batchSize int
}

// NewIndexer creates a new Indexer.
func NewIndexer(s *store.Store, index vector.Index, embedder Embedder, cfg *IndexerConfig) *Indexer {
	if cfg == nil {
		cfg = &IndexerConfig{}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Indexer{
		store:     s,
		index:     index,
		embedder:  embedder,
		metrics:   cfg.Metrics,
		batchSize: batchSize,
	}
}

// Model returns the embedding model the indexer writes under.
func (ix *Indexer) Model() string {
	return ix.embedder.Model()
}

// IndexMessages embeds and indexes the given messages, replacing any vectors
// they already have. Messages with no text are skipped; they exist for
// lineage only. Returns how many messages were indexed.
func (ix *Indexer) IndexMessages(ctx context.Context, msgs []*store.Message) (int, error) {
	indexable := make([]*store.Message, 0, len(msgs))
	for _, msg := range msgs {
		if strings.TrimSpace(msg.Text) == "" || msg.Stale {
			continue
		}
		indexable = append(indexable, msg)
	}
	if len(indexable) == 0 {
		return 0, nil
	}

	indexed := 0
	for start := 0; start < len(indexable); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(indexable) {
			end = len(indexable)
		}
		batch := indexable[start:end]

		texts := make([]string, len(batch))
		for i, msg := range batch {
			texts[i] = embedText(msg)
		}

		startTime := time.Now()
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if ix.metrics != nil {
			ix.metrics.RecordEmbedBatch(ix.Model(), len(batch), time.Since(startTime), err)
		}
		if err != nil {
			return indexed, errors.Wrapf(err, "failed to embed batch of %d messages", len(batch))
		}

		entries := make([]vector.Entry, len(batch))
		for i, msg := range batch {
			entries[i] = vector.Entry{
				MessageID: msg.ID,
				ChannelID: msg.ChannelID,
				TextHash:  store.TextHash(msg.Text),
				PostedTs:  msg.PostedTs,
				Vector:    vectors[i],
			}
		}
		if err := ix.index.Upsert(ctx, entries); err != nil {
			return indexed, err
		}
		indexed += len(batch)
	}

	slog.Debug("indexed messages", "model", ix.Model(), "count", indexed, "skipped", len(msgs)-indexed)
	return indexed, nil
}

// Reindex embeds every message whose vector is missing or was computed from
// text that has since changed. It is the catch-up path after the index was
// unavailable during ingestion. Returns how many messages were indexed.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		msgs, err := ix.store.FindMessagesWithoutEmbedding(ctx, &store.FindMessagesWithoutEmbedding{
			Model: ix.Model(),
			Limit: ix.batchSize,
		})
		if err != nil {
			return total, errors.Wrap(err, "failed to find messages without embedding")
		}
		if len(msgs) == 0 {
			break
		}

		indexed, err := ix.IndexMessages(ctx, msgs)
		total += indexed
		if err != nil {
			return total, err
		}
		if indexed == 0 {
			// Nothing indexable in a non-empty batch; stop rather than spin.
			break
		}
	}

	if total > 0 {
		slog.Info("reindex pass complete", "model", ix.Model(), "indexed", total)
	}
	return total, nil
}

// Remove drops a message from the index.
func (ix *Indexer) Remove(ctx context.Context, messageID string) error {
	return ix.index.Remove(ctx, messageID)
}

// Count reports how many messages the index holds vectors for.
func (ix *Indexer) Count(ctx context.Context) (int, error) {
	return ix.index.Count(ctx)
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// Limit caps the number of hits. Defaults to 8.
	Limit int

	// ChannelID restricts hits to one channel when set.
	ChannelID string

	// PostedAfter restricts hits to messages posted at or after this unix
	// millisecond timestamp when positive.
	PostedAfter int64

	// MinScore drops hits scoring below it.
	MinScore float32
}

// Search embeds the query and returns the most similar messages, best first.
// An error wrapping vector.ErrUnavailable means the caller may retry.
func (ix *Indexer) Search(ctx context.Context, query string, opts *SearchOptions) ([]vector.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is required")
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 8
	}

	startTime := time.Now()
	hits, err := ix.search(ctx, query, limit, opts)
	if ix.metrics != nil {
		ix.metrics.RecordSearch(time.Since(startTime), err == nil)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("vector search",
		"query_length", len(query),
		"hits", len(hits),
		"limit", limit,
		"channel_id", opts.ChannelID,
	)
	return hits, nil
}

func (ix *Indexer) search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]vector.Hit, error) {
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	hits, err := ix.index.Query(ctx, vec, &vector.QueryOptions{
		Limit:       limit,
		ChannelID:   opts.ChannelID,
		PostedAfter: opts.PostedAfter,
	})
	if err != nil {
		return nil, err
	}

	if opts.MinScore > 0 {
		kept := hits[:0]
		for _, hit := range hits {
			if hit.Score >= opts.MinScore {
				kept = append(kept, hit)
			}
		}
		hits = kept
	}
	return hits, nil
}

// embedText is what actually gets embedded for a message. The author name is
// included so questions mentioning a person surface that person's messages.
func embedText(msg *store.Message) string {
	if msg.Author == "" {
		return msg.Text
	}
	return msg.Author + ": " + msg.Text
}
