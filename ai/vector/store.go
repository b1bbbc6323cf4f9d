package vector

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// StoreIndex persists vectors through the lineage store's driver. SQLite
// deployments score in the application, PostgreSQL deployments score in the
// database via pgvector; either way this type only shuttles entries and hits.
type StoreIndex struct {
	store *store.Store
	model string
}

// NewStoreIndex creates an index bound to one embedding model. Vectors from
// other models are invisible to it.
func NewStoreIndex(s *store.Store, model string) *StoreIndex {
	return &StoreIndex{store: s, model: model}
}

func (si *StoreIndex) Upsert(ctx context.Context, entries []Entry) error {
	for _, entry := range entries {
		if entry.MessageID == "" {
			return errors.New("entry message id is required")
		}
		if len(entry.Vector) == 0 {
			return errors.Errorf("entry %s has an empty vector", entry.MessageID)
		}
		_, err := si.store.UpsertMessageEmbedding(ctx, &store.MessageEmbedding{
			MessageID: entry.MessageID,
			ChannelID: entry.ChannelID,
			Model:     si.model,
			TextHash:  entry.TextHash,
			Embedding: entry.Vector,
		})
		if err != nil {
			return errors.Wrapf(ErrUnavailable, "upsert embedding for %s: %v", entry.MessageID, err)
		}
	}
	return nil
}

func (si *StoreIndex) Query(ctx context.Context, vec []float32, opts *QueryOptions) ([]Hit, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}

	searchOpts := &store.VectorSearchOptions{
		Vector:        vec,
		Model:         si.model,
		Limit:         opts.Limit,
		ChannelID:     opts.ChannelID,
		PostedAfter:   opts.PostedAfter,
		MaxCandidates: opts.MaxCandidates,
	}
	// Option errors are the caller's fault and must not look retryable.
	if err := searchOpts.Validate(); err != nil {
		return nil, err
	}

	results, err := si.store.VectorSearch(ctx, searchOpts)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "vector search: %v", err)
	}

	hits := make([]Hit, len(results))
	for i, result := range results {
		hits[i] = Hit{MessageID: result.Message.ID, Score: result.Score}
	}
	return hits, nil
}

func (si *StoreIndex) Remove(ctx context.Context, messageID string) error {
	err := si.store.DeleteMessageEmbedding(ctx, messageID, si.model)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrapf(ErrUnavailable, "delete embedding for %s: %v", messageID, err)
	}
	return nil
}

func (si *StoreIndex) Count(ctx context.Context) (int, error) {
	count, err := si.store.CountMessageEmbeddings(ctx, si.model)
	if err != nil {
		return 0, errors.Wrapf(ErrUnavailable, "count embeddings: %v", err)
	}
	return count, nil
}

// Model returns the embedding model this index is bound to.
func (si *StoreIndex) Model() string {
	return si.model
}
