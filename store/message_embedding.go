package store

import (
	"context"

	"github.com/pkg/errors"
)

// MessageEmbedding is the persisted vector for one message under one model.
// TextHash records the hash of the text that was embedded so unchanged
// messages are never re-embedded.
type MessageEmbedding struct {
	MessageID string
	ChannelID string
	Model     string
	TextHash  string
	Embedding []float32
	CreatedTs int64
	UpdatedTs int64
}

// FindMessageEmbedding is the find condition for message embeddings.
type FindMessageEmbedding struct {
	MessageID *string
	ChannelID *string
	Model     *string
	Limit     int
}

// FindMessagesWithoutEmbedding is the find condition for messages whose
// embedding is missing or stale for a model.
type FindMessagesWithoutEmbedding struct {
	Model string
	Limit int
}

// MessageWithScore is a vector search result with its similarity score.
type MessageWithScore struct {
	Message *Message
	Score   float32
}

// VectorSearchOptions represents the options for message vector search.
type VectorSearchOptions struct {
	Vector      []float32
	Model       string
	Limit       int
	ChannelID   string // optional: restrict to one channel
	PostedAfter int64  // optional: only messages posted after this timestamp
	// MaxCandidates caps how many stored vectors the application-layer
	// search loads; ignored by drivers that search in the database.
	MaxCandidates int
}

// Validate validates the VectorSearchOptions.
func (o *VectorSearchOptions) Validate() error {
	if len(o.Vector) == 0 {
		return errors.Errorf("vector cannot be empty")
	}
	if o.Model == "" {
		return errors.Errorf("model required")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// UpsertMessageEmbedding inserts or updates a message embedding. The vector
// must match the configured dimension; a mismatch means the embedding model
// and the store configuration have drifted apart.
func (s *Store) UpsertMessageEmbedding(ctx context.Context, embedding *MessageEmbedding) (*MessageEmbedding, error) {
	if s.driver == nil {
		return nil, errors.New("no storage driver configured")
	}
	if s.profile != nil && s.profile.EmbeddingDimensions > 0 && len(embedding.Embedding) != s.profile.EmbeddingDimensions {
		return nil, errors.Errorf("embedding has %d dimensions, store is configured for %d",
			len(embedding.Embedding), s.profile.EmbeddingDimensions)
	}
	return s.driver.UpsertMessageEmbedding(ctx, embedding)
}

// GetMessageEmbedding gets the embedding of a specific message.
func (s *Store) GetMessageEmbedding(ctx context.Context, messageID, model string) (*MessageEmbedding, error) {
	if s.driver == nil {
		return nil, errors.New("no storage driver configured")
	}
	list, err := s.driver.ListMessageEmbeddings(ctx, &FindMessageEmbedding{
		MessageID: &messageID,
		Model:     &model,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListMessageEmbeddings lists message embeddings.
func (s *Store) ListMessageEmbeddings(ctx context.Context, find *FindMessageEmbedding) ([]*MessageEmbedding, error) {
	if s.driver == nil {
		return nil, errors.New("no storage driver configured")
	}
	return s.driver.ListMessageEmbeddings(ctx, find)
}

// DeleteMessageEmbedding deletes a message embedding.
func (s *Store) DeleteMessageEmbedding(ctx context.Context, messageID, model string) error {
	if s.driver == nil {
		return errors.New("no storage driver configured")
	}
	return s.driver.DeleteMessageEmbedding(ctx, messageID, model)
}

// CountMessageEmbeddings counts stored embeddings for a model.
func (s *Store) CountMessageEmbeddings(ctx context.Context, model string) (int, error) {
	if s.driver == nil {
		return 0, errors.New("no storage driver configured")
	}
	return s.driver.CountMessageEmbeddings(ctx, model)
}

// FindMessagesWithoutEmbedding finds messages whose embedding for the model
// is missing or was computed from older text.
func (s *Store) FindMessagesWithoutEmbedding(ctx context.Context, find *FindMessagesWithoutEmbedding) ([]*Message, error) {
	if s.driver == nil {
		return nil, errors.New("no storage driver configured")
	}
	return s.driver.FindMessagesWithoutEmbedding(ctx, find)
}

// VectorSearch performs vector similarity search over message embeddings.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MessageWithScore, error) {
	if s.driver == nil {
		return nil, errors.New("no storage driver configured")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.VectorSearch(ctx, opts)
}
