package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for making queries to the durable backend.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Message model related methods.
	UpsertMessage(ctx context.Context, msg *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// MessageEmbedding model related methods.
	UpsertMessageEmbedding(ctx context.Context, embedding *MessageEmbedding) (*MessageEmbedding, error)
	ListMessageEmbeddings(ctx context.Context, find *FindMessageEmbedding) ([]*MessageEmbedding, error)
	DeleteMessageEmbedding(ctx context.Context, messageID, model string) error
	CountMessageEmbeddings(ctx context.Context, model string) (int, error)
	FindMessagesWithoutEmbedding(ctx context.Context, find *FindMessagesWithoutEmbedding) ([]*Message, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MessageWithScore, error)

	// ChannelState model related methods.
	UpsertChannelState(ctx context.Context, state *ChannelState) (*ChannelState, error)
	ListChannelStates(ctx context.Context, find *FindChannelState) ([]*ChannelState, error)
}
