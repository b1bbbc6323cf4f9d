// Package vector provides the message vector index used by retrieval. The
// index stores one vector per message and answers similarity queries with
// scored message ids; resolving ids back to messages is the caller's job.
package vector

import (
	"context"

	"github.com/pkg/errors"
)

// ErrUnavailable marks index failures that are worth retrying: the backing
// database is down, a batch write timed out. Callers check for it with
// errors.Is and schedule a re-run instead of failing the whole sync.
var ErrUnavailable = errors.New("vector index unavailable")

// Entry is one indexed message vector.
type Entry struct {
	MessageID string
	ChannelID string
	TextHash  string
	PostedTs  int64
	Vector    []float32
}

// Hit is a similarity query result.
type Hit struct {
	MessageID string  `json:"message_id"`
	Score     float32 `json:"score"`
}

// QueryOptions narrows a similarity query.
type QueryOptions struct {
	// Limit caps the number of hits. Defaults to 10.
	Limit int

	// ChannelID restricts hits to one channel when set.
	ChannelID string

	// PostedAfter restricts hits to messages posted at or after this unix
	// millisecond timestamp when positive.
	PostedAfter int64

	// MaxCandidates bounds how many stored vectors a brute-force backend
	// scores. Ignored by backends that search in the database.
	MaxCandidates int
}

// Index is the vector index capability.
type Index interface {
	// Upsert stores entries, replacing any existing vector per message id.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns the most similar entries, best first.
	Query(ctx context.Context, vec []float32, opts *QueryOptions) ([]Hit, error)

	// Remove drops a message's vector. Removing an unknown id is a no-op.
	Remove(ctx context.Context, messageID string) error

	// Count reports how many vectors the index holds.
	Count(ctx context.Context) (int, error)
}
