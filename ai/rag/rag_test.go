package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/guildsage/guildsage/ai"
	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/store"
)

// vocabEmbedder embeds by vocabulary presence so similarity in tests is
// predictable: texts sharing a keyword score high, unrelated texts score zero.
type vocabEmbedder struct {
	vocab      []string
	batchSizes []int
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{
		vocab: []string{"deploy", "rollback", "postgres", "outage", "backup"},
	}
}

func (e *vocabEmbedder) vectorFor(text string) []float32 {
	vec := make([]float32, len(e.vocab))
	lower := strings.ToLower(text)
	for i, word := range e.vocab {
		if strings.Contains(lower, word) {
			vec[i] = 1
		}
	}
	return vec
}

func (e *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vectorFor(text), nil
}

func (e *vocabEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batchSizes = append(e.batchSizes, len(texts))
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = e.vectorFor(text)
	}
	return vecs, nil
}

func (e *vocabEmbedder) Model() string {
	return "vocab-test"
}

// fakeChat records prompts and returns a canned reply, optionally failing the
// first failLeft calls.
type fakeChat struct {
	calls    int
	prompts  [][]ai.Message
	reply    string
	stats    *ai.LLMCallStats
	failLeft int
	failWith error
}

func (f *fakeChat) Chat(_ context.Context, messages []ai.Message) (string, *ai.LLMCallStats, error) {
	f.calls++
	f.prompts = append(f.prompts, messages)
	if f.failLeft > 0 {
		f.failLeft--
		return "", nil, f.failWith
	}
	return f.reply, f.stats, nil
}

// flakyIndex fails the first queryFailures queries as if the backend were
// down, then behaves like a normal in-memory index. It records the limit of
// the most recent query.
type flakyIndex struct {
	*vector.MemoryIndex
	queryFailures int
	lastLimit     int
}

func (f *flakyIndex) Query(ctx context.Context, vec []float32, opts *vector.QueryOptions) ([]vector.Hit, error) {
	f.lastLimit = opts.Limit
	if f.queryFailures > 0 {
		f.queryFailures--
		return nil, errors.Wrap(vector.ErrUnavailable, "simulated outage")
	}
	return f.MemoryIndex.Query(ctx, vec, opts)
}

func chatMsg(id, channelID, parentID string, ts int64, author, text string) *store.Message {
	return &store.Message{
		ID:        id,
		ChannelID: channelID,
		Author:    author,
		AuthorID:  author + "-id",
		PostedTs:  ts,
		Text:      text,
		ParentID:  parentID,
	}
}

func seed(t *testing.T, s *store.Store, msgs ...*store.Message) {
	t.Helper()
	ctx := context.Background()
	for _, msg := range msgs {
		_, err := s.UpsertMessage(ctx, msg)
		require.NoError(t, err)
	}
}

func excerptIDs(e *Excerpt) []string {
	out := make([]string, 0, len(e.Messages))
	for _, msg := range e.Messages {
		out = append(out, msg.ID)
	}
	return out
}
