package store

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"

	"github.com/pkg/errors"
)

// Message is a normalized chat message. IDs are platform snowflakes and are
// treated as globally unique; ParentID and ThreadID always reference the same
// channel as the message itself.
type Message struct {
	ID        string
	ChannelID string
	Author    string
	AuthorID  string
	PostedTs  int64 // unix millis
	Text      string
	Reactions map[string]int
	ParentID  string // empty for top-level messages
	ThreadID  string // empty when not part of a thread

	// Lifecycle. Messages are never deleted; a deletion upstream marks the
	// message stale so existing lineage keeps resolving.
	Stale     bool
	UpdatedTs int64
}

// Validate checks the fields every stored message must carry. Parent and
// thread references are not validated here; the forest resolves or demotes
// them on upsert.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id required")
	}
	if m.ChannelID == "" {
		return errors.New("channel id required")
	}
	return nil
}

// Clone returns a deep copy. Query results are always clones so callers can
// never mutate the forest's own records.
func (m *Message) Clone() *Message {
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(map[string]int, len(m.Reactions))
		maps.Copy(c.Reactions, m.Reactions)
	}
	return &c
}

// equalPayload reports whether two messages carry identical content and
// lineage. Used to make re-upserts of unchanged messages a no-op.
func (m *Message) equalPayload(o *Message) bool {
	return m.ID == o.ID &&
		m.ChannelID == o.ChannelID &&
		m.Author == o.Author &&
		m.AuthorID == o.AuthorID &&
		m.PostedTs == o.PostedTs &&
		m.Text == o.Text &&
		m.ParentID == o.ParentID &&
		m.ThreadID == o.ThreadID &&
		m.Stale == o.Stale &&
		maps.Equal(m.Reactions, o.Reactions)
}

// chronoLess orders messages chronologically with the id as a deterministic
// tie break for equal timestamps.
func chronoLess(a, b *Message) bool {
	if a.PostedTs != b.PostedTs {
		return a.PostedTs < b.PostedTs
	}
	return a.ID < b.ID
}

// TextHash returns the hash used to detect text changes between the stored
// message and its indexed embedding.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// FindMessage is the find condition for messages.
type FindMessage struct {
	ID        *string
	ChannelID *string
	Stale     *bool
	Limit     int
}

// UpsertResult describes what a message upsert changed.
type UpsertResult struct {
	// Message is the stored copy, after any cycle demotion.
	Message *Message
	// New is true when no message with this id existed before.
	New bool
	// TextChanged is true when the stored text differs from what was there
	// before; new messages with non-empty text count as changed. The ingest
	// pipeline schedules (re-)embedding off this flag.
	TextChanged bool
	// Demoted is true when the message's parent reference would have closed
	// a reply cycle and was cleared.
	Demoted bool
	// Repaired counts previously dangling child edges that this upsert
	// resolved by supplying their missing parent.
	Repaired int
	// Unchanged is true when the upsert was a no-op.
	Unchanged bool
}

// ChannelStats summarizes one channel's forest.
type ChannelStats struct {
	ChannelID  string
	Messages   int
	Threads    int
	Unresolved int
}

// ChannelState is the per-channel sync cursor. LastMessageID is the newest
// message id already ingested; incremental syncs resume after it.
type ChannelState struct {
	ChannelID     string
	GuildID       string
	Name          string
	LastMessageID string
	LastSyncTs    int64
}

// FindChannelState is the find condition for channel states.
type FindChannelState struct {
	ChannelID *string
	GuildID   *string
}
