package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/internal/profile"
)

// Store is the lineage store: an in-memory reply/thread forest per channel,
// backed by an optional durable driver. Writes are serialized per channel and
// run in parallel across channels; reads return copies and never block other
// channels.
type Store struct {
	profile *profile.Profile
	driver  Driver

	mu     sync.RWMutex
	shards map[string]*forest
	route  map[string]string // message id -> channel id
}

// New creates a new instance of Store. The driver may be nil, in which case
// the store is purely in-memory and nothing survives a restart.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		shards:  make(map[string]*forest),
		route:   make(map[string]string),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close()
}

// Load rebuilds the in-memory forest from the driver. Embeddings are not
// touched; they reload lazily through the vector index.
func (s *Store) Load(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	msgs, err := s.driver.ListMessages(ctx, &FindMessage{})
	if err != nil {
		return errors.Wrap(err, "failed to load messages")
	}
	for _, msg := range msgs {
		shard := s.shard(msg.ChannelID, true)
		s.setRoute(msg.ID, msg.ChannelID)
		if result := shard.upsert(msg); result.Demoted {
			slog.Warn("demoted message with cyclic parent during load",
				"message_id", msg.ID, "channel_id", msg.ChannelID)
		}
	}
	slog.Info("lineage store loaded", "messages", len(msgs), "channels", len(s.shards))
	return nil
}

// UpsertMessage inserts or replaces a message, keyed by id. Upserts are
// idempotent: re-upserting identical content is a no-op. A message whose
// parent has not arrived yet is stored with its edge unresolved; the edge
// becomes traversable during the parent's own upsert, before that upsert
// returns.
func (s *Store) UpsertMessage(ctx context.Context, msg *Message) (*UpsertResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if prev, ok := s.channelOf(msg.ID); ok && prev != msg.ChannelID {
		return nil, errors.Errorf("message %s already belongs to channel %s", msg.ID, prev)
	}

	up := msg.Clone()
	if up.UpdatedTs == 0 {
		up.UpdatedTs = time.Now().UnixMilli()
	}

	shard := s.shard(up.ChannelID, true)
	shard.wmu.Lock()
	defer shard.wmu.Unlock()

	result := shard.upsert(up)
	if result.Unchanged {
		return result, nil
	}
	s.setRoute(up.ID, up.ChannelID)

	if result.Demoted {
		slog.Warn("reply cycle detected, message demoted to top-level",
			"message_id", up.ID, "channel_id", up.ChannelID, "parent_id", msg.ParentID)
	}
	if result.Repaired > 0 {
		slog.Debug("unresolved lineage repaired",
			"message_id", up.ID, "channel_id", up.ChannelID, "children", result.Repaired)
	}

	if s.driver != nil {
		if _, err := s.driver.UpsertMessage(ctx, result.Message); err != nil {
			return nil, errors.Wrap(err, "failed to persist message")
		}
	}
	return result, nil
}

// GetMessage returns a copy of the message, or nil when the id is unknown.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	shard := s.shardOf(id)
	if shard == nil {
		return nil, nil
	}
	return shard.get(id), nil
}

// Ancestors returns the parent chain of id, root-most first and the
// immediate parent last, walking at most maxDepth links. Unknown ids yield
// an empty result.
func (s *Store) Ancestors(ctx context.Context, id string, maxDepth int) ([]*Message, error) {
	shard := s.shardOf(id)
	if shard == nil {
		return nil, nil
	}
	return shard.ancestors(id, maxDepth), nil
}

// Descendants returns the reply tree below id in breadth-first order, at
// most maxDepth levels deep and at most maxFanout children per message.
// Unknown ids yield an empty result.
func (s *Store) Descendants(ctx context.Context, id string, maxDepth, maxFanout int) ([]*Message, error) {
	shard := s.shardOf(id)
	if shard == nil {
		return nil, nil
	}
	return shard.descendants(id, maxDepth, maxFanout), nil
}

// ThreadSiblings returns every message in id's thread, id included, in
// chronological order. Messages outside any thread yield an empty result.
func (s *Store) ThreadSiblings(ctx context.Context, id string) ([]*Message, error) {
	shard := s.shardOf(id)
	if shard == nil {
		return nil, nil
	}
	return shard.threadSiblings(id), nil
}

// ChannelStats summarizes every known channel, ordered by channel id.
func (s *Store) ChannelStats(ctx context.Context) []*ChannelStats {
	s.mu.RLock()
	ids := make([]string, 0, len(s.shards))
	shards := make([]*forest, 0, len(s.shards))
	for id, shard := range s.shards {
		ids = append(ids, id)
		shards = append(shards, shard)
	}
	s.mu.RUnlock()

	stats := make([]*ChannelStats, len(ids))
	for i := range ids {
		stats[i] = shards[i].stats(ids[i])
	}
	sortChannelStats(stats)
	return stats
}

func (s *Store) shard(channelID string, create bool) *forest {
	s.mu.RLock()
	shard, ok := s.shards[channelID]
	s.mu.RUnlock()
	if ok || !create {
		return shard
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if shard, ok = s.shards[channelID]; ok {
		return shard
	}
	shard = newForest()
	s.shards[channelID] = shard
	return shard
}

func (s *Store) shardOf(id string) *forest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channelID, ok := s.route[id]
	if !ok {
		return nil
	}
	return s.shards[channelID]
}

func (s *Store) channelOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channelID, ok := s.route[id]
	return channelID, ok
}

func (s *Store) setRoute(id, channelID string) {
	s.mu.Lock()
	s.route[id] = channelID
	s.mu.Unlock()
}

func sortChannelStats(stats []*ChannelStats) {
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ChannelID < stats[j].ChannelID
	})
}
