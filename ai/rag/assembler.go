package rag

import (
	"context"
	"log/slog"
	"sort"

	"github.com/guildsage/guildsage/ai/vector"
	"github.com/guildsage/guildsage/store"
)

// AssemblerConfig bounds how much lineage gets pulled in around each match.
type AssemblerConfig struct {
	// AncestorDepth is how many reply links to walk upward. Defaults to 4.
	AncestorDepth int

	// DescendantDepth is how many reply levels to walk downward.
	// Defaults to 2.
	DescendantDepth int

	// DescendantFanout caps children taken per message on the way down.
	// Defaults to 5.
	DescendantFanout int

	// MaxExcerpts caps how many excerpts the assembled context may hold.
	// Defaults to 6.
	MaxExcerpts int

	// MaxContextMessages caps the total message count across all excerpts.
	// Defaults to 60.
	MaxContextMessages int
}

func (c *AssemblerConfig) applyDefaults() {
	if c.AncestorDepth <= 0 {
		c.AncestorDepth = 4
	}
	if c.DescendantDepth <= 0 {
		c.DescendantDepth = 2
	}
	if c.DescendantFanout <= 0 {
		c.DescendantFanout = 5
	}
	if c.MaxExcerpts <= 0 {
		c.MaxExcerpts = 6
	}
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = 60
	}
}

// Excerpt is one conversation fragment of the assembled context: a matched
// message together with the lineage around it, in chronological order.
type Excerpt struct {
	// Anchor is the matched message the excerpt grew from. After a merge it
	// is the highest-scoring of the merged anchors.
	Anchor *store.Message

	// Score is the anchor's similarity score; a merge keeps the maximum.
	Score float32

	// Messages holds the excerpt's messages in chronological order. The
	// anchor is always among them.
	Messages []*store.Message
}

// Assembler expands vector hits into excerpts backed by the lineage store.
//
// Excerpts whose message sets overlap are merged (union of messages, maximum
// score); an excerpt fully contained in another is dropped. The surviving
// excerpts are capped by count and by total message budget, best scores
// first. Assembly stops at the first excerpt that would blow the budget.
type Assembler struct {
	store *store.Store
	cfg   AssemblerConfig
}

// NewAssembler creates a new Assembler.
func NewAssembler(s *store.Store, cfg *AssemblerConfig) *Assembler {
	config := AssemblerConfig{}
	if cfg != nil {
		config = *cfg
	}
	config.applyDefaults()
	return &Assembler{store: s, cfg: config}
}

type excerptBuild struct {
	anchor  *store.Message
	score   float32
	members map[string]*store.Message
}

func (b *excerptBuild) overlaps(other *excerptBuild) bool {
	small, large := b, other
	if len(other.members) < len(b.members) {
		small, large = other, b
	}
	for id := range small.members {
		if _, ok := large.members[id]; ok {
			return true
		}
	}
	return false
}

func (b *excerptBuild) absorb(other *excerptBuild) {
	for id, msg := range other.members {
		b.members[id] = msg
	}
	if other.score > b.score {
		b.score = other.score
		b.anchor = other.anchor
	}
}

// Assemble turns scored hits into capped, deduplicated excerpts. Hits whose
// message is unknown to the store are skipped. No hits, or none that
// survive, yields an empty result and no error.
func (a *Assembler) Assemble(ctx context.Context, hits []vector.Hit) ([]*Excerpt, error) {
	ordered := make([]vector.Hit, len(hits))
	copy(ordered, hits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].MessageID < ordered[j].MessageID
	})

	builds := []*excerptBuild{}
	for _, hit := range ordered {
		build, err := a.expand(ctx, hit)
		if err != nil {
			return nil, err
		}
		if build == nil {
			continue
		}
		builds = a.fold(builds, build)
	}

	sort.SliceStable(builds, func(i, j int) bool {
		if builds[i].score != builds[j].score {
			return builds[i].score > builds[j].score
		}
		return builds[i].anchor.ID < builds[j].anchor.ID
	})

	excerpts := []*Excerpt{}
	budget := a.cfg.MaxContextMessages
	for _, build := range builds {
		if len(excerpts) == a.cfg.MaxExcerpts {
			break
		}
		if len(build.members) > budget {
			break
		}
		budget -= len(build.members)
		excerpts = append(excerpts, build.materialize())
	}

	slog.Debug("assembled context",
		"hits", len(hits),
		"excerpts", len(excerpts),
		"messages", a.cfg.MaxContextMessages-budget,
	)
	return excerpts, nil
}

// expand grows one hit into its lineage neighborhood. Returns nil when the
// store does not know the message.
func (a *Assembler) expand(ctx context.Context, hit vector.Hit) (*excerptBuild, error) {
	anchor, err := a.store.GetMessage(ctx, hit.MessageID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, nil
	}

	build := &excerptBuild{
		anchor:  anchor,
		score:   hit.Score,
		members: map[string]*store.Message{anchor.ID: anchor},
	}

	ancestors, err := a.store.Ancestors(ctx, anchor.ID, a.cfg.AncestorDepth)
	if err != nil {
		return nil, err
	}
	for _, msg := range ancestors {
		build.members[msg.ID] = msg
	}

	descendants, err := a.store.Descendants(ctx, anchor.ID, a.cfg.DescendantDepth, a.cfg.DescendantFanout)
	if err != nil {
		return nil, err
	}
	for _, msg := range descendants {
		build.members[msg.ID] = msg
	}

	return build, nil
}

// fold merges a new excerpt into the accumulated set. Overlap is transitive:
// a new excerpt bridging two disjoint ones collapses all three into one.
func (a *Assembler) fold(builds []*excerptBuild, incoming *excerptBuild) []*excerptBuild {
	var host *excerptBuild
	kept := builds[:0]
	for _, existing := range builds {
		if !existing.overlaps(incoming) {
			kept = append(kept, existing)
			continue
		}
		if host == nil {
			existing.absorb(incoming)
			host = existing
			kept = append(kept, existing)
		} else {
			host.absorb(existing)
		}
	}
	if host == nil {
		kept = append(kept, incoming)
	}
	return kept
}

func (b *excerptBuild) materialize() *Excerpt {
	messages := make([]*store.Message, 0, len(b.members))
	for _, msg := range b.members {
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].PostedTs != messages[j].PostedTs {
			return messages[i].PostedTs < messages[j].PostedTs
		}
		return messages[i].ID < messages[j].ID
	})
	return &Excerpt{
		Anchor:   b.anchor,
		Score:    b.score,
		Messages: messages,
	}
}
