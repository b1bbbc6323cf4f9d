package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/guildsage/guildsage/ai/metrics"
	"github.com/guildsage/guildsage/plugin/discord"
	"github.com/guildsage/guildsage/store"
)

// Indexer is the indexing capability the pipeline needs. Implemented by
// rag.Indexer. A nil indexer disables indexing; ingestion still stores
// everything.
type Indexer interface {
	IndexMessages(ctx context.Context, msgs []*store.Message) (int, error)
}

// PipelineConfig configures the ingestion pipeline.
type PipelineConfig struct {
	// IndexBuffer bounds the async indexing queue, in batches. When the
	// queue is full new batches are dropped; the next reindex pass picks
	// the dropped messages up. Defaults to 256.
	IndexBuffer int

	// Metrics receives ingest metrics when set.
	Metrics *metrics.PrometheusExporter
}

// IngestResult aggregates what a batch (or a whole sync run) changed.
type IngestResult struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Malformed int `json:"malformed"`
	Demoted   int `json:"demoted"`
	Repaired  int `json:"repaired"`
	Queued    int `json:"queued"`
}

// Total returns how many records were stored, in any form.
func (r *IngestResult) Total() int {
	return r.New + r.Updated + r.Unchanged
}

func (r *IngestResult) merge(other *IngestResult) {
	r.New += other.New
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Malformed += other.Malformed
	r.Demoted += other.Demoted
	r.Repaired += other.Repaired
	r.Queued += other.Queued
}

// Pipeline normalizes and stores raw records, then hands changed texts to
// the indexer on a background worker so embedding I/O never blocks store
// writes.
type Pipeline struct {
	store      *store.Store
	normalizer *Normalizer
	indexer    Indexer
	metrics    *metrics.PrometheusExporter

	queue chan []*store.Message
	wg    sync.WaitGroup
}

// NewPipeline creates a new Pipeline.
func NewPipeline(s *store.Store, indexer Indexer, cfg *PipelineConfig) *Pipeline {
	if cfg == nil {
		cfg = &PipelineConfig{}
	}
	buffer := cfg.IndexBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Pipeline{
		store:      s,
		normalizer: NewNormalizer(),
		indexer:    indexer,
		metrics:    cfg.Metrics,
		queue:      make(chan []*store.Message, buffer),
	}
}

// Start launches the background index worker. It runs until ctx is
// canceled; call Wait afterwards to let in-flight batches finish.
func (p *Pipeline) Start(ctx context.Context) {
	if p.indexer == nil {
		return
	}
	p.wg.Add(1)
	go p.indexLoop(ctx)
}

// Wait blocks until the index worker has stopped.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// IngestChannel ingests one channel's records.
func (p *Pipeline) IngestChannel(ctx context.Context, channelID string, raws []*discord.RawMessage) (*IngestResult, error) {
	return p.ingest(ctx, &Scope{ChannelID: channelID}, raws)
}

// IngestThread ingests a thread's records under its parent channel.
func (p *Pipeline) IngestThread(ctx context.Context, channelID, threadID string, raws []*discord.RawMessage) (*IngestResult, error) {
	return p.ingest(ctx, &Scope{ChannelID: channelID, ThreadID: threadID}, raws)
}

func (p *Pipeline) ingest(ctx context.Context, scope *Scope, raws []*discord.RawMessage) (*IngestResult, error) {
	result := &IngestResult{}
	var changed []*store.Message

	for _, raw := range raws {
		msg, err := p.normalizer.Normalize(raw, scope)
		if err != nil {
			result.Malformed++
			p.recordIngest(scope.ChannelID, "malformed")
			slog.Warn("skipping malformed record",
				"channel_id", scope.ChannelID,
				"error", err,
			)
			continue
		}

		res, err := p.store.UpsertMessage(ctx, msg)
		if err != nil {
			return result, err
		}

		switch {
		case res.Unchanged:
			result.Unchanged++
			p.recordIngest(scope.ChannelID, "unchanged")
		case res.New:
			result.New++
			p.recordIngest(scope.ChannelID, "new")
		default:
			result.Updated++
			p.recordIngest(scope.ChannelID, "updated")
		}
		if res.Demoted {
			result.Demoted++
			if p.metrics != nil {
				p.metrics.RecordDemotion(scope.ChannelID)
			}
		}
		if res.Repaired > 0 {
			result.Repaired += res.Repaired
			if p.metrics != nil {
				p.metrics.RecordRepairs(scope.ChannelID, res.Repaired)
			}
		}
		if res.TextChanged {
			changed = append(changed, res.Message)
		}
	}

	if len(changed) > 0 && p.indexer != nil {
		result.Queued = len(changed)
		select {
		case p.queue <- changed:
		default:
			result.Queued = 0
			slog.Warn("index queue full, dropping batch until next reindex",
				"channel_id", scope.ChannelID,
				"messages", len(changed),
			)
		}
	}

	p.publishUnresolved(ctx, scope.ChannelID)

	slog.Debug("batch ingested",
		"channel_id", scope.ChannelID,
		"thread_id", scope.ThreadID,
		"records", len(raws),
		"new", result.New,
		"updated", result.Updated,
		"malformed", result.Malformed,
	)
	return result, nil
}

func (p *Pipeline) indexLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-p.queue:
			if _, err := p.indexer.IndexMessages(ctx, batch); err != nil {
				slog.Error("async indexing failed, reindex will catch up",
					"messages", len(batch),
					"error", err,
				)
			}
		}
	}
}

func (p *Pipeline) recordIngest(channelID, result string) {
	if p.metrics != nil {
		p.metrics.RecordIngest(channelID, result)
	}
}

func (p *Pipeline) publishUnresolved(ctx context.Context, channelID string) {
	if p.metrics == nil {
		return
	}
	for _, stats := range p.store.ChannelStats(ctx) {
		if stats.ChannelID == channelID {
			p.metrics.SetUnresolved(channelID, stats.Unresolved)
			return
		}
	}
}
