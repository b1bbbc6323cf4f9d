package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/guildsage/guildsage/ai/metrics"
	"github.com/guildsage/guildsage/plugin/discord"
	"github.com/guildsage/guildsage/store"
)

// Lister is the platform capability the syncer needs. Implemented by
// discord.Client.
type Lister interface {
	Guilds(ctx context.Context) ([]*discord.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]*discord.Channel, error)
	ActiveThreads(ctx context.Context, guildID string) ([]*discord.Channel, error)
	Messages(ctx context.Context, channelID string, opts *discord.MessagesOptions) ([]*discord.RawMessage, error)
}

// SyncerConfig configures a sync run.
type SyncerConfig struct {
	// GuildID scopes the walk. When empty and the token sees exactly one
	// guild, that guild is used.
	GuildID string

	// Concurrency bounds how many channels sync in parallel. Defaults to 4.
	Concurrency int

	// PageSize is the history page size, capped at Discord's limit of 100.
	// Defaults to 100.
	PageSize int

	// MaxPagesPerChannel caps how deep one run pages into a channel.
	// Zero means no cap.
	MaxPagesPerChannel int

	// Full ignores stored high-water marks and walks from the beginning.
	Full bool

	// Metrics receives sync metrics when set.
	Metrics *metrics.PrometheusExporter
}

// SyncReport summarizes one sync run.
type SyncReport struct {
	GuildID    string        `json:"guild_id"`
	Channels   int           `json:"channels"`
	Threads    int           `json:"threads"`
	Result     *IngestResult `json:"result"`
	DurationMs int64         `json:"duration_ms"`
}

// Syncer walks a guild's text channels and active threads and feeds their
// history to the pipeline. Channels sync in parallel under a bounded
// semaphore; each channel's own pages stay sequential so its high-water
// mark only ever moves forward.
type Syncer struct {
	client   Lister
	pipeline *Pipeline
	store    *store.Store
	metrics  *metrics.PrometheusExporter

	guildID     string
	concurrency int
	pageSize    int
	maxPages    int
	full        bool
}

// NewSyncer creates a new Syncer.
func NewSyncer(client Lister, pipeline *Pipeline, s *store.Store, cfg *SyncerConfig) *Syncer {
	if cfg == nil {
		cfg = &SyncerConfig{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > discord.MaxMessagePageSize {
		pageSize = discord.MaxMessagePageSize
	}
	return &Syncer{
		client:      client,
		pipeline:    pipeline,
		store:       s,
		metrics:     cfg.Metrics,
		guildID:     cfg.GuildID,
		concurrency: concurrency,
		pageSize:    pageSize,
		maxPages:    cfg.MaxPagesPerChannel,
		full:        cfg.Full,
	}
}

// Run performs one sync pass over the guild.
func (s *Syncer) Run(ctx context.Context) (*SyncReport, error) {
	startTime := time.Now()
	report, err := s.run(ctx)
	if s.metrics != nil {
		s.metrics.RecordSync(time.Since(startTime), err == nil)
	}
	if err != nil {
		return nil, err
	}
	report.DurationMs = time.Since(startTime).Milliseconds()

	slog.Info("sync run complete",
		"guild_id", report.GuildID,
		"channels", report.Channels,
		"threads", report.Threads,
		"stored", report.Result.Total(),
		"new", report.Result.New,
		"malformed", report.Result.Malformed,
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

type syncTarget struct {
	fetchID string // the Discord channel to page through: channel or thread id
	name    string
	scope   *Scope
}

func (s *Syncer) run(ctx context.Context) (*SyncReport, error) {
	guildID, err := s.resolveGuild(ctx)
	if err != nil {
		return nil, err
	}

	channels, err := s.client.GuildChannels(ctx, guildID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list guild channels")
	}
	threads, err := s.client.ActiveThreads(ctx, guildID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active threads")
	}

	var targets []syncTarget
	channelCount := 0
	for _, ch := range channels {
		if !ch.IsTextChannel() {
			continue
		}
		channelCount++
		targets = append(targets, syncTarget{
			fetchID: ch.ID,
			name:    ch.Name,
			scope:   &Scope{ChannelID: ch.ID},
		})
	}
	threadCount := 0
	for _, th := range threads {
		if !th.IsThread() {
			continue
		}
		parent := th.ParentID
		if parent == "" {
			parent = th.ID
		}
		threadCount++
		targets = append(targets, syncTarget{
			fetchID: th.ID,
			name:    th.Name,
			scope:   &Scope{ChannelID: parent, ThreadID: th.ID},
		})
	}

	total := &IngestResult{}
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(s.concurrency))
	for _, tgt := range targets {
		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			res, err := s.syncOne(egCtx, guildID, tgt)
			if err != nil {
				if errors.Is(err, discord.ErrForbidden) {
					slog.Warn("skipping channel without read access",
						"channel_id", tgt.fetchID,
						"name", tgt.name,
					)
					return nil
				}
				return err
			}

			mu.Lock()
			total.merge(res)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &SyncReport{
		GuildID:  guildID,
		Channels: channelCount,
		Threads:  threadCount,
		Result:   total,
	}, nil
}

// syncOne pages one channel or thread from its high-water mark to the
// present, advancing the mark after every stored page.
func (s *Syncer) syncOne(ctx context.Context, guildID string, tgt syncTarget) (*IngestResult, error) {
	after := ""
	if !s.full {
		state, err := s.store.GetChannelState(ctx, tgt.fetchID)
		if err != nil {
			return nil, err
		}
		if state != nil {
			after = state.LastMessageID
		}
	}
	if after == "" {
		// Snowflake zero: page the whole history oldest first.
		after = "0"
	}

	total := &IngestResult{}
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		raws, err := s.client.Messages(ctx, tgt.fetchID, &discord.MessagesOptions{
			After: after,
			Limit: s.pageSize,
		})
		if err != nil {
			return total, err
		}
		if len(raws) == 0 {
			break
		}

		var res *IngestResult
		if tgt.scope.ThreadID != "" {
			res, err = s.pipeline.IngestThread(ctx, tgt.scope.ChannelID, tgt.scope.ThreadID, raws)
		} else {
			res, err = s.pipeline.IngestChannel(ctx, tgt.scope.ChannelID, raws)
		}
		if err != nil {
			return total, err
		}
		total.merge(res)

		after = raws[len(raws)-1].ID
		if _, err := s.store.UpsertChannelState(ctx, &store.ChannelState{
			ChannelID:     tgt.fetchID,
			GuildID:       guildID,
			Name:          tgt.name,
			LastMessageID: after,
			LastSyncTs:    time.Now().UnixMilli(),
		}); err != nil {
			return total, err
		}

		if len(raws) < s.pageSize {
			break
		}
		if s.maxPages > 0 && page+1 >= s.maxPages {
			slog.Warn("channel page cap reached, resuming next run",
				"channel_id", tgt.fetchID,
				"pages", page+1,
			)
			break
		}
	}
	return total, nil
}

func (s *Syncer) resolveGuild(ctx context.Context) (string, error) {
	if s.guildID != "" {
		return s.guildID, nil
	}
	guilds, err := s.client.Guilds(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to list guilds")
	}
	if len(guilds) == 1 {
		slog.Info("sync scoped to the only visible guild",
			"guild_id", guilds[0].ID,
			"name", guilds[0].Name,
		)
		return guilds[0].ID, nil
	}
	return "", errors.Errorf("guild id not configured and the token sees %d guilds", len(guilds))
}
