package main

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/guildsage/guildsage/ingest"
	apiv1 "github.com/guildsage/guildsage/server/router/api/v1"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull new messages from Discord into the lineage store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile, err := buildProfile()
		if err != nil {
			return err
		}
		setupLogger(instanceProfile, false)

		ctx := cmd.Context()
		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			printDatabaseError(err, instanceProfile)
			return errors.Wrap(err, "failed to open store")
		}
		defer storeInstance.Close()

		if instanceProfile.Driver == "memory" {
			slog.Warn("memory driver selected, synced history will not survive this run")
		}

		svc := apiv1.NewAPIV1Service(instanceProfile.APISecret, instanceProfile, storeInstance)
		if svc.Discord == nil {
			return errors.New("no discord credentials configured, set GUILDSAGE_DISCORD_BOT_TOKEN or run `guildsage login`")
		}

		// One-shot runs skip the async index queue and reindex at the end,
		// so embeddings are complete when the command returns.
		pipeline := ingest.NewPipeline(storeInstance, nil, &ingest.PipelineConfig{Metrics: svc.Metrics})
		syncer := ingest.NewSyncer(svc.Discord, pipeline, storeInstance, &ingest.SyncerConfig{
			GuildID:     instanceProfile.DiscordGuildID,
			Concurrency: instanceProfile.SyncConcurrency,
			Full:        syncFull,
			Metrics:     svc.Metrics,
		})

		report, err := syncer.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Synced guild %s: %d channels, %d threads in %dms\n",
			report.GuildID, report.Channels, report.Threads, report.DurationMs)
		fmt.Printf("  new %d, updated %d, unchanged %d, repaired %d, demoted %d, malformed %d\n",
			report.Result.New, report.Result.Updated, report.Result.Unchanged,
			report.Result.Repaired, report.Result.Demoted, report.Result.Malformed)

		if svc.Indexer != nil && storeInstance.GetDriver() != nil {
			indexed, err := svc.Indexer.Reindex(ctx)
			if err != nil {
				return errors.Wrap(err, "messages stored but indexing failed, rerun sync to catch up")
			}
			fmt.Printf("  indexed %d messages with %s\n", indexed, svc.Indexer.Model())
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "ignore saved positions and walk the full history")
}
