package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/guildsage/guildsage/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-channel message and thread counts",
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

		names := map[string]*store.ChannelState{}
		if states, err := storeInstance.ListChannelStates(ctx, &store.FindChannelState{}); err == nil {
			for _, state := range states {
				names[state.ChannelID] = state
			}
		}

		stats := storeInstance.ChannelStats(ctx)
		if len(stats) == 0 {
			fmt.Println("No channels ingested yet. Run `guildsage sync` first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tNAME\tMESSAGES\tTHREADS\tUNRESOLVED\tLAST SYNC")
		total := 0
		for _, channel := range stats {
			name, lastSync := "", ""
			if state := names[channel.ChannelID]; state != nil {
				name = state.Name
				if state.LastSyncTs > 0 {
					lastSync = time.UnixMilli(state.LastSyncTs).Format("2006-01-02 15:04")
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				channel.ChannelID, name, channel.Messages, channel.Threads, channel.Unresolved, lastSync)
			total += channel.Messages
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d messages across %d channels\n", total, len(stats))
		return nil
	},
}
