package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/guildsage/guildsage/ai/rag"
	"github.com/guildsage/guildsage/internal/strutil"
	"github.com/guildsage/guildsage/internal/tui"
	apiv1 "github.com/guildsage/guildsage/server/router/api/v1"
)

var (
	askChannel string
	askFilter  string
	askTopK    int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question over the ingested history, or open the interactive session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		svc := apiv1.NewAPIV1Service(instanceProfile.APISecret, instanceProfile, storeInstance)
		if svc.Answerer == nil {
			return errors.New("ai features are not configured, set GUILDSAGE_AI_LLM_API_KEY")
		}

		if len(args) == 0 {
			// The interactive session owns the terminal; route logs away
			// from it.
			slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
			return tui.Run(ctx, svc.Answerer)
		}

		answer, err := svc.Answerer.Ask(ctx, &rag.Question{
			Text:      args[0],
			ChannelID: askChannel,
			Filter:    askFilter,
			TopK:      askTopK,
		})
		if err != nil {
			return err
		}
		printAnswer(answer)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askChannel, "channel", "", "restrict retrieval to one channel id")
	askCmd.Flags().StringVar(&askFilter, "filter", "", `CEL filter over message fields, e.g. 'author == "alice"'`)
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "override how many matches to retrieve")
}

func printAnswer(answer *rag.Answer) {
	if answer.Outcome == rag.OutcomeNoContext {
		fmt.Println("No relevant history found for that question.")
		return
	}

	fmt.Println(answer.Text)
	fmt.Println()
	fmt.Printf("Sources (%d excerpts):\n", len(answer.Excerpts))
	for _, excerpt := range answer.Excerpts {
		anchor := excerpt.Anchor
		where := "#" + anchor.ChannelID
		if anchor.ThreadID != "" {
			where += "/" + anchor.ThreadID
		}
		fmt.Printf("  [%.2f] %s %s: %s\n", excerpt.Score, where, anchor.Author,
			strutil.Truncate(strutil.FirstLine(anchor.Text), 80))
	}
	if answer.Stats != nil {
		fmt.Printf("\nTokens: %d prompt + %d completion\n",
			answer.Stats.PromptTokens, answer.Stats.CompletionTokens)
	}
}
