package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/internal/version"
	"github.com/guildsage/guildsage/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile, err := buildProfile()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
			return
		}
		setupLogger(instanceProfile, true)
		slog.Info("starting server", "build", version.StringFull(), "mode", instanceProfile.Mode)

		ctx, cancel := context.WithCancel(context.Background())
		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			cancel()
			printDatabaseError(err, instanceProfile)
			slog.Error("failed to open store", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// SIGTERM is what systemd and Kubernetes send to request shutdown.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			cancel()
			slog.Error("failed to start server", "error", err)
			return
		}

		printGreetings(instanceProfile)

		go func() {
			<-c
			s.Shutdown(ctx)
			if err := storeInstance.Close(); err != nil {
				slog.Error("failed to close store", "error", err)
			}
			cancel()
		}()

		// Wait for CTRL-C.
		<-ctx.Done()
	},
}

func printGreetings(instanceProfile *profile.Profile) {
	fmt.Printf("GuildSage %s started successfully!\n", instanceProfile.Version)

	fmt.Printf("Storage driver: %s\n", instanceProfile.Driver)
	fmt.Printf("Mode: %s\n", instanceProfile.Mode)
	if len(instanceProfile.Addr) == 0 {
		fmt.Printf("API listening at: http://localhost:%d\n", instanceProfile.Port)
	} else {
		fmt.Printf("API listening at: http://%s:%d\n", instanceProfile.Addr, instanceProfile.Port)
	}

	if !instanceProfile.IsAIEnabled() {
		fmt.Println("AI features are disabled, set GUILDSAGE_AI_LLM_API_KEY to enable /api/v1/ask")
	}
	if instanceProfile.SyncCron != "" {
		fmt.Printf("Scheduled sync: %s\n", instanceProfile.SyncCron)
	}
}
