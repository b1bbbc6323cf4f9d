package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/guildsage/guildsage/internal/profile"
	"github.com/guildsage/guildsage/internal/version"
	"github.com/guildsage/guildsage/store"
	"github.com/guildsage/guildsage/store/db"
)

var rootCmd = &cobra.Command{
	Use:     "guildsage",
	Short:   `Ask questions over your Discord server's history. Syncs channels into a lineage store and answers with retrieval-grounded excerpts.`,
	Version: version.String(),
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// .env is a development convenience; a missing file is fine.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8230)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "storage driver (sqlite, postgres, memory)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "public url of this instance, used to derive the oauth redirect")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "instance-url"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("guildsage")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(serveCmd, syncCmd, askCmd, loginCmd, tokenCmd, statsCmd)
}

// buildProfile assembles the instance profile from flags and environment.
func buildProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:        viper.GetString("mode"),
		Addr:        viper.GetString("addr"),
		Port:        viper.GetInt("port"),
		Data:        viper.GetString("data"),
		Driver:      viper.GetString("driver"),
		DSN:         viper.GetString("dsn"),
		InstanceURL: viper.GetString("instance-url"),
		Version:     version.String(),
	}
	instanceProfile.FromEnv()
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

// setupLogger installs the process logger. The server logs JSON for log
// shippers; one-shot commands log human-readable text.
func setupLogger(instanceProfile *profile.Profile, jsonOutput bool) {
	level := slog.LevelInfo
	if instanceProfile.IsDev() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore opens the configured driver, migrates the schema, and loads the
// lineage forest. The memory driver skips persistence entirely.
func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	if instanceProfile.Driver == "memory" {
		return store.New(nil, instanceProfile), nil
	}

	driver, err := db.NewDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	if err := driver.Migrate(ctx); err != nil {
		_ = driver.Close()
		return nil, err
	}

	storeInstance := store.New(driver, instanceProfile)
	if err := storeInstance.Load(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, err
	}
	return storeInstance, nil
}

// printDatabaseError turns common connection failures into actionable hints.
func printDatabaseError(err error, instanceProfile *profile.Profile) {
	fmt.Fprintln(os.Stderr, "Database connection failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL is not reachable. Start it, or run with")
		fmt.Fprintln(os.Stderr, "  --driver=sqlite to use a local file database instead.")
	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL SSL configuration mismatch. For local development")
		fmt.Fprintln(os.Stderr, "  add ?sslmode=disable to GUILDSAGE_DSN.")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "  PostgreSQL rejected the credentials, check the DSN or .env file.")
	case strings.Contains(errMsg, "unable to access data folder"):
		fmt.Fprintln(os.Stderr, "  The data directory does not exist, create it or pass --data.")
	default:
		fmt.Fprintln(os.Stderr, "  "+errMsg)
	}

	if instanceProfile.DSN == "" && instanceProfile.Driver == "postgres" {
		fmt.Fprintln(os.Stderr, "  No DSN configured, set GUILDSAGE_DSN.")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
