// Command betania runs the offline-first sync core of the Betania church app:
// a local JSON API over an on-device SQLite cache that replays queued changes
// to the remote API whenever it becomes reachable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/revolutedigital/igreja-betania/internal/config"
	"github.com/revolutedigital/igreja-betania/internal/logging"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	configFile string
	envFile    string
	dbPath     string
	remoteURL  string

	cfg        config.Config
	closeLogFn = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:           "betania",
	Short:         "Offline-first sync core for the Betania church app",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		overrides := map[string]any{}
		if dbPath != "" {
			overrides["db_path"] = dbPath
		}
		if remoteURL != "" {
			overrides["remote_url"] = remoteURL
		}
		var err error
		cfg, err = config.Load(config.Options{EnvFile: envFile, ConfigFile: configFile, Overrides: overrides})
		if err != nil {
			return err
		}
		closeLogFn, err = logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogFn()
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "local store path (overrides BETANIA_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", "", "remote API base URL (overrides BETANIA_REMOTE_URL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
