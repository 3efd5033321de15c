// Package cmd holds the pairgate command line: the gateway server and the
// client commands that talk to a running gateway.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pairgate/internal/config"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	verbose bool

	// logLevel is shared by every handler so --verbose and config reloads
	// take effect without rebuilding the logger.
	logLevel = new(slog.LevelVar)
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pairgate",
		Short:         "WhatsApp pairing-code gateway",
		Long:          "pairgate links a WhatsApp account through phone-number pairing codes and answers bot commands once connected.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (JSON5 or YAML; default $PAIRGATE_CONFIG or ./pairgate.json)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(pairCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(onboardCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("PAIRGATE_CONFIG"); v != "" {
		return v
	}
	for _, name := range []string{"pairgate.json", "pairgate.json5", "pairgate.yaml", "pairgate.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return "pairgate.json"
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// setupLogging installs the default slog logger: JSON in production, text
// otherwise.
func setupLogging(cfg *config.Config) {
	logLevel.Set(levelFor(cfg))
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if cfg.IsProduction() {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func levelFor(cfg *config.Config) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(cfg.Gateway.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pairgate %s\n", Version)
		},
	}
}
