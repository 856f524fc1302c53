package main

import (
	"context"
	"fmt"
	"os"

	"github.com/adwski/audiorooms/client/config"
	"github.com/adwski/audiorooms/client/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagAPI      string
	flagSTUN     string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "audiorooms",
	Short: "Headless client for audio rooms",
	Long: `audiorooms manages rooms on a relay and joins them as a headless peer.

Received audio is counted per peer, nothing is played back.`,
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(config.Options{
		ServerURL:  flagServer,
		APIURL:     flagAPI,
		STUNServer: flagSTUN,
		LogLevel:   flagLogLevel,
	})
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return cfg, logger, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "relay signaling url (env "+config.EnvServerURL+")")
	rootCmd.PersistentFlags().StringVar(&flagAPI, "api", "", "room api url (env "+config.EnvAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&flagSTUN, "stun", "", "comma separated STUN servers (env "+config.EnvSTUN+")")
	rootCmd.PersistentFlags().StringVarP(&flagLogLevel, "log-level", "l", "", "log level (env "+config.EnvLogLevel+")")
}
