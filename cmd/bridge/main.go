package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fleetbridge/bridge/pkg/bridge"
	"github.com/fleetbridge/bridge/pkg/config"
	"github.com/fleetbridge/bridge/pkg/health"
	"github.com/fleetbridge/bridge/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bridge",
	Short:   "Bridge daemon - drives an AI coding CLI against a filesystem task queue",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"bridge version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon until shutdown is signaled",
	RunE:  runBridge,
}

func init() {
	runCmd.Flags().String("config", "", "path to the daemon's YAML configuration document")
	runCmd.Flags().String("state-root", "", "per-user state root the task/team fabric is rooted at (defaults to ~/.local/state/omc)")
	runCmd.Flags().String("metrics-addr", ":9090", "address to serve /metrics and /healthz on")
	_ = runCmd.MarkFlagRequired("config")
}

func runBridge(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	stateRoot, _ := cmd.Flags().GetString("state-root")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if stateRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determining home directory: %w", err)
		}
		stateRoot = home + "/.local/state/omc"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.WithWorker(cfg.TeamName, cfg.WorkerName)
	logger.Info().Str("provider", cfg.Provider).Msg("starting bridge daemon")

	b, err := bridge.New(stateRoot, cfg)
	if err != nil {
		return fmt.Errorf("constructing bridge: %w", err)
	}

	srv := startHealthServer(metricsAddr, b, logger)
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("received OS signal, requesting bridge shutdown")
		b.Stop()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("bridge loop exited with error: %w", err)
	}

	logger.Info().Msg("bridge daemon exiting cleanly")
	return nil
}

func startHealthServer(addr string, b *bridge.Bridge, logger zerolog.Logger) *http.Server {
	hs := health.NewServer(b.LastHeartbeat, 2*time.Minute)
	srv := &http.Server{Addr: addr, Handler: hs.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server exited")
		}
	}()
	return srv
}
