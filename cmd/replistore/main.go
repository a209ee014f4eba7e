package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"replistore/pkg/config"
	"replistore/pkg/coordinator"
	"replistore/pkg/metrics"
	"replistore/pkg/placement"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "v0.1.0"

var (
	configFile        string
	verbose           bool
	nodeCount         int
	replicationFactor int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "replistore",
		Short: "Replicated file store with failure injection and repair",
		Long: `A small replicated file store. Files are copied onto R nodes of a fixed
cluster; nodes can be failed and recovered, and a repair pass restores
under-replicated files from their surviving copies.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (.json, .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().IntVarP(&nodeCount, "nodes", "n", 0, "number of nodes (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&replicationFactor, "replication", "r", 0, "replication factor (overrides config)")

	rootCmd.AddCommand(
		shellCmd(),
		demoCmd(),
		nodeCmd(),
		statusCmd(),
		mountCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "replistore %s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// loadConfig reads --config when given, otherwise REPLISTORE_* variables,
// then applies the --nodes and --replication overrides.
func loadConfig(mode config.Mode) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadConfig(configFile)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Mode = mode
	if nodeCount > 0 {
		cfg.Cluster.NodeCount = nodeCount
	}
	if replicationFactor > 0 {
		cfg.Cluster.ReplicationFactor = replicationFactor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is a coordinator plus the optional services configured around it.
type app struct {
	coord   *coordinator.Coordinator
	cluster *coordinator.Cluster
	monitor *coordinator.RepairMonitor
	metrics *http.Server
	logger  *zap.Logger
}

func startApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	cluster, err := coordinator.NewClusterFromConfig(ctx, cfg.Cluster, logger)
	if err != nil {
		return nil, err
	}

	rt := &app{cluster: cluster, logger: logger}

	if cfg.Cluster.MetricsAddress != "" {
		registry := prometheus.NewRegistry()
		m := metrics.NewClusterMetrics(registry)
		rt.coord = coordinator.NewWithMetrics(cluster, placement.NewOrdered(), m, logger)

		endpoint := metrics.NewHealthEndpoint(rt.coord, m, registry, logger)
		rt.metrics = metrics.StartMetricsServer(cfg.Cluster.MetricsAddress, endpoint, logger)
	} else {
		rt.coord = coordinator.New(cluster, logger)
	}

	interval, err := cfg.Cluster.RepairEvery()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if interval > 0 {
		rt.monitor = coordinator.NewRepairMonitor(rt.coord, interval, logger)
		rt.monitor.Start(ctx)
	}

	return rt, nil
}

func (rt *app) Close() {
	if rt.monitor != nil {
		rt.monitor.Stop()
	}
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.metrics.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Warn("Failed to stop metrics server", zap.Error(err))
		}
	}
	if err := rt.cluster.Close(); err != nil {
		rt.logger.Warn("Failed to close cluster", zap.Error(err))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
