package main

import (
	"fmt"

	"replistore/pkg/config"
	"replistore/pkg/node"
	"replistore/pkg/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func nodeCmd() *cobra.Command {
	var (
		name    string
		address string
		backend string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a storage node that a remote coordinator drives over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(config.ModeNode)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				cfg.Node.Name = name
			}
			if flags.Changed("address") {
				cfg.Node.Address = address
			}
			if flags.Changed("backend") {
				cfg.Node.Backend = backend
			}
			if flags.Changed("data-dir") {
				cfg.Node.DataDir = dataDir
			}
			if err := cfg.Node.Validate(); err != nil {
				return fmt.Errorf("invalid node config: %w", err)
			}

			maxMessageSize, err := cfg.Node.MessageSize()
			if err != nil {
				return err
			}

			backendStore, err := storage.Open(cfg.Node.Backend, cfg.Node.DataDir, cfg.Node.Name, logger)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}

			n := node.NewWithBackend(cfg.Node.Name, backendStore, logger)
			defer n.Close()

			server := node.NewServer(n, cfg.Node.Address, maxMessageSize, logger)

			ctx, stop := signalContext()
			defer stop()
			go func() {
				<-ctx.Done()
				logger.Info("Shutting down node", zap.String("node", cfg.Node.Name))
				server.Stop()
			}()

			logger.Info("Starting node",
				zap.String("node", cfg.Node.Name),
				zap.String("address", cfg.Node.Address),
				zap.String("backend", cfg.Node.Backend))

			return server.Start()
		},
	}

	cmd.Flags().StringVar(&name, "name", "Node_1", "node name as shown in listings")
	cmd.Flags().StringVar(&address, "address", config.DefaultNodeAddress, "gRPC listening address")
	cmd.Flags().StringVar(&backend, "backend", storage.KindMemory, "storage backend (memory, badger, leveldb)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for persistent backends")

	return cmd
}
