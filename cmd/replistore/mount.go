package main

import (
	"fmt"

	"replistore/pkg/config"
	"replistore/pkg/fuse"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func mountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount [mountpoint]",
		Short: "Mount the cluster as a flat directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(config.ModeCoordinator)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			rt, err := startApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			mountpoint := args[0]
			server, err := fuse.Mount(mountpoint, rt.coord, logger)
			if err != nil {
				return fmt.Errorf("failed to mount %s: %w", mountpoint, err)
			}

			go func() {
				<-ctx.Done()
				logger.Info("Unmounting", zap.String("mountpoint", mountpoint))
				if err := server.Unmount(); err != nil {
					logger.Error("Failed to unmount", zap.Error(err))
				}
			}()

			logger.Info("Mounted replicated store", zap.String("mountpoint", mountpoint))
			server.Wait()
			return nil
		},
	}
}
