package main

import (
	"encoding/json"
	"fmt"

	"replistore/pkg/config"
	"replistore/pkg/coordinator"
	"replistore/pkg/metrics"

	"github.com/spf13/cobra"
)

type statusOutput struct {
	Nodes  []coordinator.NodeListing `json:"nodes"`
	Health metrics.HealthSnapshot    `json:"health"`
	Status string                    `json:"status"`
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node listings and replication health of the configured cluster",
		Long: `Show the configured cluster. Useful with remote_nodes or a persistent
backend; an in-memory cluster is always empty on startup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(config.ModeCoordinator)
			if err != nil {
				return err
			}
			// Status is a one-shot read: no background repair or metrics server
			cfg.Cluster.RepairInterval = ""
			cfg.Cluster.MetricsAddress = ""

			ctx, stop := signalContext()
			defer stop()

			rt, err := startApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			listings, err := rt.coord.ListFiles(ctx)
			if err != nil {
				return err
			}
			health, err := rt.coord.Health(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.MarshalIndent(statusOutput{
					Nodes:  listings,
					Health: health,
					Status: health.Status(),
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintln(out, renderHealth(health))
			fmt.Fprintln(out, renderListing(listings))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}
