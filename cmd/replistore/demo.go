package main

import (
	"context"
	"fmt"
	"io"

	"replistore/pkg/coordinator"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Replay the failover and repair scenarios on a 4-node, R=2 cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			return runDemo(cmd.Context(), cmd.OutOrStdout(), logger)
		},
	}
}

type demoStep struct {
	title string
	run   func(ctx context.Context, c *coordinator.Coordinator) (string, error)
}

func runDemo(ctx context.Context, out io.Writer, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	scenarios := []struct {
		name  string
		steps []demoStep
	}{
		{
			name: "Failover",
			steps: []demoStep{
				uploadStep("a.txt", "hi"),
				failStep(1),
				downloadStep("a.txt"),
				failStep(2),
				downloadStep("a.txt"),
				listStep(),
			},
		},
		{
			name: "Repair",
			steps: []demoStep{
				uploadStep("a.txt", "hi"),
				uploadStep("b.txt", "hello"),
				failStep(1),
				repairStep(),
				listStep(),
				failStep(2),
				failStep(3),
				repairStep(),
				healthStep(),
			},
		},
		{
			name: "Invalid node",
			steps: []demoStep{
				failStep(10),
			},
		},
	}

	for _, scenario := range scenarios {
		cluster, err := coordinator.NewCluster(4, 2)
		if err != nil {
			return err
		}
		coord := coordinator.New(cluster, logger)

		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("== %s: cluster(4 nodes, R=2) ==", scenario.name)))
		for _, step := range scenario.steps {
			fmt.Fprintln(out, mutedStyle.Render("$ "+step.title))
			text, err := step.run(ctx, coord)
			if err != nil {
				text = renderError(err)
			}
			fmt.Fprintln(out, text)
		}
		fmt.Fprintln(out)

		if err := cluster.Close(); err != nil {
			return err
		}
	}
	return nil
}

func uploadStep(filename, content string) demoStep {
	return demoStep{
		title: fmt.Sprintf("upload %s %s", filename, content),
		run: func(ctx context.Context, c *coordinator.Coordinator) (string, error) {
			result, err := c.Upload(ctx, filename, []byte(content))
			if err != nil {
				return "", err
			}
			return renderUpload(result, len(content)), nil
		},
	}
}

func downloadStep(filename string) demoStep {
	return demoStep{
		title: "download " + filename,
		run: func(ctx context.Context, c *coordinator.Coordinator) (string, error) {
			result, err := c.Download(ctx, filename)
			if err != nil {
				return "", err
			}
			return renderDownload(filename, result), nil
		},
	}
}

func failStep(index int) demoStep {
	return demoStep{
		title: fmt.Sprintf("fail %d", index),
		run: func(ctx context.Context, c *coordinator.Coordinator) (string, error) {
			t, err := c.FailNode(ctx, index)
			if err != nil {
				return "", err
			}
			return renderTransition(t), nil
		},
	}
}

func repairStep() demoStep {
	return demoStep{
		title: "repair",
		run: func(ctx context.Context, c *coordinator.Coordinator) (string, error) {
			report, err := c.RepairFaults(ctx)
			if err != nil {
				return "", err
			}
			return renderRepair(report), nil
		},
	}
}

func listStep() demoStep {
	return demoStep{
		title: "list",
		run: func(ctx context.Context, c *coordinator.Coordinator) (string, error) {
			listings, err := c.ListFiles(ctx)
			if err != nil {
				return "", err
			}
			return renderListing(listings), nil
		},
	}
}

func healthStep() demoStep {
	return demoStep{
		title: "health",
		run: func(ctx context.Context, c *coordinator.Coordinator) (string, error) {
			h, err := c.Health(ctx)
			if err != nil {
				return "", err
			}
			return renderHealth(h), nil
		},
	}
}
