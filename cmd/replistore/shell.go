package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"replistore/pkg/config"
	"replistore/pkg/coordinator"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive menu over an in-process cluster",
		Long: `Start an interactive session against a cluster built from the configuration
(4 in-memory nodes with R=2 by default). Commands can be typed by name or by
menu number; missing arguments are prompted for.`,
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

			return newShell(rt.coord, os.Stdin, cmd.OutOrStdout(), logger).Run(ctx)
		},
	}
}

const menu = `
1. upload <file> <content>   Upload a file
2. download <file>           Download a file
3. fail <node>               Simulate node failure
4. recover <node>            Recover a node
5. repair                    Repair faults
6. list                      List files on all nodes
7. exit                      Exit
   health                    Show cluster health`

var menuAliases = map[string]string{
	"1": "upload",
	"2": "download",
	"3": "fail",
	"4": "recover",
	"5": "repair",
	"6": "list",
	"7": "exit",
}

type shell struct {
	coord   *coordinator.Coordinator
	scanner *bufio.Scanner
	out     io.Writer
	logger  *zap.Logger
}

func newShell(coord *coordinator.Coordinator, in io.Reader, out io.Writer, logger *zap.Logger) *shell {
	return &shell{
		coord:   coord,
		scanner: bufio.NewScanner(in),
		out:     out,
		logger:  logger,
	}
}

// Run reads commands until exit, end of input or ctx cancellation.
func (s *shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, titleStyle.Render("replistore shell"))
	fmt.Fprintln(s.out, mutedStyle.Render(menu))

	for ctx.Err() == nil {
		line, ok := s.prompt("> ")
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if quit := s.execute(ctx, line); quit {
			return nil
		}
	}
	return s.scanner.Err()
}

func (s *shell) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.scanner.Text()), true
}

// arg returns args[i] or prompts for it.
func (s *shell) arg(args []string, i int, label string) (string, bool) {
	if i < len(args) {
		return args[i], true
	}
	return s.prompt(label)
}

func (s *shell) nodeIndex(args []string) (int, bool) {
	raw, ok := s.arg(args, 0, "Enter node number: ")
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintln(s.out, dangerStyle.Render(fmt.Sprintf("Invalid node number: %q", raw)))
		return 0, false
	}
	return index, true
}

func (s *shell) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	command, args := strings.ToLower(fields[0]), fields[1:]
	if alias, ok := menuAliases[command]; ok {
		command = alias
	}
	s.logger.Debug("Shell command", zap.String("command", command), zap.Int("args", len(args)))

	switch command {
	case "upload":
		filename, ok := s.arg(args, 0, "Enter filename: ")
		if !ok {
			return true
		}
		var content string
		if len(args) > 1 {
			content = strings.Join(args[1:], " ")
		} else if content, ok = s.prompt("Enter file content: "); !ok {
			return true
		}

		result, err := s.coord.Upload(ctx, filename, []byte(content))
		if err != nil {
			fmt.Fprintln(s.out, renderError(err))
			return false
		}
		fmt.Fprintln(s.out, renderUpload(result, len(content)))

	case "download":
		filename, ok := s.arg(args, 0, "Enter filename: ")
		if !ok {
			return true
		}
		result, err := s.coord.Download(ctx, filename)
		if err != nil {
			fmt.Fprintln(s.out, renderError(err))
			return false
		}
		fmt.Fprintln(s.out, renderDownload(filename, result))

	case "fail", "recover":
		index, ok := s.nodeIndex(args)
		if !ok {
			return false
		}
		var (
			transition coordinator.NodeTransition
			err        error
		)
		if command == "fail" {
			transition, err = s.coord.FailNode(ctx, index)
		} else {
			transition, err = s.coord.RecoverNode(ctx, index)
		}
		if err != nil {
			fmt.Fprintln(s.out, renderError(err))
			return false
		}
		fmt.Fprintln(s.out, renderTransition(transition))

	case "repair":
		report, err := s.coord.RepairFaults(ctx)
		if err != nil {
			fmt.Fprintln(s.out, renderError(err))
			return false
		}
		fmt.Fprintln(s.out, renderRepair(report))

	case "list":
		listings, err := s.coord.ListFiles(ctx)
		if err != nil {
			fmt.Fprintln(s.out, renderError(err))
			return false
		}
		fmt.Fprintln(s.out, renderListing(listings))

	case "health":
		h, err := s.coord.Health(ctx)
		if err != nil {
			fmt.Fprintln(s.out, renderError(err))
			return false
		}
		fmt.Fprintln(s.out, renderHealth(h))

	case "help", "?":
		fmt.Fprintln(s.out, mutedStyle.Render(menu))

	case "exit", "quit":
		fmt.Fprintln(s.out, "Exiting...")
		return true

	default:
		fmt.Fprintln(s.out, warningStyle.Render(fmt.Sprintf("Unknown command %q, type help for the menu", fields[0])))
	}

	return false
}
