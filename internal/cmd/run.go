package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rotadev/rota/internal/checkpoint"
	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/discover"
	"github.com/rotadev/rota/internal/dispatch"
	"github.com/rotadev/rota/internal/display"
	"github.com/rotadev/rota/internal/logging"
	"github.com/rotadev/rota/internal/marker"
	"github.com/rotadev/rota/internal/runner"
	"github.com/rotadev/rota/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan for projects and start the interactive rotation",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	log := logging.NopLogger()
	if cfg.Logging.Enabled {
		fileLog, err := logging.NewLogger(config.ConfigDir(), cfg.Logging.Level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: debug log unavailable: %v\n", err)
		} else {
			log = fileLog
			defer log.Close()
		}
	}

	res, err := discover.Scan(cfg.Scan, cfg.Session.MaxHistory, log)
	if err != nil {
		return err
	}

	rc := display.Detect(cfg.Display.FullPath, cfg.Display.PreviewChars)
	printer := display.NewPrinter(os.Stdout, rc)

	for _, diag := range res.Skipped {
		printer.Line("skipping %s", diag)
	}
	if len(res.Projects) == 0 {
		printer.Line("no projects found; drop a %s file in a directory and run again", marker.FileName)
		return nil
	}
	printer.Line("rotating %d project(s); /help lists commands", len(res.Projects))

	keeper := checkpoint.New(cfg.Checkpoint, log)
	run := runner.New(cfg, printer, keeper, log)
	sched := scheduler.New(res.Projects)
	d := dispatch.New(sched, run, printer, os.Stdin, cfg.Session.MaxHistory, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
