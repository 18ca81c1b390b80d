package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rotadev/rota/internal/config"
	"github.com/rotadev/rota/internal/discover"
	"github.com/rotadev/rota/internal/display"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List discovered projects without starting the rotation",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	res, err := discover.Scan(cfg.Scan, cfg.Session.MaxHistory, nil)
	if err != nil {
		return err
	}

	rc := display.Detect(cfg.Display.FullPath, cfg.Display.PreviewChars)
	printer := display.NewPrinter(os.Stdout, rc)

	for _, diag := range res.Skipped {
		printer.Line("skipping %s", diag)
	}
	if len(res.Projects) == 0 {
		printer.Line("no projects found")
		return nil
	}
	for _, p := range res.Projects {
		sess := p.Marker().Session
		printer.Line("%s  %s  (%d turns, $%.4f)", printer.Tag(p), p.Dir, sess.Turn, sess.TotalCost())
	}
	return nil
}
