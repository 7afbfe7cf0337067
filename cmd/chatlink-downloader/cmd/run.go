package cmd

import (
	"fmt"

	"github.com/gosuri/uilive"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the message export once and download anything new",
	Long: `Performs a single scan of the configured message export, downloads every
share link not yet in the catalog and exits. Exits non-zero when any link
failed, so the command can be driven from cron or a systemd timer.`,
	RunE: runScanOnce,
}

func runScanOnce(cmd *cobra.Command, args []string) error {
	pipe, err := openPipeline()
	if err != nil {
		return err
	}
	defer pipe.Close()

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	stats := buildOrchestrator(pipe, writer).RunOnce()
	logScanStats(stats)

	if stats.Failed > 0 {
		return fmt.Errorf("%d link(s) failed to download", stats.Failed)
	}
	return nil
}
