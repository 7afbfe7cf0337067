package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-chatlink-download/index"
	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/catalog"
	"go-chatlink-download/internal/completion"
	"go-chatlink-download/internal/database"
	"go-chatlink-download/internal/helpers"
	"go-chatlink-download/internal/orchestrator"
	"go-chatlink-download/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the message export and download new share links as they arrive",
	Long: `Watches the configured message export for changes. Whenever the file
content actually changes, the export is re-scanned and any share links not
yet in the catalog are downloaded through a browser session. Runs until
interrupted (SIGINT/SIGTERM).`,
	RunE: runWatch,
}

// pipeline bundles the stores and the watcher every download run needs.
type pipeline struct {
	Catalog *catalog.Store
	Journal *database.DB
	Index   bleve.Index
	Watcher *watcher.Watcher
}

// openPipeline opens the catalog, the attempt journal and the search index
// and prepares a watcher for the configured export. The index is optional:
// if it cannot be opened the pipeline runs without it.
func openPipeline() (*pipeline, error) {
	if !helpers.CheckAndMakeDir(globalConfig.DownloadDir) {
		return nil, fmt.Errorf("download directory %s is not usable", globalConfig.DownloadDir)
	}

	cat := catalog.Load(globalConfig.CatalogPath)

	journal, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt journal at %s: %w", globalConfig.DatabasePath, err)
	}

	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warnf("Search index at %s unavailable, continuing without it", globalConfig.BleveIndexPath)
		idx = nil
	}

	return &pipeline{
		Catalog: cat,
		Journal: journal,
		Index:   idx,
		Watcher: watcher.New(globalConfig),
	}, nil
}

func (p *pipeline) Close() {
	if p.Index != nil {
		if err := p.Index.Close(); err != nil {
			log.WithError(err).Warn("Failed to close search index")
		}
	}
	if err := p.Journal.Close(); err != nil {
		log.WithError(err).Warn("Failed to close attempt journal")
	}
}

// buildOrchestrator wires the pipeline, a fresh browser factory and a live
// progress line into a download orchestrator.
func buildOrchestrator(pipe *pipeline, writer *uilive.Writer) *orchestrator.Orchestrator {
	return orchestrator.New(globalConfig, orchestrator.Deps{
		Catalog:  pipe.Catalog,
		Journal:  pipe.Journal,
		Index:    pipe.Index,
		Watcher:  pipe.Watcher,
		Factory:  browser.NewFactory(globalConfig),
		Progress: liveProgress(writer),
	})
}

// liveProgress renders the completion detector's state on a single updating
// terminal line.
func liveProgress(writer *uilive.Writer) completion.Progress {
	return func(elapsed time.Duration, status string) {
		fmt.Fprintf(writer, "  [%s] %s\n", elapsed.Round(time.Second), status)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	pipe, err := openPipeline()
	if err != nil {
		return err
	}
	defer pipe.Close()

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	orch := buildOrchestrator(pipe, writer)

	if globalConfig.SkipInitialScan {
		// Treat whatever is in the export right now as seen, so only
		// future changes trigger downloads.
		pipe.Watcher.Refresh()
		log.Info("Skipping initial scan, watching for changes only")
	} else {
		log.Info("Running initial scan of the message export")
		stats := orch.RunOnce()
		logScanStats(stats)
	}

	if err := pipe.Watcher.Start(orch.TryTrigger); err != nil {
		return fmt.Errorf("failed to start watching %s: %w", globalConfig.MessagesPath, err)
	}
	defer pipe.Watcher.Stop()

	log.WithFields(log.Fields{
		"path": globalConfig.MessagesPath,
		"mode": globalConfig.WatchMode,
	}).Info("Watching message export")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("Received %s, shutting down", sig)
	return nil
}

func logScanStats(stats orchestrator.Stats) {
	log.WithFields(log.Fields{
		"found":     stats.Found,
		"skipped":   stats.Skipped,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
	}).Info("Scan finished")
}
