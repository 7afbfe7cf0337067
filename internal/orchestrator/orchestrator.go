// Package orchestrator turns change triggers into download runs. Exactly one
// run is live at a time; everything a run touches (browser, catalog file,
// download directory) is reached only from inside it.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"go-chatlink-download/index"
	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/catalog"
	"go-chatlink-download/internal/completion"
	"go-chatlink-download/internal/database"
	"go-chatlink-download/internal/extractor"
	"go-chatlink-download/internal/flows"
	"go-chatlink-download/internal/helpers"
	"go-chatlink-download/internal/models"
	"go-chatlink-download/internal/watcher"
)

// Stats summarizes one run.
type Stats struct {
	Found     int
	Skipped   int
	Succeeded int
	Failed    int
}

// Deps are the collaborators a running orchestrator needs. Index, Watcher and
// Progress may be nil; Journal too, at the cost of losing attempt records.
type Deps struct {
	Catalog  *catalog.Store
	Journal  *database.DB
	Index    bleve.Index
	Watcher  *watcher.Watcher
	Factory  browser.Factory
	Progress completion.Progress
}

type Orchestrator struct {
	cfg      models.Config
	catalog  *catalog.Store
	journal  *database.DB
	index    bleve.Index
	watch    *watcher.Watcher
	factory  browser.Factory
	detector *completion.Detector
	progress completion.Progress

	delay time.Duration

	mu     sync.Mutex
	busy   bool
	failed map[string]bool
}

func New(cfg models.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		catalog:  deps.Catalog,
		journal:  deps.Journal,
		index:    deps.Index,
		watch:    deps.Watcher,
		factory:  deps.Factory,
		detector: completion.NewDetector(cfg.DownloadDir),
		progress: deps.Progress,
		delay:    time.Duration(cfg.InterLinkDelaySec) * time.Second,
		failed:   make(map[string]bool),
	}
}

// TryTrigger runs a change-gated scan unless one is already running. A
// trigger arriving while busy is dropped, never queued: the unprocessed
// content difference re-triggers on a later signal.
func (o *Orchestrator) TryTrigger() {
	if !o.acquire() {
		log.Debug("Scan already running, trigger dropped")
		return
	}
	defer o.release()
	o.run(false)
}

// RunOnce performs one forced scan, skipping the change gate.
func (o *Orchestrator) RunOnce() Stats {
	if !o.acquire() {
		log.Warn("Scan already running, forced run dropped")
		return Stats{}
	}
	defer o.release()
	return o.run(true)
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return false
	}
	o.busy = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.busy = false
	o.mu.Unlock()
}

func (o *Orchestrator) run(force bool) Stats {
	var stats Stats

	if !force && o.watch != nil && !o.watch.HasChanged() {
		log.Debug("Messages unchanged, nothing to do")
		return stats
	}

	links, err := o.collectLinks()
	if err != nil {
		log.WithError(err).Error("Could not read messages")
		return stats
	}
	stats.Found = len(links)

	fresh := o.filterNew(links)
	stats.Skipped = len(links) - len(fresh)
	if len(fresh) == 0 {
		log.Debugf("All %d links already handled", len(links))
		o.refreshWatchState()
		return stats
	}

	log.Infof("Processing %d new links (%d known)", len(fresh), stats.Skipped)
	for i, link := range fresh {
		if i > 0 {
			time.Sleep(o.delay)
		}
		if err := o.processLink(link); err != nil {
			stats.Failed++
			log.WithError(err).WithField("url", link.URL).Error("Download failed")
		} else {
			stats.Succeeded++
		}
	}

	o.refreshWatchState()
	log.Infof("Run finished: %d ok, %d failed, %d skipped", stats.Succeeded, stats.Failed, stats.Skipped)
	return stats
}

func (o *Orchestrator) collectLinks() ([]models.Link, error) {
	raw, err := os.ReadFile(o.cfg.MessagesPath)
	if err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}
	var messages []models.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode messages file: %w", err)
	}
	return extractor.ExtractLinks(messages), nil
}

// filterNew drops links the catalog already has, links that failed earlier in
// this process, and in-run duplicates.
func (o *Orchestrator) filterNew(links []models.Link) []models.Link {
	var fresh []models.Link
	seen := make(map[string]bool)
	for _, link := range links {
		hash := helpers.LinkHash(link.URL)
		if seen[hash] || o.catalog.IsProcessed(link.URL) || o.isFailed(hash) {
			continue
		}
		seen[hash] = true
		fresh = append(fresh, link)
	}
	return fresh
}

func (o *Orchestrator) processLink(link models.Link) error {
	hash := helpers.LinkHash(link.URL)
	o.journalUpdate(link, models.StatusPending, "", nil)

	runner, err := flows.ForProvider(link.Provider, o.cfg)
	if err != nil {
		o.markFailed(hash)
		o.journalUpdate(link, models.StatusError, err.Error(), nil)
		return err
	}

	before, err := o.detector.Snapshot()
	if err != nil {
		o.journalUpdate(link, models.StatusError, err.Error(), nil)
		return err
	}

	sess, err := o.factory()
	if err != nil {
		err = fmt.Errorf("browser session: %w", err)
		o.journalUpdate(link, models.StatusError, err.Error(), nil)
		return err
	}
	defer sess.Close()

	log.WithFields(log.Fields{
		"provider": link.Provider,
		"url":      link.URL,
	}).Info("Starting download")

	await := func(timeout time.Duration) ([]string, error) {
		return o.detector.Wait(before, timeout, o.progress)
	}
	files, err := runner.Run(sess, link, await)
	if err != nil {
		o.applyFailurePolicy(hash, err)
		o.journalUpdate(link, models.StatusError, err.Error(), nil)
		return err
	}

	for _, name := range files {
		entry, err := o.catalog.BuildEntry(link, filepath.Join(o.cfg.DownloadDir, name))
		if err != nil {
			log.WithError(err).WithField("file", name).Error("Could not build catalog entry")
			continue
		}
		if err := o.catalog.Record(entry); err != nil {
			log.WithError(err).Error("Could not persist catalog entry")
			continue
		}
		o.indexEntry(entry)
		log.Infof("Catalogued %s (%s, %s)", name, entry.Type, helpers.BytesToSize(uint64(entry.FileSize)))
	}

	o.journalUpdate(link, models.StatusDownloaded, "", files)
	return nil
}

// applyFailurePolicy decides whether a failed link is done for this process.
// Terminal flow errors always are. Completion timeouts follow RetryTimedOut.
// Anything else is left unmarked and retried on the next trigger.
func (o *Orchestrator) applyFailurePolicy(hash string, err error) {
	switch {
	case errors.Is(err, completion.ErrTimeout):
		if o.cfg.RetryTimedOut {
			log.Debug("Timed out, link stays eligible for retry")
			return
		}
		o.markFailed(hash)
	case errors.Is(err, flows.ErrExtraction),
		errors.Is(err, flows.ErrProviderPolicy),
		errors.Is(err, flows.ErrFlowNavigation):
		o.markFailed(hash)
	}
}

func (o *Orchestrator) markFailed(hash string) {
	o.mu.Lock()
	o.failed[hash] = true
	o.mu.Unlock()
}

func (o *Orchestrator) isFailed(hash string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed[hash]
}

func (o *Orchestrator) refreshWatchState() {
	if o.watch != nil {
		o.watch.Refresh()
	}
}

func (o *Orchestrator) indexEntry(entry models.CatalogEntry) {
	if o.index == nil {
		return
	}
	if err := index.IndexEntry(o.index, entry); err != nil {
		log.WithError(err).Debug("Search index update failed")
	}
}

// journalUpdate upserts the attempt record for a link, preserving first-seen
// and attempt counts across status changes.
func (o *Orchestrator) journalUpdate(link models.Link, status, errDetails string, files []string) {
	if o.journal == nil {
		return
	}
	hash := helpers.LinkHash(link.URL)
	now := time.Now().Unix()

	entry := models.JournalEntry{URL: link.URL, Provider: link.Provider, FirstSeen: now}
	if raw, err := o.journal.Get([]byte(hash)); err == nil {
		if jerr := json.Unmarshal(raw, &entry); jerr != nil {
			log.WithError(jerr).Debugf("Journal entry %s unreadable, rewriting", hash)
		}
	}

	entry.Status = status
	entry.ErrorDetails = errDetails
	if files != nil {
		entry.Files = files
	}
	entry.LastAttempt = now
	if status == models.StatusPending {
		entry.Attempts++
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		log.WithError(err).Debug("Journal entry marshal failed")
		return
	}
	if err := o.journal.Put([]byte(hash), raw); err != nil {
		log.WithError(err).Debug("Journal write failed")
	}
}
