// Package watcher tracks one messages file and reports real content changes.
// Filesystem events and a safety-net poll both funnel into the same debounced
// trigger path, so unreliable event delivery degrades to polling latency
// instead of missed work.
package watcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"go-chatlink-download/internal/models"
)

// TriggerFunc runs when the watched file's content has really changed.
type TriggerFunc func()

// Watcher owns the processed-state snapshot of the messages file. The
// snapshot only moves forward through Refresh, so a change that was signalled
// but never processed keeps re-triggering until a run completes.
type Watcher struct {
	path     string
	mode     string
	poll     time.Duration
	debounce time.Duration
	settle   time.Duration

	mu          sync.Mutex
	lastMtime   time.Time
	lastSize    int64
	lastContent []byte
	lastSignal  time.Time

	fsw  *fsnotify.Watcher
	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg models.Config) *Watcher {
	return &Watcher{
		path:     cfg.MessagesPath,
		mode:     cfg.WatchMode,
		poll:     time.Duration(cfg.PollIntervalSec) * time.Second,
		debounce: time.Duration(cfg.DebounceSec) * time.Second,
		settle:   time.Duration(cfg.SettleSec) * time.Second,
		stop:     make(chan struct{}),
	}
}

// HasChanged reports whether the file differs from the processed snapshot.
// Metadata-only changes refresh the cheap-path state and do not count; a
// content difference leaves the snapshot alone.
func (w *Watcher) HasChanged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		log.WithError(err).Debugf("Cannot stat %s", w.path)
		return false
	}
	mtime, size := info.ModTime(), info.Size()
	if !mtime.After(w.lastMtime) && size == w.lastSize {
		return false
	}

	content, err := os.ReadFile(w.path)
	if err != nil {
		log.WithError(err).Debugf("Cannot read %s", w.path)
		return false
	}
	if bytes.Equal(content, w.lastContent) {
		// A touch or rewrite with identical bytes. Remember the new
		// metadata so the cheap path works again.
		w.lastMtime = mtime
		w.lastSize = size
		return false
	}
	return true
}

// Refresh records the file's current state as fully processed.
func (w *Watcher) Refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		log.WithError(err).Debugf("Cannot stat %s", w.path)
		return
	}
	content, err := os.ReadFile(w.path)
	if err != nil {
		log.WithError(err).Debugf("Cannot read %s", w.path)
		return
	}
	w.lastMtime = info.ModTime()
	w.lastSize = info.Size()
	w.lastContent = content
}

// Start spawns the signal sources for the configured mode. The callback runs
// on a watcher goroutine, at most one invocation at a time per source.
func (w *Watcher) Start(onTrigger TriggerFunc) error {
	if w.mode == models.WatchModeEvents || w.mode == models.WatchModeBoth {
		if err := w.startEvents(onTrigger); err != nil {
			if w.mode == models.WatchModeEvents {
				return err
			}
			log.WithError(err).Warn("File events unavailable, relying on polling")
		}
	}
	if w.mode == models.WatchModePoll || w.mode == models.WatchModeBoth {
		w.wg.Add(1)
		go w.pollLoop(onTrigger)
	}
	log.Infof("Watching %s (%s mode)", w.path, w.mode)
	return nil
}

func (w *Watcher) startEvents(onTrigger TriggerFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	// Watch the parent so the file being replaced by rename still reports.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw
	w.wg.Add(1)
	go w.eventLoop(onTrigger)
	return nil
}

// Stop tears down both signal sources and waits for them to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.fsw != nil {
		w.fsw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) eventLoop(onTrigger TriggerFunc) {
	defer w.wg.Done()
	base := filepath.Base(w.path)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			log.Debugf("File event %s on %s", ev.Op, base)
			w.maybeTrigger(onTrigger)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("Watch error")
		}
	}
}

func (w *Watcher) pollLoop(onTrigger TriggerFunc) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.HasChanged() {
				w.maybeTrigger(onTrigger)
			}
		}
	}
}

// maybeTrigger is the funnel both signal sources share. Signals inside the
// debounce window collapse into the one already being handled; the settle
// delay gives the writer time to finish before the content check.
func (w *Watcher) maybeTrigger(onTrigger TriggerFunc) {
	w.mu.Lock()
	if time.Since(w.lastSignal) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastSignal = time.Now()
	w.mu.Unlock()

	time.Sleep(w.settle)

	if !w.HasChanged() {
		return
	}
	onTrigger()
}
