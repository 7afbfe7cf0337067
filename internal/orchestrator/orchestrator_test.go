package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/catalog"
	"go-chatlink-download/internal/database"
	"go-chatlink-download/internal/helpers"
	"go-chatlink-download/internal/models"
	"go-chatlink-download/internal/watcher"
)

// tracker counts browser sessions handed out by the test factory, including
// how many were ever live at once.
type tracker struct {
	mu       sync.Mutex
	live     int
	maxLive  int
	sessions int
}

func (tr *tracker) factory(onNavigate func(url string), textFor func(url string) string) browser.Factory {
	return func() (browser.Session, error) {
		tr.mu.Lock()
		tr.sessions++
		tr.live++
		if tr.live > tr.maxLive {
			tr.maxLive = tr.live
		}
		tr.mu.Unlock()
		return &stubSession{tr: tr, onNavigate: onNavigate, textFor: textFor}, nil
	}
}

func (tr *tracker) sessionCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sessions
}

func (tr *tracker) maxConcurrent() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.maxLive
}

// stubSession simulates the browser side effect that matters here: visiting
// a download URL makes a file appear in the download directory.
type stubSession struct {
	tr         *tracker
	onNavigate func(url string)
	textFor    func(url string) string
	current    string
}

func (s *stubSession) Navigate(url string) error {
	s.current = url
	if s.onNavigate != nil {
		s.onNavigate(url)
	}
	return nil
}

func (s *stubSession) CurrentURL() string { return s.current }

func (s *stubSession) PageText() (string, error) {
	if s.textFor != nil {
		return s.textFor(s.current), nil
	}
	return "", nil
}

func (s *stubSession) PageHTML() (string, error)                    { return "", nil }
func (s *stubSession) Find(browser.Matcher) (browser.Element, bool) { return nil, false }
func (s *stubSession) FindAll(browser.Matcher) []browser.Element    { return nil }
func (s *stubSession) Settle()                                      {}

func (s *stubSession) Close() {
	s.tr.mu.Lock()
	s.tr.live--
	s.tr.mu.Unlock()
}

func testConfig(t *testing.T) models.Config {
	t.Helper()
	root := t.TempDir()
	cfg := models.DefaultConfig()
	cfg.MessagesPath = filepath.Join(root, "messages.json")
	cfg.CatalogPath = filepath.Join(root, "media", "links.json")
	cfg.DownloadDir = filepath.Join(root, "media")
	cfg.DatabasePath = filepath.Join(root, "database")
	cfg.DriveWaitSec = 2
	cfg.InterLinkDelaySec = 0
	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func writeMessagesFile(t *testing.T, path string, bodies ...string) {
	t.Helper()
	messages := make([]models.Message, 0, len(bodies))
	for i, body := range bodies {
		messages = append(messages, models.Message{
			ID:        fmt.Sprintf("m%d", i+1),
			Type:      "chat",
			Body:      body,
			Author:    "ana",
			Timestamp: int64(1700000000 + i),
		})
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}
}

// dropFileOn writes name into dir when the visited URL mentions the given
// file id, standing in for the browser finishing a download.
func dropFileOn(t *testing.T, dir string) func(url string) {
	t.Helper()
	return func(url string) {
		for id, name := range map[string]string{
			"AAA1": "clip_a.mp4",
			"BBB2": "clip_b.mp4",
		} {
			if strings.Contains(url, "id="+id) {
				if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
					t.Errorf("drop %s: %v", name, err)
				}
			}
		}
	}
}

func newTestOrchestrator(t *testing.T, cfg models.Config, tr *tracker, onNavigate func(url string), textFor func(url string) string) (*Orchestrator, *database.DB) {
	t.Helper()
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	o := New(cfg, Deps{
		Catalog: catalog.Load(cfg.CatalogPath),
		Journal: db,
		Factory: tr.factory(onNavigate, textFor),
	})
	o.detector.PollInterval = 20 * time.Millisecond
	return o, db
}

func journalFor(t *testing.T, db *database.DB, url string) models.JournalEntry {
	t.Helper()
	raw, err := db.Get([]byte(helpers.LinkHash(url)))
	if err != nil {
		t.Fatalf("journal read for %s: %v", url, err)
	}
	var entry models.JournalEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("journal decode for %s: %v", url, err)
	}
	return entry
}

func TestRunOnceDownloadsAndDedupes(t *testing.T) {
	cfg := testConfig(t)
	urlA := "https://drive.google.com/file/d/AAA1/view"
	urlB := "https://drive.google.com/file/d/BBB2/view"
	writeMessagesFile(t, cfg.MessagesPath,
		"watch this "+urlA,
		"and this "+urlB)

	tr := &tracker{}
	o, db := newTestOrchestrator(t, cfg, tr, dropFileOn(t, cfg.DownloadDir), nil)

	stats := o.RunOnce()
	if stats.Found != 2 || stats.Succeeded != 2 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := tr.maxConcurrent(); got != 1 {
		t.Errorf("sessions overlapped: max %d live", got)
	}
	if got := o.catalog.Len(); got != 2 {
		t.Errorf("catalog has %d entries", got)
	}
	if !o.catalog.IsProcessed(urlA) || !o.catalog.IsProcessed(urlB) {
		t.Error("downloaded links missing from catalog")
	}

	entry := journalFor(t, db, urlA)
	if entry.Status != models.StatusDownloaded {
		t.Errorf("journal status = %q", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("journal attempts = %d", entry.Attempts)
	}
	if len(entry.Files) != 1 || entry.Files[0] != "clip_a.mp4" {
		t.Errorf("journal files = %v", entry.Files)
	}

	// The same content again is all skips, with no new browser work.
	before := tr.sessionCount()
	stats = o.RunOnce()
	if stats.Skipped != 2 || stats.Succeeded != 0 || stats.Failed != 0 {
		t.Fatalf("rerun stats = %+v", stats)
	}
	if tr.sessionCount() != before {
		t.Error("rerun opened browser sessions for known links")
	}
}

func TestProviderRefusalIsMarkedForSession(t *testing.T) {
	cfg := testConfig(t)
	url := "https://drive.google.com/file/d/AAA1/view"
	writeMessagesFile(t, cfg.MessagesPath, "try "+url)

	quotaText := func(u string) string {
		if strings.Contains(u, "uc?export=download") {
			return "Download quota exceeded for this file."
		}
		return ""
	}
	tr := &tracker{}
	o, db := newTestOrchestrator(t, cfg, tr, nil, quotaText)

	stats := o.RunOnce()
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	entry := journalFor(t, db, url)
	if entry.Status != models.StatusError || entry.ErrorDetails == "" {
		t.Errorf("journal entry = %+v", entry)
	}

	// Marked for this process, so the rerun does not touch the browser.
	before := tr.sessionCount()
	stats = o.RunOnce()
	if stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("rerun stats = %+v", stats)
	}
	if tr.sessionCount() != before {
		t.Error("refused link was retried in the same process")
	}
}

func TestTimeoutMarkingFollowsRetryFlag(t *testing.T) {
	runTimeout := func(t *testing.T, retry bool) (*tracker, *Orchestrator) {
		cfg := testConfig(t)
		cfg.DriveWaitSec = 1
		cfg.RetryTimedOut = retry
		writeMessagesFile(t, cfg.MessagesPath, "try https://drive.google.com/file/d/AAA1/view")

		tr := &tracker{}
		o, _ := newTestOrchestrator(t, cfg, tr, nil, nil) // nothing ever lands
		if stats := o.RunOnce(); stats.Failed != 1 {
			t.Fatalf("stats = %+v", stats)
		}
		return tr, o
	}

	t.Run("default marks the link", func(t *testing.T) {
		tr, o := runTimeout(t, false)
		before := tr.sessionCount()
		if stats := o.RunOnce(); stats.Skipped != 1 {
			t.Fatalf("rerun stats = %+v", stats)
		}
		if tr.sessionCount() != before {
			t.Error("timed-out link was retried despite RetryTimedOut=false")
		}
	})

	t.Run("retry flag keeps the link eligible", func(t *testing.T) {
		tr, o := runTimeout(t, true)
		before := tr.sessionCount()
		if stats := o.RunOnce(); stats.Failed != 1 {
			t.Fatalf("rerun stats = %+v", stats)
		}
		if tr.sessionCount() == before {
			t.Error("timed-out link was not retried despite RetryTimedOut=true")
		}
	})
}

func TestSessionFailureIsTransient(t *testing.T) {
	cfg := testConfig(t)
	writeMessagesFile(t, cfg.MessagesPath, "try https://drive.google.com/file/d/AAA1/view")

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tr := &tracker{}
	broken := true
	inner := tr.factory(dropFileOn(t, cfg.DownloadDir), nil)
	o := New(cfg, Deps{
		Catalog: catalog.Load(cfg.CatalogPath),
		Journal: db,
		Factory: func() (browser.Session, error) {
			if broken {
				return nil, fmt.Errorf("browser did not start")
			}
			return inner()
		},
	})
	o.detector.PollInterval = 20 * time.Millisecond

	if stats := o.RunOnce(); stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	broken = false
	if stats := o.RunOnce(); stats.Succeeded != 1 {
		t.Fatalf("recovery stats = %+v", stats)
	}
}

func TestTryTriggerDropsConcurrent(t *testing.T) {
	cfg := testConfig(t)
	writeMessagesFile(t, cfg.MessagesPath, "try https://drive.google.com/file/d/AAA1/view")

	slowDrop := func(url string) {
		if strings.Contains(url, "id=AAA1") {
			time.Sleep(200 * time.Millisecond)
			if err := os.WriteFile(filepath.Join(cfg.DownloadDir, "clip_a.mp4"), []byte("data"), 0644); err != nil {
				t.Errorf("drop: %v", err)
			}
		}
	}
	tr := &tracker{}
	o, _ := newTestOrchestrator(t, cfg, tr, slowDrop, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.TryTrigger()
	}()
	time.Sleep(50 * time.Millisecond)
	o.TryTrigger() // dropped: the first run is still inside the browser
	wg.Wait()

	if got := tr.sessionCount(); got != 1 {
		t.Fatalf("expected 1 session, got %d", got)
	}
	if got := tr.maxConcurrent(); got != 1 {
		t.Fatalf("sessions overlapped: max %d live", got)
	}
}

func TestInterLinkDelay(t *testing.T) {
	cfg := testConfig(t)
	cfg.InterLinkDelaySec = 1
	writeMessagesFile(t, cfg.MessagesPath,
		"one https://drive.google.com/file/d/AAA1/view",
		"two https://drive.google.com/file/d/BBB2/view")

	tr := &tracker{}
	o, _ := newTestOrchestrator(t, cfg, tr, dropFileOn(t, cfg.DownloadDir), nil)

	start := time.Now()
	if stats := o.RunOnce(); stats.Succeeded != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("links processed %s apart, delay not honoured", elapsed)
	}
}

func TestChangeGateAndRefresh(t *testing.T) {
	cfg := testConfig(t)
	cfg.WatchMode = models.WatchModePoll
	writeMessagesFile(t, cfg.MessagesPath, "one https://drive.google.com/file/d/AAA1/view")

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	w := watcher.New(cfg)
	tr := &tracker{}
	o := New(cfg, Deps{
		Catalog: catalog.Load(cfg.CatalogPath),
		Journal: db,
		Watcher: w,
		Factory: tr.factory(dropFileOn(t, cfg.DownloadDir), nil),
	})
	o.detector.PollInterval = 20 * time.Millisecond

	o.TryTrigger()
	if got := tr.sessionCount(); got != 1 {
		t.Fatalf("first trigger should process, sessions = %d", got)
	}

	// The completed run refreshed the snapshot, so nothing re-triggers.
	o.TryTrigger()
	if got := tr.sessionCount(); got != 1 {
		t.Fatalf("unchanged content re-triggered, sessions = %d", got)
	}

	writeMessagesFile(t, cfg.MessagesPath,
		"one https://drive.google.com/file/d/AAA1/view",
		"two https://drive.google.com/file/d/BBB2/view")
	o.TryTrigger()
	if got := tr.sessionCount(); got != 2 {
		t.Fatalf("new content should process the new link once, sessions = %d", got)
	}
}
