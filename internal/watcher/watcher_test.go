package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go-chatlink-download/internal/models"
)

func writeMessages(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestWatcher(path string) *Watcher {
	return &Watcher{
		path:     path,
		mode:     models.WatchModePoll,
		poll:     50 * time.Millisecond,
		debounce: 2 * time.Second,
		settle:   100 * time.Millisecond,
		stop:     make(chan struct{}),
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := models.DefaultConfig()
	w := New(cfg)
	if w.mode != models.WatchModeBoth {
		t.Errorf("mode = %q", w.mode)
	}
	if w.poll != 5*time.Second || w.debounce != 3*time.Second || w.settle != 2*time.Second {
		t.Errorf("intervals = %s/%s/%s", w.poll, w.debounce, w.settle)
	}
}

func TestHasChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeMessages(t, path, `[{"id":"1"}]`)
	w := newTestWatcher(path)

	if !w.HasChanged() {
		t.Fatal("fresh file should differ from the empty snapshot")
	}
	w.Refresh()
	if w.HasChanged() {
		t.Fatal("no change expected right after Refresh")
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
	if w.HasChanged() {
		t.Fatal("touch must not count as a change")
	}
	if w.HasChanged() {
		t.Fatal("cheap path should hold after the touch was absorbed")
	}

	writeMessages(t, path, `[{"id":"1"}]`)
	if w.HasChanged() {
		t.Fatal("identical rewrite must not count as a change")
	}

	writeMessages(t, path, `[{"id":"1"},{"id":"2"}]`)
	if !w.HasChanged() {
		t.Fatal("appended content should count as a change")
	}
	if !w.HasChanged() {
		t.Fatal("the difference must persist until Refresh")
	}
	w.Refresh()
	if w.HasChanged() {
		t.Fatal("no change expected after the difference was processed")
	}
}

func TestHasChangedMissingFile(t *testing.T) {
	w := newTestWatcher(filepath.Join(t.TempDir(), "absent.json"))
	if w.HasChanged() {
		t.Fatal("a missing file is not a change")
	}
}

func TestTouchDoesNotTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeMessages(t, path, "[]")

	w := newTestWatcher(path)
	w.Refresh()

	var runs atomic.Int32
	if err := w.Start(func() {
		runs.Add(1)
		w.Refresh()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("touch produced %d triggers", got)
	}
}

func TestRapidWritesCollapseToOneTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeMessages(t, path, "[]")

	w := newTestWatcher(path)
	w.Refresh()

	var runs atomic.Int32
	if err := w.Start(func() {
		runs.Add(1)
		w.Refresh()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		writeMessages(t, path, fmt.Sprintf(`[{"id":"%d"}]`, i))
		time.Sleep(20 * time.Millisecond)
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected exactly one trigger, got %d", got)
	}

	time.Sleep(300 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected the burst to stay collapsed, got %d", got)
	}
}

func TestEventModeTriggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	writeMessages(t, path, "[]")

	w := &Watcher{
		path:     path,
		mode:     models.WatchModeEvents,
		debounce: 200 * time.Millisecond,
		settle:   50 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	w.Refresh()

	var runs atomic.Int32
	if err := w.Start(func() {
		runs.Add(1)
		w.Refresh()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	writeMessages(t, path, `[{"id":"evt"}]`)

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := runs.Load(); got == 0 {
		t.Fatal("file event never reached the trigger")
	}
}
