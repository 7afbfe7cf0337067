package completion

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"go-chatlink-download/internal/helpers"
)

// ErrTimeout reports that no completed download appeared within the window.
var ErrTimeout = errors.New("download did not complete in time")

// DefaultPartialExts are the artifact extensions Chromium-family browsers
// leave behind while a transfer is still running.
var DefaultPartialExts = []string{".crdownload", ".tmp"}

// Progress receives the elapsed wait time and a status line on every poll.
type Progress func(elapsed time.Duration, status string)

// Detector decides whether a download finished by comparing directory
// snapshots. File content is never inspected; a new or grown regular file
// with no partial artifacts around is trusted as complete.
type Detector struct {
	Dir          string
	PollInterval time.Duration
	PartialExts  []string
}

func NewDetector(dir string) *Detector {
	return &Detector{
		Dir:          dir,
		PollInterval: time.Second,
		PartialExts:  DefaultPartialExts,
	}
}

// Snapshot records the names and sizes of the regular files currently in the
// download directory. Dotfiles and subdirectories are ignored.
func (d *Detector) Snapshot() (map[string]int64, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read download dir: %w", err)
	}
	snap := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snap[entry.Name()] = info.Size()
	}
	return snap, nil
}

// Wait blocks until the directory differs from the before snapshot by a new
// or grown file, or until the timeout passes. Partial artifacts keep the wait
// alive without counting as results. The returned names are sorted.
func (d *Detector) Wait(before map[string]int64, timeout time.Duration, progress Progress) ([]string, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	for time.Now().Before(deadline) {
		if files, done := d.check(before, start, progress); done {
			return files, nil
		}
		time.Sleep(d.PollInterval)
	}

	// The rename off a partial artifact can land right at the wire, so look
	// once more before giving up.
	if files, done := d.check(before, start, progress); done {
		return files, nil
	}
	return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
}

func (d *Detector) check(before map[string]int64, start time.Time, progress Progress) ([]string, bool) {
	current, err := d.Snapshot()
	if err != nil {
		log.WithError(err).Debug("Download dir scan failed, retrying")
		return nil, false
	}

	if name, size, ok := d.partialIn(current); ok {
		d.report(progress, start, fmt.Sprintf("downloading %s (%s)", name, helpers.BytesToSize(uint64(size))))
		return nil, false
	}

	var fresh []string
	for name, size := range current {
		prev, seen := before[name]
		if !seen || size > prev {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) > 0 {
		sort.Strings(fresh)
		return fresh, true
	}

	d.report(progress, start, "waiting for download to start")
	return nil, false
}

func (d *Detector) partialIn(current map[string]int64) (string, int64, bool) {
	for name, size := range current {
		lower := strings.ToLower(name)
		for _, ext := range d.PartialExts {
			if strings.HasSuffix(lower, ext) {
				return name, size, true
			}
		}
	}
	return "", 0, false
}

func (d *Detector) report(progress Progress, start time.Time, status string) {
	if progress != nil {
		progress(time.Since(start), status)
	}
}
