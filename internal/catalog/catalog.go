package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go-chatlink-download/internal/helpers"
	"go-chatlink-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Extension allowlists for media classification. Anything outside both sets
// is recorded as a document.
var (
	videoExtensions = map[string]struct{}{
		".mp4": {}, ".avi": {}, ".mov": {}, ".mkv": {}, ".wmv": {},
		".flv": {}, ".webm": {}, ".m4v": {}, ".3gp": {},
	}
	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {},
	}
)

// ClassifyExtension maps a file extension (with or without leading dot) to a
// media type.
func ClassifyExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if _, ok := videoExtensions[ext]; ok {
		return models.MediaTypeVideo
	}
	if _, ok := imageExtensions[ext]; ok {
		return models.MediaTypeImage
	}
	return models.MediaTypeDocument
}

// Store holds the download catalog: the append-only list of entries persisted
// as a JSON array, plus an in-memory hash index over source links for dedup.
// The store has no internal locking. Callers serialize access through the
// orchestrator's single-flight lock.
type Store struct {
	path    string
	entries []models.CatalogEntry
	index   map[string]struct{}
}

// Load reads the catalog at path. A missing file yields an empty catalog. An
// unparsable file is logged and also yields an empty catalog: losing dedup
// state risks a duplicate download, which is preferable to refusing to run.
func Load(path string) *Store {
	s := &Store{
		path:  path,
		index: make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Could not read catalog %s, starting empty", path)
		}
		return s
	}

	var entries []models.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.WithError(err).Warnf("Catalog %s is unparsable, starting empty", path)
		return s
	}

	s.entries = entries
	for _, entry := range entries {
		if entry.SourceLink != "" {
			s.index[helpers.LinkHash(entry.SourceLink)] = struct{}{}
		}
	}

	log.Infof("Loaded %d previously processed links from %s", len(s.index), path)
	return s
}

// IsProcessed reports whether the link URL already has a catalog entry.
func (s *Store) IsProcessed(url string) bool {
	_, ok := s.index[helpers.LinkHash(url)]
	return ok
}

// Len returns the number of catalog entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Path returns the catalog file location.
func (s *Store) Path() string {
	return s.path
}

// Entries returns a copy of the catalog records for read-only consumers
// (search indexing, torrent export, cleanup).
func (s *Store) Entries() []models.CatalogEntry {
	out := make([]models.CatalogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// BuildEntry assembles the catalog record for one downloaded file. The entry
// id embeds the current catalog length, so build and Record must happen back
// to back under the same lock.
func (s *Store) BuildEntry(link models.Link, filePath string) (models.CatalogEntry, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return models.CatalogEntry{}, fmt.Errorf("stat downloaded file %s: %w", filePath, err)
	}

	name := filepath.Base(filePath)
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	now := time.Now()

	return models.CatalogEntry{
		ID:                fmt.Sprintf("auto_%d_%s_%d", now.Unix(), stem, len(s.entries)),
		Author:            link.Author,
		Timestamp:         now.Unix(),
		OriginalTimestamp: link.Timestamp,
		Caption:           fmt.Sprintf("Auto-downloaded from: %s...", helpers.TruncateString(link.URL, 50)),
		MediaPath:         path.Join(filepath.Base(filepath.Dir(filePath)), name),
		SourceLink:        link.URL,
		SourceMessageID:   link.MessageID,
		SourceMessageBody: link.MessageBody,
		FileSize:          info.Size(),
		FileExtension:     ext,
		DownloadDate:      now.Format(time.RFC3339),
	}, nil
}

// Record classifies the entry's media type, appends it, and rewrites the
// whole catalog file atomically. The in-memory index is updated only after
// the rewrite lands, so a failed write leaves the link unprocessed.
func (s *Store) Record(entry models.CatalogEntry) error {
	entry.Type = ClassifyExtension(entry.FileExtension)

	updated := append(s.entries, entry)
	if err := s.write(updated); err != nil {
		return err
	}

	s.entries = updated
	s.index[helpers.LinkHash(entry.SourceLink)] = struct{}{}
	return nil
}

// write marshals the entries and replaces the catalog file via a temp file in
// the same directory followed by a rename.
func (s *Store) write(entries []models.CatalogEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create catalog directory %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp catalog file in %s: %w", dir, err)
	}
	tmpPath := tmpFile.Name()

	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if remErr := os.Remove(tmpPath); remErr != nil && !os.IsNotExist(remErr) {
				log.WithError(remErr).Warnf("Failed to remove temp catalog file %s", tmpPath)
			}
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp catalog file %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp catalog file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace catalog %s: %w", s.path, err)
	}
	shouldCleanupTemp = false

	return nil
}
