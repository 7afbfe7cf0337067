package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-chatlink-download/internal/catalog"
	"go-chatlink-download/internal/completion"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("orphans", "o", false, "Also remove files the catalog does not reference")
	cleanCmd.Flags().BoolP("dry-run", "n", false, "Only report what would be removed")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove partial download artifacts from the download directory",
	Long: `Recursively scans the configured download directory and removes leftover
partial artifacts (.crdownload, .tmp) from interrupted browser downloads.
With --orphans, files the catalog does not reference are removed as well.`,
	Run: runClean,
}

func runClean(cmd *cobra.Command, args []string) {
	downloadDir := globalConfig.DownloadDir

	removeOrphans, _ := cmd.Flags().GetBool("orphans")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	info, err := os.Stat(downloadDir)
	if os.IsNotExist(err) {
		log.Errorf("Download directory does not exist: %s", downloadDir)
		os.Exit(1)
	}
	if err != nil {
		log.Errorf("Error accessing download directory %q: %v", downloadDir, err)
		os.Exit(1)
	}
	if !info.IsDir() {
		log.Errorf("Download path is not a directory: %s", downloadDir)
		os.Exit(1)
	}

	// The orphan check needs to know which files the catalog accounts for.
	var known map[string]bool
	if removeOrphans {
		known = make(map[string]bool)
		for _, entry := range catalog.Load(globalConfig.CatalogPath).Entries() {
			known[filepath.Base(entry.MediaPath)] = true
		}
	}
	catalogBase := filepath.Base(globalConfig.CatalogPath)

	logLine := fmt.Sprintf("Scanning for partial artifacts in %s", downloadDir)
	if removeOrphans {
		logLine += " (and orphaned files)"
	}
	if dryRun {
		logLine += " [dry run]"
	}
	log.Info(logLine + "...")

	var partialsRemoved, orphansRemoved int64
	var filesFailed int64

	walkErr := filepath.Walk(downloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil // Skip directories
		}

		name := info.Name()
		// Dotfiles are browser-internal scratch space, leave them alone
		if strings.HasPrefix(name, ".") {
			return nil
		}
		lowerName := strings.ToLower(name)

		fileType := ""
		if hasPartialSuffix(lowerName) {
			fileType = "partial"
		} else if removeOrphans && isOrphan(name, lowerName, catalogBase, known) {
			fileType = "orphan"
		}
		if fileType == "" {
			return nil
		}

		if dryRun {
			log.Infof("Would remove %s file: %s", fileType, path)
			countRemoval(fileType, &partialsRemoved, &orphansRemoved)
			return nil
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove %s file %q, but it was already gone.", fileType, path)
			} else {
				log.Errorf("Failed to remove %s file %q: %v", fileType, path, err)
				filesFailed++
			}
			return nil
		}
		log.Infof("Removed %s file: %s", fileType, path)
		countRemoval(fileType, &partialsRemoved, &orphansRemoved)
		return nil // Continue walking
	})

	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", downloadDir, walkErr)
	}

	// Build summary string
	var summaryParts []string
	if partialsRemoved > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d partial artifact(s)", partialsRemoved))
	}
	if orphansRemoved > 0 {
		summaryParts = append(summaryParts, fmt.Sprintf("%d orphaned file(s)", orphansRemoved))
	}

	summary := "Clean complete. Removed: "
	if dryRun {
		summary = "Dry run complete. Would remove: "
	}
	if len(summaryParts) > 0 {
		summary += strings.Join(summaryParts, ", ")
	} else {
		summary += "0 files"
	}

	if filesFailed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", filesFailed)
	}
	log.Info(summary)

	if filesFailed > 0 || walkErr != nil {
		os.Exit(1)
	}
}

func hasPartialSuffix(lowerName string) bool {
	for _, ext := range completion.DefaultPartialExts {
		if strings.HasSuffix(lowerName, ext) {
			return true
		}
	}
	return false
}

// isOrphan reports whether a file is fair game for --orphans removal. The
// catalog file itself and torrent exports live alongside the downloads and
// must survive the sweep.
func isOrphan(name, lowerName, catalogBase string, known map[string]bool) bool {
	if name == catalogBase {
		return false
	}
	if strings.HasSuffix(lowerName, ".torrent") || strings.HasSuffix(lowerName, "-magnet.txt") {
		return false
	}
	return !known[name]
}

func countRemoval(fileType string, partials, orphans *int64) {
	switch fileType {
	case "partial":
		*partials++
	case "orphan":
		*orphans++
	}
}
