package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go-chatlink-download/internal/database"
	"go-chatlink-download/internal/helpers"
	"go-chatlink-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// dbCmd represents the base command for attempt journal operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the download attempt journal",
	Long:  `Perform operations like viewing or clearing entries in the journal of download attempts.`,
	// No Run function for the base db command itself
}

// dbViewCmd represents the command to view journal entries
var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View entries stored in the attempt journal",
	Long:  `Lists the links that have been attempted, their status and the files they produced.`,
	Run:   runDbView,
}

// dbRetryCmd represents the command to clear a journal record so a link is
// attempted again
var dbRetryCmd = &cobra.Command{
	Use:   "retry [URL|HASH]",
	Short: "Remove a journal entry so the link is reprocessed on the next scan",
	Long: `Deletes the journal record for the given link, identified either by the
original URL or by its hash as shown in 'db view'. Links already recorded in
the catalog are still considered done; this only clears the attempt history.`,
	Args: cobra.ExactArgs(1),
	Run:  runDbRetry,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbRetryCmd)

	dbViewCmd.Flags().String("status", "", "Only show entries with this status (Pending, Downloaded, Error)")
}

func runDbView(cmd *cobra.Command, args []string) {
	statusFilter, _ := cmd.Flags().GetString("status")

	// Open the journal using globalConfig loaded by PersistentPreRunE
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		log.WithError(err).Fatalf("Failed to open attempt journal at %s", globalConfig.DatabasePath)
	}
	defer db.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tProvider\tStatus\tAttempts\tLast Attempt\tDetails")
	fmt.Fprintln(tw, "---\t--------\t------\t--------\t------------\t-------")

	count := 0
	errFold := db.Fold(func(key []byte, value []byte) error {
		var entry models.JournalEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			log.WithError(err).Warnf("Failed to unmarshal journal entry for key %s", string(key))
			return nil // Continue folding over other keys
		}

		if statusFilter != "" && !strings.EqualFold(entry.Status, statusFilter) {
			return nil
		}

		// Downloaded entries carry their files, failed ones the error
		details := entry.ErrorDetails
		if entry.Status == models.StatusDownloaded {
			details = strings.Join(entry.Files, ", ")
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			helpers.TruncateString(entry.URL, 60),
			entry.Provider,
			entry.Status,
			entry.Attempts,
			time.Unix(entry.LastAttempt, 0).Format("2006-01-02 15:04"),
			helpers.TruncateString(details, 48),
		)
		count++
		return nil
	})

	if errFold != nil {
		log.WithError(errFold).Error("Error occurred during journal scan (Fold)")
	}

	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for db view")
	}
	log.Infof("Displayed %d entries.", count)
}

func runDbRetry(cmd *cobra.Command, args []string) {
	ref := args[0]
	hash := ref
	if !looksLikeLinkHash(ref) {
		hash = helpers.LinkHash(ref)
	}

	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		log.WithError(err).Fatalf("Failed to open attempt journal at %s", globalConfig.DatabasePath)
	}
	defer db.Close()

	value, err := db.Get([]byte(hash))
	if errors.Is(err, database.ErrNotFound) {
		log.Fatalf("No journal entry found for %s (key %s)", ref, hash)
	} else if err != nil {
		log.WithError(err).Fatalf("Failed to read journal entry for key %s", hash)
	}

	var entry models.JournalEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		log.WithError(err).Warnf("Journal entry for key %s is unreadable, deleting it anyway", hash)
	} else {
		log.WithFields(log.Fields{
			"url":      entry.URL,
			"status":   entry.Status,
			"attempts": entry.Attempts,
		}).Info("Removing journal entry")
	}

	if err := db.Delete([]byte(hash)); err != nil {
		log.WithError(err).Fatalf("Failed to delete journal entry for key %s", hash)
	}
	log.Infof("Journal entry removed. The link will be attempted again on the next scan unless it is already in the catalog.")
}

// looksLikeLinkHash reports whether ref is a hex digest of the size LinkHash
// produces, as printed by db view.
func looksLikeLinkHash(ref string) bool {
	if len(ref) != 64 {
		return false
	}
	for _, r := range ref {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}
