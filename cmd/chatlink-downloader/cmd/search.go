package cmd

import (
	"fmt"
	"strings"

	index "go-chatlink-download/index"
	"go-chatlink-download/internal/catalog"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// searchCmd represents the command to query the catalog index
var searchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search the catalog of downloaded files",
	Long: `Searches the Bleve index built from the download catalog. The query uses
bleve's query string syntax, so field searches like 'type:video' or
'author:alice' work alongside plain text.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")
	log.Debugf("runSearch called with indexPath: %s, query: %s", globalConfig.BleveIndexPath, query)

	bleveIndex, err := openCatalogIndex()
	if err != nil {
		log.WithError(err).Fatal("Failed to open search index")
	}
	defer func() {
		log.Debug("Closing Bleve index.")
		if err := bleveIndex.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	log.Infof("Performing search with query: %s", query)

	searchResults, err := index.SearchIndex(bleveIndex, query)
	if err != nil {
		log.WithError(err).Fatal("Error performing search")
	}

	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
		len(searchResults.Hits),
		searchResults.Total,
		searchResults.Took)

	if searchResults.Total > 0 {
		fmt.Println("--- Search Results ---")
		for i, hit := range searchResults.Hits {
			fmt.Printf("[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
			// All stored fields are requested by SearchIndex
			for field, value := range hit.Fields {
				fmt.Printf("  %s: %v\n", field, value)
			}
			fmt.Println("---")
		}
	} else {
		fmt.Println("No results found matching your query.")
	}
}

// openCatalogIndex opens the Bleve index, rebuilding it from the catalog when
// no index exists yet. Rebuilding keeps search usable even if the index
// directory was deleted or the catalog predates indexing.
func openCatalogIndex() (bleve.Index, error) {
	bleveIndex, err := bleve.Open(globalConfig.BleveIndexPath)
	if err == nil {
		return bleveIndex, nil
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		return nil, fmt.Errorf("failed to open index at %s: %w", globalConfig.BleveIndexPath, err)
	}

	log.Infof("No search index at %s, rebuilding it from the catalog", globalConfig.BleveIndexPath)
	bleveIndex, err = index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create index at %s: %w", globalConfig.BleveIndexPath, err)
	}

	cat := catalog.Load(globalConfig.CatalogPath)
	indexed := 0
	for _, entry := range cat.Entries() {
		if err := index.IndexEntry(bleveIndex, entry); err != nil {
			log.WithError(err).Warnf("Failed to index catalog entry %s", entry.ID)
			continue
		}
		indexed++
	}
	log.Infof("Rebuilt search index with %d of %d catalog entries", indexed, cat.Len())
	return bleveIndex, nil
}
