package index

import (
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"

	"go-chatlink-download/internal/models"
)

const defaultIndexPath = "catalog.bleve"

// Entry is the searchable projection of a catalog record. All fields are
// indexed and searchable under their lowercase JSON tag names (e.g. query
// '+author:alice' or '+type:video').
type Entry struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Author       string `json:"author"`
	Caption      string `json:"caption"`
	MediaPath    string `json:"mediaPath"`
	SourceLink   string `json:"sourceLink"`
	MessageBody  string `json:"messageBody,omitempty"`
	Extension    string `json:"extension,omitempty"`
	FileSize     int64  `json:"fileSize,omitempty"`
	DownloadDate string `json:"downloadDate,omitempty"`
}

// FromCatalogEntry projects a catalog record into its indexed form.
func FromCatalogEntry(e models.CatalogEntry) Entry {
	return Entry{
		ID:           e.ID,
		Type:         e.Type,
		Author:       e.Author,
		Caption:      e.Caption,
		MediaPath:    e.MediaPath,
		SourceLink:   e.SourceLink,
		MessageBody:  e.SourceMessageBody,
		Extension:    e.FileExtension,
		FileSize:     e.FileSize,
		DownloadDate: e.DownloadDate,
	}
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it
// doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Printf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexEntry adds or updates a catalog record in the Bleve index.
func IndexEntry(index bleve.Index, entry models.CatalogEntry) error {
	e := FromCatalogEntry(entry)
	return index.Index(e.ID, e)
}

// SearchIndex performs a search query against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"} // Request all stored fields
	searchResults, err := index.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	return searchResults, nil
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Printf("Attempting to delete index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
