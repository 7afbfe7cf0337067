package models

type (
	Config struct {
		// Paths
		MessagesPath   string `toml:"MessagesPath" validate:"required"`
		CatalogPath    string `toml:"CatalogPath" validate:"required"`
		DownloadDir    string `toml:"DownloadDir" validate:"required,dirpath"`
		DatabasePath   string `toml:"DatabasePath" validate:"required"`
		BleveIndexPath string `toml:"BleveIndexPath"` // Defaults next to DatabasePath

		// Watcher behaviour
		WatchMode       string `toml:"WatchMode" validate:"omitempty,oneof=events poll both"`
		PollIntervalSec int    `toml:"PollIntervalSec" validate:"gte=0"`
		DebounceSec     int    `toml:"DebounceSec" validate:"gte=0"`
		SettleSec       int    `toml:"SettleSec" validate:"gte=0"` // Wait after a change before reading

		// Download behaviour
		DriveWaitSec      int  `toml:"DriveWaitSec" validate:"gte=0"`
		WeTransferWaitSec int  `toml:"WeTransferWaitSec" validate:"gte=0"`
		PageSettleSec     int  `toml:"PageSettleSec" validate:"gte=0"`
		InterLinkDelaySec int  `toml:"InterLinkDelaySec" validate:"gte=0"`
		RetryTimedOut     bool `toml:"RetryTimedOut"` // Leave timed-out links unmarked so a later trigger retries them
		SkipInitialScan   bool `toml:"SkipInitialScan"`

		// Browser
		Headless  bool   `toml:"Headless"`
		UserAgent string `toml:"UserAgent"`
	}

	// A single record from the exported message stream. Only "chat"
	// messages with a non-empty body are ever consulted.
	Message struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Body      string `json:"body"`
		Author    string `json:"author"`
		Timestamp int64  `json:"timestamp"`
	}

	// A provider link pulled out of a message body. Immutable once
	// extracted; dedup happens downstream against the catalog.
	Link struct {
		URL         string
		Provider    string
		MessageID   string
		Author      string
		Timestamp   int64
		MessageBody string
	}

	// One catalog record per downloaded file. Field names are fixed by
	// the catalog file format consumed downstream.
	CatalogEntry struct {
		ID                string `json:"id"`
		Author            string `json:"author"`
		Timestamp         int64  `json:"timestamp"`
		OriginalTimestamp int64  `json:"original_timestamp"`
		Caption           string `json:"caption"`
		Type              string `json:"type"`
		MediaPath         string `json:"mediaPath"`
		SourceLink        string `json:"source_link"`
		SourceMessageID   string `json:"source_message_id"`
		SourceMessageBody string `json:"source_message_body"`
		FileSize          int64  `json:"file_size"`
		FileExtension     string `json:"file_extension"`
		DownloadDate      string `json:"download_date"`
	}

	// Internal db entry for each attempted link
	JournalEntry struct {
		URL          string   `json:"url"`
		Provider     string   `json:"provider"`
		Status       string   `json:"status"`
		ErrorDetails string   `json:"errorDetails,omitempty"`
		Files        []string `json:"files,omitempty"`
		Attempts     int      `json:"attempts"`
		FirstSeen    int64    `json:"firstSeen"`
		LastAttempt  int64    `json:"lastAttempt"`
	}
)

// Database Status Constants
const (
	StatusPending    = "Pending"
	StatusDownloaded = "Downloaded"
	StatusError      = "Error"
)

// Provider tags assigned by the extractor and consumed by the flow registry.
const (
	ProviderDrive      = "drive"
	ProviderWeTransfer = "wetransfer"
)

// Watch modes
const (
	WatchModeEvents = "events"
	WatchModePoll   = "poll"
	WatchModeBoth   = "both"
)

// Media types recorded in catalog entries.
const (
	MediaTypeVideo    = "video"
	MediaTypeImage    = "image"
	MediaTypeDocument = "document"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns a Config populated with working defaults. Decoding a
// config file on top of it only overrides the keys the file actually sets.
func DefaultConfig() Config {
	return Config{
		MessagesPath:      "rss/messages.json",
		CatalogPath:       "media/links.json",
		DownloadDir:       "media",
		DatabasePath:      "database",
		WatchMode:         WatchModeBoth,
		PollIntervalSec:   5,
		DebounceSec:       3,
		SettleSec:         2,
		DriveWaitSec:      30,
		WeTransferWaitSec: 120,
		PageSettleSec:     5,
		InterLinkDelaySec: 2,
		Headless:          true,
		UserAgent:         defaultUserAgent,
	}
}
