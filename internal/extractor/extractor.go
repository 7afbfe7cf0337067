package extractor

import (
	"regexp"
	"strings"

	"go-chatlink-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Patterns are tried in order against each message body. The first two forms
// belong to Drive, the other two to WeTransfer.
var linkPatterns = []struct {
	re       *regexp.Regexp
	provider string
}{
	{regexp.MustCompile(`https://drive\.google\.com/file/d/[^/\s]+[^\s]*`), models.ProviderDrive},
	{regexp.MustCompile(`https://drive\.google\.com/open\?id=[^\s]+`), models.ProviderDrive},
	{regexp.MustCompile(`https://we\.tl/t-[^\s]+`), models.ProviderWeTransfer},
	{regexp.MustCompile(`https://wetransfer\.com/downloads/[^\s]+`), models.ProviderWeTransfer},
}

// CleanURL strips punctuation that chat clients commonly glue onto the end of
// a pasted link.
func CleanURL(raw string) string {
	return strings.TrimRight(raw, ".,;!?)")
}

// ExtractLinks pulls provider links out of the message stream. Only "chat"
// messages with a non-empty body are considered. Matches keep message order,
// and duplicates are preserved: dedup is the catalog's job, not ours.
func ExtractLinks(messages []models.Message) []models.Link {
	var links []models.Link

	for _, message := range messages {
		if message.Type != "chat" || message.Body == "" {
			continue
		}

		for _, pattern := range linkPatterns {
			for _, match := range pattern.re.FindAllString(message.Body, -1) {
				links = append(links, models.Link{
					URL:         CleanURL(match),
					Provider:    pattern.provider,
					MessageID:   message.ID,
					Author:      message.Author,
					Timestamp:   message.Timestamp,
					MessageBody: message.Body,
				})
			}
		}
	}

	log.Debugf("Extracted %d links from %d messages", len(links), len(messages))
	return links
}
