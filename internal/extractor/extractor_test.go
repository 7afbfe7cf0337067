package extractor

import (
	"testing"

	"go-chatlink-download/internal/models"
)

func TestCleanURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"No trailing punctuation", "https://we.tl/t-abc123", "https://we.tl/t-abc123"},
		{"Trailing period", "https://we.tl/t-abc123.", "https://we.tl/t-abc123"},
		{"Trailing comma", "https://we.tl/t-abc123,", "https://we.tl/t-abc123"},
		{"Closing paren", "https://we.tl/t-abc123)", "https://we.tl/t-abc123"},
		{"Mixed pile-up", "https://we.tl/t-abc123.),!?", "https://we.tl/t-abc123"},
		{"Punctuation inside URL untouched", "https://drive.google.com/open?id=a,b.c", "https://drive.google.com/open?id=a,b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanURL(tt.input); got != tt.want {
				t.Errorf("CleanURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractLinks(t *testing.T) {
	messages := []models.Message{
		{ID: "m1", Type: "chat", Body: "check this out https://drive.google.com/file/d/1AbC_def/view?usp=sharing!", Author: "alice", Timestamp: 100},
		{ID: "m2", Type: "chat", Body: "no links here"},
		{ID: "m3", Type: "image", Body: "https://we.tl/t-should-be-ignored"},
		{ID: "m4", Type: "chat", Body: ""},
		{ID: "m5", Type: "chat", Body: "two in one https://we.tl/t-xyz123 and https://wetransfer.com/downloads/abcd1234.", Author: "bob", Timestamp: 200},
		{ID: "m6", Type: "chat", Body: "again https://we.tl/t-xyz123", Author: "carol", Timestamp: 300},
		{ID: "m7", Type: "chat", Body: "legacy form https://drive.google.com/open?id=0B1234abcd", Author: "dave", Timestamp: 400},
	}

	links := ExtractLinks(messages)

	want := []struct {
		url      string
		provider string
		msgID    string
	}{
		{"https://drive.google.com/file/d/1AbC_def/view?usp=sharing", models.ProviderDrive, "m1"},
		{"https://we.tl/t-xyz123", models.ProviderWeTransfer, "m5"},
		{"https://wetransfer.com/downloads/abcd1234", models.ProviderWeTransfer, "m5"},
		{"https://we.tl/t-xyz123", models.ProviderWeTransfer, "m6"},
		{"https://drive.google.com/open?id=0B1234abcd", models.ProviderDrive, "m7"},
	}

	if len(links) != len(want) {
		t.Fatalf("ExtractLinks returned %d links, want %d: %+v", len(links), len(want), links)
	}

	for i, w := range want {
		got := links[i]
		if got.URL != w.url {
			t.Errorf("link %d: URL = %q, want %q", i, got.URL, w.url)
		}
		if got.Provider != w.provider {
			t.Errorf("link %d: Provider = %q, want %q", i, got.Provider, w.provider)
		}
		if got.MessageID != w.msgID {
			t.Errorf("link %d: MessageID = %q, want %q", i, got.MessageID, w.msgID)
		}
	}

	// Link carries the full message context for the catalog record.
	if links[0].Author != "alice" || links[0].Timestamp != 100 {
		t.Errorf("link 0 lost message metadata: %+v", links[0])
	}
	if links[0].MessageBody == "" {
		t.Error("link 0 should carry the raw message body")
	}

	// Duplicates preserved: same URL from m5 and m6 both present.
	if links[1].URL != links[3].URL {
		t.Error("duplicate link occurrences should both be extracted")
	}
}

func TestExtractLinksEmpty(t *testing.T) {
	if got := ExtractLinks(nil); len(got) != 0 {
		t.Errorf("ExtractLinks(nil) = %v, want empty", got)
	}
	if got := ExtractLinks([]models.Message{{ID: "x", Type: "chat", Body: "plain text"}}); len(got) != 0 {
		t.Errorf("ExtractLinks without URLs = %v, want empty", got)
	}
}
