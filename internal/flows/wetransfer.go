package flows

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/models"
)

var wetransferCookieStep = Step{
	Name:     "accept cookies",
	Optional: true,
	Matchers: []browser.Matcher{
		{Selector: "button[data-testid='accept-button']"},
		{Selector: "button[data-testid='cookie-accept']"},
		{Selector: "[data-qa*='cookie'] button"},
		{Selector: ".cookie-consent button"},
		{Selector: "button[aria-label*='Accept']"},
	},
}

var wetransferAgreeStep = Step{
	Name:     "accept terms",
	Optional: true,
	Matchers: []browser.Matcher{
		{Text: "agree"},
	},
}

// wetransferDownloadStep prefers the control labelled exactly "download".
// Anything mentioning a scan is rejected outright; that affordance routes
// the transfer through a different endpoint and must not be triggered.
var wetransferDownloadStep = Step{
	Name: "download",
	Matchers: []browser.Matcher{
		{ExactText: "download", AvoidText: "scan"},
		{Text: "download", AvoidText: "scan"},
	},
}

var wetransferPromptStep = Step{
	Name:     "dismiss permission prompt",
	Optional: true,
	Matchers: []browser.Matcher{
		{Selector: "button[aria-label*='Close']"},
		{Selector: "button[aria-label*='Dismiss']"},
		{Text: "not now"},
		{Text: "no thanks"},
	},
}

// WeTransferFlow clicks through a transfer page: consent overlays first,
// then the plain download control.
type WeTransferFlow struct {
	wait time.Duration
}

func NewWeTransferFlow(cfg models.Config) *WeTransferFlow {
	return &WeTransferFlow{wait: time.Duration(cfg.WeTransferWaitSec) * time.Second}
}

func (f *WeTransferFlow) Provider() string { return models.ProviderWeTransfer }

func (f *WeTransferFlow) Run(sess browser.Session, link models.Link, await AwaitFunc) ([]string, error) {
	if err := sess.Navigate(link.URL); err != nil {
		return nil, fmt.Errorf("open transfer page: %w", err)
	}

	if err := applyStep(sess, wetransferCookieStep); err != nil {
		return nil, err
	}
	if err := applyStep(sess, wetransferAgreeStep); err != nil {
		return nil, err
	}
	// Consent overlays re-render the page before the download control
	// becomes reachable.
	sess.Settle()

	if err := applyStep(sess, wetransferDownloadStep); err != nil {
		return nil, err
	}
	log.Debug("Download control clicked")

	if err := applyStep(sess, wetransferPromptStep); err != nil {
		return nil, err
	}

	return await(f.wait)
}
