// Package flows drives provider download pages. Each provider is a small
// state machine over the browser capability; page affordances are described
// by declarative matcher tables instead of scattered selector lookups.
package flows

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/models"
)

var (
	// ErrExtraction means the link carried no parsable file identifier.
	ErrExtraction = errors.New("no file identifier in link")
	// ErrProviderPolicy means the provider refused to serve the file. Quota
	// and permission pages land here; retrying cannot help.
	ErrProviderPolicy = errors.New("provider refused the download")
	// ErrFlowNavigation means every known affordance for a required page
	// interaction was missing or unusable.
	ErrFlowNavigation = errors.New("no usable download affordance")
)

// AwaitFunc blocks until the download directory shows a completed file or the
// timeout passes, returning the new file names. The orchestrator binds it to
// a snapshot taken before the attempt started.
type AwaitFunc func(timeout time.Duration) ([]string, error)

// Runner is one provider's download flow over a live browser session.
type Runner interface {
	Provider() string
	Run(sess browser.Session, link models.Link, await AwaitFunc) ([]string, error)
}

// ForProvider returns the flow driver for a provider tag.
func ForProvider(provider string, cfg models.Config) (Runner, error) {
	switch provider {
	case models.ProviderDrive:
		return NewDriveFlow(cfg), nil
	case models.ProviderWeTransfer:
		return NewWeTransferFlow(cfg), nil
	default:
		return nil, fmt.Errorf("no flow driver for provider %q", provider)
	}
}

// Step is one logical page interaction. Matchers are tried in order; the
// first visible, enabled element wins. Optional steps that match nothing are
// skipped. When FollowHref is set, a matched element whose href contains the
// fragment is navigated to instead of clicked.
type Step struct {
	Name       string
	Matchers   []browser.Matcher
	Optional   bool
	FollowHref string
}

// applyStep resolves and acts on a step. An action that fails on one matched
// element falls through to the next matcher, the way a user would try the
// next control on the page.
func applyStep(sess browser.Session, step Step) error {
	for _, m := range step.Matchers {
		el, ok := sess.Find(m)
		if !ok {
			continue
		}

		if step.FollowHref != "" {
			if href := el.Attr("href"); href != "" && strings.Contains(href, step.FollowHref) {
				if err := sess.Navigate(href); err != nil {
					log.WithError(err).Debugf("Step %q: could not follow %s", step.Name, href)
					continue
				}
				log.Debugf("Step %q: followed %s", step.Name, href)
				return nil
			}
		}

		if err := el.Click(); err != nil {
			log.WithError(err).Debugf("Step %q: click failed", step.Name)
			continue
		}
		log.Debugf("Step %q: clicked", step.Name)
		return nil
	}

	if step.Optional {
		log.Debugf("Step %q: nothing to do", step.Name)
		return nil
	}
	return fmt.Errorf("%w: step %q matched nothing", ErrFlowNavigation, step.Name)
}
