package browser

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	log "github.com/sirupsen/logrus"

	"go-chatlink-download/internal/models"
)

const loadTimeout = 30 * time.Second

// NewFactory returns a Factory that launches a fresh headless browser per
// attempt, configured to drop downloads into the configured directory.
func NewFactory(cfg models.Config) Factory {
	return func() (Session, error) {
		return newRodSession(cfg)
	}
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	settle   time.Duration
}

func newRodSession(cfg models.Config) (*rodSession, error) {
	downloadDir, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-web-security").
		Set("allow-running-insecure-content").
		Set("disable-features", "VizDisplayCompositor").
		Set("exclude-switches", "enable-automation").
		Set("user-agent", cfg.UserAgent)

	// Prefer an installed browser over downloading a managed one.
	if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	err = proto.PageSetDownloadBehavior{
		Behavior:     proto.PageSetDownloadBehaviorBehaviorAllow,
		DownloadPath: downloadDir,
	}.Call(page)
	if err != nil {
		_ = page.Close()
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("set download behaviour: %w", err)
	}

	log.Debugf("Browser session started, downloads to %s", downloadDir)

	return &rodSession{
		launcher: l,
		browser:  b,
		page:     page,
		settle:   time.Duration(cfg.PageSettleSec) * time.Second,
	}, nil
}

func (s *rodSession) Navigate(url string) error {
	if err := s.page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := s.page.Timeout(loadTimeout).WaitLoad(); err != nil {
		// Heavy provider pages keep background traffic going well past
		// usefulness. Proceed with whatever has rendered.
		log.WithError(err).Debugf("Load wait gave up for %s", url)
	}
	s.maskAutomation()
	s.Settle()
	return nil
}

// maskAutomation hides the webdriver flag some providers key bot checks on.
func (s *rodSession) maskAutomation() {
	_, err := s.page.Eval(`() => Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`)
	if err != nil {
		log.WithError(err).Debug("Could not mask automation flag")
	}
}

func (s *rodSession) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil {
		log.WithError(err).Debug("Could not read page info")
		return ""
	}
	return info.URL
}

func (s *rodSession) PageText() (string, error) {
	els, err := s.page.Elements("body")
	if err != nil {
		return "", fmt.Errorf("locate page body: %w", err)
	}
	if len(els) == 0 {
		return "", fmt.Errorf("page has no body")
	}
	text, err := els[0].Text()
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return text, nil
}

func (s *rodSession) PageHTML() (string, error) {
	html, err := s.page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

func (s *rodSession) Find(m Matcher) (Element, bool) {
	for _, el := range s.FindAll(m) {
		if el.Enabled() {
			return el, true
		}
	}
	return nil, false
}

func (s *rodSession) FindAll(m Matcher) []Element {
	var out []Element
	for _, el := range s.lookup(m) {
		wrapped := &rodElement{el: el}
		if !wrapped.Visible() {
			continue
		}
		out = append(out, wrapped)
	}
	return out
}

// lookup resolves a matcher to candidate elements in document order. Selector
// matchers go straight to the DOM; text matchers scan the matcher's tag list
// and compare normalized text, falling back to the value attribute for inputs.
func (s *rodSession) lookup(m Matcher) rod.Elements {
	if m.Selector != "" {
		els, err := s.page.Elements(m.Selector)
		if err != nil {
			log.WithError(err).Debugf("Selector lookup failed: %s", m.Selector)
			return nil
		}
		return els
	}

	els, err := s.page.Elements(strings.Join(m.TextTags(), ", "))
	if err != nil {
		log.WithError(err).Debug("Text candidate lookup failed")
		return nil
	}

	var matched rod.Elements
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			if v, attrErr := el.Attribute("value"); attrErr == nil && v != nil {
				text = *v
			}
		}
		if m.Matches(text) {
			matched = append(matched, el)
		}
	}
	return matched
}

func (s *rodSession) Settle() {
	time.Sleep(s.settle)
}

func (s *rodSession) Close() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			log.WithError(err).Debug("Page close failed")
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			log.WithError(err).Debug("Browser close failed")
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
	}
	log.Debug("Browser session closed")
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click() error {
	_ = e.el.ScrollIntoView()
	if err := e.el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		// Overlays swallow native clicks on some provider pages; a
		// script click still lands.
		if _, evalErr := e.el.Eval(`() => this.click()`); evalErr != nil {
			return fmt.Errorf("click failed: %w", err)
		}
	}
	return nil
}

func (e *rodElement) Submit() error {
	if ctrl, ok := e.Child("input[type=submit], button[type=submit], button"); ok {
		return ctrl.Click()
	}
	if _, err := e.el.Eval(`() => this.submit()`); err != nil {
		return fmt.Errorf("form submit: %w", err)
	}
	return nil
}

func (e *rodElement) Child(selector string) (Element, bool) {
	els, err := e.el.Elements(selector)
	if err != nil || len(els) == 0 {
		return nil, false
	}
	child := &rodElement{el: els[0]}
	if !child.Visible() {
		return nil, false
	}
	return child, true
}

func (e *rodElement) Text() string {
	text, err := e.el.Text()
	if err != nil {
		return ""
	}
	return text
}

func (e *rodElement) Attr(name string) string {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

func (e *rodElement) Visible() bool {
	visible, err := e.el.Visible()
	if err != nil {
		return false
	}
	return visible
}

func (e *rodElement) Enabled() bool {
	// disabled is a boolean attribute, so presence alone counts.
	if v, err := e.el.Attribute("disabled"); err == nil && v != nil {
		return false
	}
	if e.Attr("aria-disabled") == "true" {
		return false
	}
	return true
}
