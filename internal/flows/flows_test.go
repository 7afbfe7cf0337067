package flows

import (
	"errors"
	"slices"
	"testing"

	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/models"
)

// fakeElement satisfies browser.Element. Selector matching is declarative:
// the element lists the selectors it would match.
type fakeElement struct {
	tag       string
	text      string
	attrs     map[string]string
	selectors []string
	hidden    bool
	disabled  bool
	clickErr  error
	submitErr error
	clicks    int
	submits   int
	onClick   func()
}

func (e *fakeElement) Click() error {
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Submit() error {
	if e.submitErr != nil {
		return e.submitErr
	}
	e.submits++
	return nil
}

func (e *fakeElement) Child(string) (browser.Element, bool) { return nil, false }
func (e *fakeElement) Text() string                         { return e.text }
func (e *fakeElement) Attr(name string) string              { return e.attrs[name] }
func (e *fakeElement) Visible() bool                        { return !e.hidden }
func (e *fakeElement) Enabled() bool                        { return !e.disabled }

type fakePage struct {
	text string
	html string
	els  []*fakeElement
}

// fakeSession serves canned pages keyed by the URL the session lands on.
// A redirect entry makes Navigate report a different current URL, the way a
// share link resolves to a viewer URL.
type fakeSession struct {
	pages     map[string]*fakePage
	redirects map[string]string
	navErr    map[string]error
	current   string
	visited   []string
	settles   int
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		pages:     map[string]*fakePage{},
		redirects: map[string]string{},
		navErr:    map[string]error{},
	}
}

func (s *fakeSession) page() *fakePage {
	if p, ok := s.pages[s.current]; ok {
		return p
	}
	return &fakePage{}
}

func (s *fakeSession) Navigate(url string) error {
	if err := s.navErr[url]; err != nil {
		return err
	}
	s.visited = append(s.visited, url)
	s.current = url
	if to, ok := s.redirects[url]; ok {
		s.current = to
	}
	return nil
}

func (s *fakeSession) CurrentURL() string        { return s.current }
func (s *fakeSession) PageText() (string, error) { return s.page().text, nil }
func (s *fakeSession) PageHTML() (string, error) { return s.page().html, nil }
func (s *fakeSession) Settle()                   { s.settles++ }
func (s *fakeSession) Close()                    { s.closed = true }

func (s *fakeSession) Find(m browser.Matcher) (browser.Element, bool) {
	for _, el := range s.FindAll(m) {
		if el.Enabled() {
			return el, true
		}
	}
	return nil, false
}

func (s *fakeSession) FindAll(m browser.Matcher) []browser.Element {
	var out []browser.Element
	for _, el := range s.page().els {
		if !el.Visible() {
			continue
		}
		if m.Selector != "" {
			if slices.Contains(el.selectors, m.Selector) {
				out = append(out, el)
			}
			continue
		}
		if !slices.Contains(m.TextTags(), el.tag) {
			continue
		}
		if m.Matches(el.text) {
			out = append(out, el)
		}
	}
	return out
}

func TestApplyStepOrderAndFallthrough(t *testing.T) {
	t.Run("first matcher wins", func(t *testing.T) {
		first := &fakeElement{selectors: []string{"a#one"}}
		second := &fakeElement{selectors: []string{"a#two"}}
		sess := newFakeSession()
		sess.pages[""] = &fakePage{els: []*fakeElement{first, second}}

		step := Step{Name: "pick", Matchers: []browser.Matcher{
			{Selector: "a#one"},
			{Selector: "a#two"},
		}}
		if err := applyStep(sess, step); err != nil {
			t.Fatalf("applyStep: %v", err)
		}
		if first.clicks != 1 || second.clicks != 0 {
			t.Errorf("expected only first clicked, got %d/%d", first.clicks, second.clicks)
		}
	})

	t.Run("click failure falls through", func(t *testing.T) {
		broken := &fakeElement{selectors: []string{"a#one"}, clickErr: errors.New("covered")}
		working := &fakeElement{selectors: []string{"a#two"}}
		sess := newFakeSession()
		sess.pages[""] = &fakePage{els: []*fakeElement{broken, working}}

		step := Step{Name: "pick", Matchers: []browser.Matcher{
			{Selector: "a#one"},
			{Selector: "a#two"},
		}}
		if err := applyStep(sess, step); err != nil {
			t.Fatalf("applyStep: %v", err)
		}
		if working.clicks != 1 {
			t.Errorf("expected fallthrough click, got %d", working.clicks)
		}
	})

	t.Run("hidden and disabled are skipped", func(t *testing.T) {
		hidden := &fakeElement{selectors: []string{"a#one"}, hidden: true}
		disabled := &fakeElement{selectors: []string{"a#one"}, disabled: true}
		usable := &fakeElement{selectors: []string{"a#one"}}
		sess := newFakeSession()
		sess.pages[""] = &fakePage{els: []*fakeElement{hidden, disabled, usable}}

		step := Step{Name: "pick", Matchers: []browser.Matcher{{Selector: "a#one"}}}
		if err := applyStep(sess, step); err != nil {
			t.Fatalf("applyStep: %v", err)
		}
		if usable.clicks != 1 || hidden.clicks != 0 || disabled.clicks != 0 {
			t.Error("expected only the usable element clicked")
		}
	})

	t.Run("follow href instead of click", func(t *testing.T) {
		link := &fakeElement{
			selectors: []string{"a#one"},
			attrs:     map[string]string{"href": "https://example.com/dl?confirm=abc"},
		}
		sess := newFakeSession()
		sess.pages[""] = &fakePage{els: []*fakeElement{link}}

		step := Step{Name: "follow", Matchers: []browser.Matcher{{Selector: "a#one"}}, FollowHref: "confirm="}
		if err := applyStep(sess, step); err != nil {
			t.Fatalf("applyStep: %v", err)
		}
		if link.clicks != 0 {
			t.Errorf("expected navigation, not a click")
		}
		if len(sess.visited) != 1 || sess.visited[0] != "https://example.com/dl?confirm=abc" {
			t.Errorf("unexpected visits %v", sess.visited)
		}
	})

	t.Run("optional miss is silent", func(t *testing.T) {
		sess := newFakeSession()
		step := Step{Name: "maybe", Optional: true, Matchers: []browser.Matcher{{Selector: "a#one"}}}
		if err := applyStep(sess, step); err != nil {
			t.Fatalf("optional step should not fail: %v", err)
		}
	})

	t.Run("required miss is a navigation error", func(t *testing.T) {
		sess := newFakeSession()
		step := Step{Name: "must", Matchers: []browser.Matcher{{Selector: "a#one"}}}
		err := applyStep(sess, step)
		if !errors.Is(err, ErrFlowNavigation) {
			t.Fatalf("expected ErrFlowNavigation, got %v", err)
		}
	})
}

func TestForProvider(t *testing.T) {
	cfg := models.DefaultConfig()

	drive, err := ForProvider(models.ProviderDrive, cfg)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if drive.Provider() != models.ProviderDrive {
		t.Errorf("drive driver reports %q", drive.Provider())
	}

	wt, err := ForProvider(models.ProviderWeTransfer, cfg)
	if err != nil {
		t.Fatalf("wetransfer: %v", err)
	}
	if wt.Provider() != models.ProviderWeTransfer {
		t.Errorf("wetransfer driver reports %q", wt.Provider())
	}

	if _, err := ForProvider("mega", cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}
