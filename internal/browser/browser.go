// Package browser defines the automation capability the provider flows drive.
// Flows depend only on these interfaces; the rod-backed implementation lives
// beside them and an in-memory fake stands in for it under test.
package browser

import "strings"

// Matcher describes one way of locating a page element. Exactly one of
// Selector, Text or ExactText should be set. Text matching is
// case-insensitive and whitespace-normalized; AvoidText rejects candidates
// whose text contains the given fragment even when they otherwise match.
type Matcher struct {
	Selector  string   // CSS selector
	Text      string   // substring of the element's visible text
	ExactText string   // whole normalized text equals this
	AvoidText string   // reject matches containing this fragment
	Tags      []string // tags scanned for text matching, defaults to a, button, input
}

// DefaultTextTags are the element tags consulted when a text matcher does not
// name its own.
var DefaultTextTags = []string{"a", "button", "input"}

// NormalizeText lowercases and collapses whitespace the way text matchers
// expect to compare.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Matches reports whether an element's visible text satisfies the matcher's
// text constraints. Selector matchers are resolved by the session instead.
func (m Matcher) Matches(text string) bool {
	norm := NormalizeText(text)
	if m.AvoidText != "" && strings.Contains(norm, NormalizeText(m.AvoidText)) {
		return false
	}
	if m.ExactText != "" {
		return norm == NormalizeText(m.ExactText)
	}
	if m.Text != "" {
		return strings.Contains(norm, NormalizeText(m.Text))
	}
	return false
}

// TextTags returns the tag list to scan for a text matcher.
func (m Matcher) TextTags() []string {
	if len(m.Tags) > 0 {
		return m.Tags
	}
	return DefaultTextTags
}

// Element is a located page element. Lookups never hold live references for
// long: flows locate, act, and move on.
type Element interface {
	// Click activates the element, falling back to a script click when a
	// native one is refused.
	Click() error
	// Submit submits the form the element represents or belongs to.
	Submit() error
	// Child locates a descendant by CSS selector.
	Child(selector string) (Element, bool)
	Text() string
	// Attr returns the attribute value, or "" when absent.
	Attr(name string) string
	Visible() bool
	Enabled() bool
}

// Session is one browser tab bound to one download attempt. Every method is
// synchronous. Sessions are never shared between attempts and must be closed
// on every exit path.
type Session interface {
	Navigate(url string) error
	CurrentURL() string
	// PageText returns the rendered text of the page body.
	PageText() (string, error)
	// PageHTML returns the raw markup, used for token extraction.
	PageHTML() (string, error)
	// Find returns the first visible and enabled element matching m, in
	// document order. A miss is not an error.
	Find(m Matcher) (Element, bool)
	// FindAll returns every visible element matching m, in document order.
	FindAll(m Matcher) []Element
	// Settle gives dynamic page content a beat to render.
	Settle()
	Close()
}

// Factory creates a fresh session per download attempt. The orchestrator
// owns construction and teardown; tests substitute fakes.
type Factory func() (Session, error)
