package flows

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"go-chatlink-download/internal/browser"
	"go-chatlink-download/internal/completion"
	"go-chatlink-download/internal/models"
)

const (
	driveDirectURL = "https://drive.google.com/uc?export=download&id=%s"
	// Some accounts only serve the file through the user-scoped endpoint.
	driveAltURL = "https://drive.google.com/u/0/uc?export=download&id=%s"
)

var (
	driveFilePathID   = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveConfirmToken = regexp.MustCompile(`confirm=([a-zA-Z0-9_-]+)`)
)

// driveConfirmStep covers the confirm controls the virus-scan interstitial
// has rendered across page generations, most specific first. Controls whose
// href already carries a confirm token are navigated to directly.
var driveConfirmStep = Step{
	Name: "confirm download",
	Matchers: []browser.Matcher{
		{Selector: "a#uc-download-link"},
		{Selector: "a[id*='download-link']"},
		{Selector: "form[id='download-form'] button"},
		{Selector: "form[id='downloadForm'] button"},
		{Selector: "input[name='confirm']"},
		{Selector: "button[aria-label*='Download']"},
		{Selector: "a[href*='confirm=t']"},
		{Selector: "a[href*='confirm=no_antivirus']"},
		{Selector: "form[action*='confirm'] button"},
		{Selector: "form[method='post'] button[type='submit']"},
		{Selector: "#download-form input[type='submit']"},
		{Selector: ".uc-error-subcaption a"},
		{Selector: "noscript a[href*='confirm']"},
	},
	FollowHref: "confirm=",
}

// driveLabelStep matches interstitial variants with no stable markup at all.
var driveLabelStep = Step{
	Name: "confirm by label",
	Matchers: []browser.Matcher{
		{Text: "download anyway"},
		{Text: "download"},
		{Text: "proceed"},
		{Text: "confirm"},
	},
}

var driveFormMatchers = []browser.Matcher{
	{Selector: "form[action*='confirm']"},
	{Selector: "form[action*='download']"},
}

type pageClass int

const (
	pageNormal pageClass = iota
	pageVirusWarning
	pageQuotaExceeded
	pageAccessDenied
)

// DriveFlow downloads a file shared through a Drive link by resolving the
// file id, hitting the direct-download endpoint and working through the
// virus-scan interstitial when one appears.
type DriveFlow struct {
	wait time.Duration
}

func NewDriveFlow(cfg models.Config) *DriveFlow {
	return &DriveFlow{wait: time.Duration(cfg.DriveWaitSec) * time.Second}
}

func (f *DriveFlow) Provider() string { return models.ProviderDrive }

func (f *DriveFlow) Run(sess browser.Session, link models.Link, await AwaitFunc) ([]string, error) {
	if err := sess.Navigate(link.URL); err != nil {
		return nil, fmt.Errorf("open share page: %w", err)
	}

	fileID, err := extractDriveFileID(link.URL, sess.CurrentURL())
	if err != nil {
		return nil, err
	}
	log.WithField("fileID", fileID).Debug("Resolved drive file id")

	directURL := fmt.Sprintf(driveDirectURL, fileID)
	if err := sess.Navigate(directURL); err != nil {
		return nil, fmt.Errorf("open direct download url: %w", err)
	}

	text, err := sess.PageText()
	if err != nil {
		log.WithError(err).Debug("Could not read download page text")
	}
	switch classifyDrivePage(text) {
	case pageQuotaExceeded:
		return nil, fmt.Errorf("%w: download quota exceeded for this file", ErrProviderPolicy)
	case pageAccessDenied:
		return nil, fmt.Errorf("%w: access to this file is restricted", ErrProviderPolicy)
	case pageVirusWarning:
		log.Info("Virus scan interstitial detected, confirming download")
		if err := f.bypassVirusWarning(sess, fileID); err != nil {
			return nil, err
		}
	}

	files, err := await(f.wait)
	if err == nil {
		return files, nil
	}
	if !errors.Is(err, completion.ErrTimeout) {
		return nil, err
	}

	altURL := fmt.Sprintf(driveAltURL, fileID)
	log.WithField("url", altURL).Debug("Nothing landed, retrying via user-scoped endpoint")
	if err := sess.Navigate(altURL); err != nil {
		return nil, fmt.Errorf("open alternate download url: %w", err)
	}
	return await(f.wait)
}

// bypassVirusWarning works down a ladder of confirmation tactics. The first
// one that lands wins; the download itself is verified by the caller's
// completion wait.
func (f *DriveFlow) bypassVirusWarning(sess browser.Session, fileID string) error {
	if err := applyStep(sess, driveConfirmStep); err == nil {
		return nil
	}

	if submitConfirmForm(sess) {
		return nil
	}

	if err := applyStep(sess, driveLabelStep); err == nil {
		return nil
	}

	if navigateWithConfirmToken(sess, fileID) {
		return nil
	}

	return fmt.Errorf("%w: virus scan interstitial could not be confirmed", ErrFlowNavigation)
}

// submitConfirmForm submits a confirm form directly for interstitial
// variants that render the form without a usable button.
func submitConfirmForm(sess browser.Session) bool {
	for _, m := range driveFormMatchers {
		for _, form := range sess.FindAll(m) {
			if err := form.Submit(); err != nil {
				log.WithError(err).Debug("Confirm form submit failed")
				continue
			}
			log.Debug("Submitted confirm form")
			return true
		}
	}
	return false
}

// navigateWithConfirmToken pulls a confirm token out of the page markup and
// requests the download endpoint with it, defaulting to the legacy "t" token
// when none is present.
func navigateWithConfirmToken(sess browser.Session, fileID string) bool {
	token := "t"
	if html, err := sess.PageHTML(); err == nil {
		if m := driveConfirmToken.FindStringSubmatch(html); m != nil {
			token = m[1]
		}
	}

	confirmURL := fmt.Sprintf("https://drive.google.com/uc?export=download&confirm=%s&id=%s", token, fileID)
	if err := sess.Navigate(confirmURL); err != nil {
		log.WithError(err).Debugf("Confirm token navigation failed: %s", confirmURL)
		return false
	}
	log.Debugf("Requested download with confirm token %q", token)
	return true
}

// extractDriveFileID resolves the file id from the share link itself, then
// from wherever the share page redirected to.
func extractDriveFileID(originalURL, currentURL string) (string, error) {
	if m := driveFilePathID.FindStringSubmatch(originalURL); m != nil {
		return m[1], nil
	}
	if m := driveFilePathID.FindStringSubmatch(currentURL); m != nil {
		return m[1], nil
	}
	if u, err := url.Parse(currentURL); err == nil {
		if id := u.Query().Get("id"); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrExtraction, originalURL)
}

func classifyDrivePage(text string) pageClass {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "download quota") ||
		strings.Contains(t, "quota exceeded") ||
		strings.Contains(t, "too many users have viewed or downloaded"):
		return pageQuotaExceeded
	case strings.Contains(t, "access denied") ||
		strings.Contains(t, "you need access") ||
		strings.Contains(t, "request access"):
		return pageAccessDenied
	case strings.Contains(t, "virus scan warning") ||
		strings.Contains(t, "can't scan this file for viruses"):
		return pageVirusWarning
	default:
		return pageNormal
	}
}
