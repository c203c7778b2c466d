// Package scanner executes one accessibility scan attempt: lease a browser
// page, navigate with SSRF checks on both sides of the redirect chain, run
// the pluggable auditor with the requested WCAG ruleset and normalize the
// findings.
package scanner

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/browser"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/mapper"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/ssrf"
)

// Auditor is the pluggable in-page analysis capability. The scanner depends
// only on this shape.
type Auditor interface {
	Audit(ctx context.Context, page browser.Handle, rules []string) (*model.AuditReport, error)
}

// Progress reports a coarse milestone of the attempt, advisory only.
type Progress func(stage string, pct int)

// Milestone percentages surfaced through Progress.
const (
	ProgressNavigating = 25
	ProgressAuditing   = 55
	ProgressMapping    = 85
)

// Scanner runs scan attempts against a shared browser pool.
type Scanner struct {
	pool    *browser.Pool
	auditor Auditor
	logger  *zap.SugaredLogger
}

func New(pool *browser.Pool, auditor Auditor, logger *zap.SugaredLogger) *Scanner {
	return &Scanner{
		pool:    pool,
		auditor: auditor,
		logger:  logger,
	}
}

// Scan performs one attempt. On failure the returned error is always a
// *ScanError; the underlying engine error never escapes unclassified.
// progress may be nil.
func (s *Scanner) Scan(ctx context.Context, req model.ScanRequest, progress Progress) (res *model.ScanResult, err error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	started := time.Now()

	target, perr := url.Parse(req.URL)
	if perr != nil {
		return nil, failuref(FailureNavigation, "parsing target url %q: %w", req.URL, perr)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, failuref(FailureNavigation, "unsupported scheme %q", target.Scheme)
	}
	if ssrf.IsBlockedHostname(target.Hostname()) {
		return nil, failuref(FailureBlockedRedirect, "destination %q is not allowed", target.Hostname())
	}

	lease, aerr := s.pool.Acquire(ctx)
	if aerr != nil {
		return nil, failure(FailureAnalysis, aerr)
	}
	// The acquirer owns the release, on every exit path. A failed attempt
	// releases with the error so the pool disposes the handle instead of
	// recycling it.
	defer func() {
		lease.Release(err)
	}()
	page := lease.Handle()

	progress("navigating", ProgressNavigating)
	nav, nerr := page.Navigate(ctx, req.URL, req.Timeout, req.WaitUntil)
	if nerr != nil {
		if errors.Is(nerr, context.DeadlineExceeded) {
			return nil, failuref(FailureTimeout, "navigation exceeded %s: %w", req.Timeout, nerr)
		}
		return nil, failure(FailureNavigation, nerr)
	}

	// Second guard check, against where the browser actually landed. The
	// pre-navigation check cannot see where a 3xx chain terminates, so
	// this one is the real defense against open-redirect and DNS-rebind
	// SSRF. On violation the audit must not run: the page is already an
	// open connection into a potentially internal destination.
	final, ferr := url.Parse(nav.FinalURL)
	if ferr != nil {
		return nil, failuref(FailureNavigation, "parsing post-redirect url %q: %w", nav.FinalURL, ferr)
	}
	if ssrf.IsBlockedHostname(final.Hostname()) {
		s.logger.Warnw("blocked redirect",
			"scan_id", req.ScanID,
			"requested", req.URL,
			"landed", nav.FinalURL)
		return nil, failuref(FailureBlockedRedirect, "redirected to blocked destination %q", final.Hostname())
	}

	progress("auditing", ProgressAuditing)
	report, auerr := s.auditor.Audit(ctx, page, req.Level.RuleTags())
	if auerr != nil {
		return nil, failure(FailureAnalysis, auerr)
	}

	progress("mapping", ProgressMapping)
	issues := mapper.MapFindings(report.Violations)

	title, lang := pageMetadata(nav.HTML)
	if title == "" {
		title = nav.Title
	}

	return &model.ScanResult{
		FinalURL:     nav.FinalURL,
		Title:        title,
		Language:     lang,
		Issues:       issues,
		Passes:       report.Passes,
		Inapplicable: report.Inapplicable,
		Duration:     time.Since(started),
	}, nil
}

// pageMetadata pulls the title and document language out of the captured
// page HTML. Best effort: unparsable HTML yields empty values.
func pageMetadata(html string) (title, lang string) {
	if html == "" {
		return "", ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	lang, _ = doc.Find("html").First().Attr("lang")
	return title, strings.TrimSpace(lang)
}
