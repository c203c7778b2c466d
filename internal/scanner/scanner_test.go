package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/browser"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
)

type stubHandle struct {
	navResult *browser.NavigationResult
	navErr    error
	closed    atomic.Bool
}

func (s *stubHandle) Navigate(ctx context.Context, url string, timeout time.Duration, waitUntil string) (*browser.NavigationResult, error) {
	if s.navErr != nil {
		return nil, s.navErr
	}
	if s.navResult != nil {
		return s.navResult, nil
	}
	return &browser.NavigationResult{FinalURL: url}, nil
}

func (s *stubHandle) Evaluate(ctx context.Context, expr string, out any) error { return nil }

func (s *stubHandle) Close() error {
	s.closed.Store(true)
	return nil
}

type stubAuditor struct {
	calls  atomic.Int32
	report *model.AuditReport
	err    error
	rules  []string
}

func (a *stubAuditor) Audit(ctx context.Context, page browser.Handle, rules []string) (*model.AuditReport, error) {
	a.calls.Add(1)
	a.rules = rules
	if a.err != nil {
		return nil, a.err
	}
	if a.report != nil {
		return a.report, nil
	}
	return &model.AuditReport{}, nil
}

func newTestScanner(t *testing.T, h *stubHandle, a *stubAuditor) *Scanner {
	t.Helper()
	pool := browser.NewPool(1, func(ctx context.Context) (browser.Handle, error) {
		return h, nil
	}, zap.NewNop().Sugar())
	t.Cleanup(pool.Close)
	return New(pool, a, zap.NewNop().Sugar())
}

func request(rawURL string) model.ScanRequest {
	return model.ScanRequest{
		ScanID:  "scan-1",
		URL:     rawURL,
		Level:   model.LevelAA,
		Timeout: 5 * time.Second,
	}
}

func failureKind(t *testing.T, err error) FailureKind {
	t.Helper()
	var serr *ScanError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v is not a *ScanError", err)
	}
	return serr.Kind
}

func TestScanSuccess(t *testing.T) {
	t.Parallel()

	handle := &stubHandle{navResult: &browser.NavigationResult{
		FinalURL: "https://example.com/start",
		Title:    "Fallback",
		HTML:     `<html lang="en"><head><title>Example Site</title></head><body></body></html>`,
	}}
	aud := &stubAuditor{report: &model.AuditReport{
		Violations: []model.RawFinding{{
			RuleID: "image-alt",
			Impact: "critical",
			Tags:   []string{"wcag111"},
			Nodes:  []model.RawNode{{HTML: "<img>", Target: []string{"img"}}},
		}},
		Passes:       12,
		Inapplicable: 3,
	}}
	s := newTestScanner(t, handle, aud)

	var stages []string
	res, err := s.Scan(context.Background(), request("https://example.com"), func(stage string, pct int) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Title != "Example Site" {
		t.Errorf("Title = %q, want parsed document title", res.Title)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if res.FinalURL != "https://example.com/start" {
		t.Errorf("FinalURL = %q", res.FinalURL)
	}
	if len(res.Issues) != 1 || res.Issues[0].RuleID != "image-alt" {
		t.Errorf("Issues = %+v, want mapped image-alt finding", res.Issues)
	}
	if res.Passes != 12 || res.Inapplicable != 3 {
		t.Errorf("Passes/Inapplicable = %d/%d", res.Passes, res.Inapplicable)
	}
	if len(stages) != 3 {
		t.Errorf("progress stages = %v, want navigating, auditing, mapping", stages)
	}
	if handle.closed.Load() {
		t.Error("handle should be recycled after a clean scan, not closed")
	}

	wantRules := model.LevelAA.RuleTags()
	if len(aud.rules) != len(wantRules) {
		t.Errorf("auditor rules = %v, want %v", aud.rules, wantRules)
	}
}

func TestScanBlocksMetadataEndpointBeforeNavigation(t *testing.T) {
	t.Parallel()

	aud := &stubAuditor{}
	s := newTestScanner(t, &stubHandle{}, aud)

	_, err := s.Scan(context.Background(), request("http://169.254.169.254/latest/meta-data/"), nil)
	if kind := failureKind(t, err); kind != FailureBlockedRedirect {
		t.Errorf("kind = %q, want BLOCKED_REDIRECT", kind)
	}
	if aud.calls.Load() != 0 {
		t.Error("auditor must not run against a blocked destination")
	}
}

func TestScanBlocksRedirectToInternalHost(t *testing.T) {
	t.Parallel()

	handle := &stubHandle{navResult: &browser.NavigationResult{
		FinalURL: "http://db.internal/admin",
	}}
	aud := &stubAuditor{}
	s := newTestScanner(t, handle, aud)

	_, err := s.Scan(context.Background(), request("https://example.com/go"), nil)
	if kind := failureKind(t, err); kind != FailureBlockedRedirect {
		t.Errorf("kind = %q, want BLOCKED_REDIRECT", kind)
	}
	if aud.calls.Load() != 0 {
		t.Error("auditor must not run after a blocked redirect")
	}
	if !handle.closed.Load() {
		t.Error("handle from a failed attempt should be disposed")
	}
}

func TestScanClassifiesTimeout(t *testing.T) {
	t.Parallel()

	handle := &stubHandle{navErr: context.DeadlineExceeded}
	s := newTestScanner(t, handle, &stubAuditor{})

	_, err := s.Scan(context.Background(), request("https://slow.example.com"), nil)
	if kind := failureKind(t, err); kind != FailureTimeout {
		t.Errorf("kind = %q, want TIMEOUT", kind)
	}
}

func TestScanClassifiesNavigationError(t *testing.T) {
	t.Parallel()

	handle := &stubHandle{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	s := newTestScanner(t, handle, &stubAuditor{})

	_, err := s.Scan(context.Background(), request("https://no-such-host.example.com"), nil)
	if kind := failureKind(t, err); kind != FailureNavigation {
		t.Errorf("kind = %q, want NAVIGATION_FAILED", kind)
	}
}

func TestScanClassifiesAuditorError(t *testing.T) {
	t.Parallel()

	aud := &stubAuditor{err: errors.New("script threw")}
	s := newTestScanner(t, &stubHandle{}, aud)

	_, err := s.Scan(context.Background(), request("https://example.com"), nil)
	if kind := failureKind(t, err); kind != FailureAnalysis {
		t.Errorf("kind = %q, want ANALYSIS_FAILED", kind)
	}
}

func TestScanRejectsUnsupportedScheme(t *testing.T) {
	t.Parallel()

	s := newTestScanner(t, &stubHandle{}, &stubAuditor{})
	_, err := s.Scan(context.Background(), request("ftp://example.com/file"), nil)
	if kind := failureKind(t, err); kind != FailureNavigation {
		t.Errorf("kind = %q, want NAVIGATION_FAILED", kind)
	}
}

func TestFailureKindRetriable(t *testing.T) {
	t.Parallel()

	for kind, want := range map[FailureKind]bool{
		FailureTimeout:         true,
		FailureNavigation:      true,
		FailureAnalysis:        true,
		FailurePersistence:     true,
		FailureBlockedRedirect: false,
	} {
		if got := kind.Retriable(); got != want {
			t.Errorf("Retriable(%q) = %v, want %v", kind, got, want)
		}
	}
}
