package auditor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/browser"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
)

// scriptedPage answers Evaluate calls in order: engine probe, optional
// injection, then the run expression.
type scriptedPage struct {
	loaded bool
	result string
	exprs  []string
}

func (p *scriptedPage) Navigate(ctx context.Context, url string, timeout time.Duration, waitUntil string) (*browser.NavigationResult, error) {
	return nil, nil
}

func (p *scriptedPage) Evaluate(ctx context.Context, expr string, out any) error {
	p.exprs = append(p.exprs, expr)
	switch {
	case strings.Contains(expr, "typeof window.axe"):
		*(out.(*bool)) = p.loaded
		return nil
	case strings.HasPrefix(expr, "axe.run"):
		return json.Unmarshal([]byte(p.result), out)
	default:
		// Engine injection; nothing to return.
		return nil
	}
}

func (p *scriptedPage) Close() error { return nil }

func TestAuditInjectsEngineWhenAbsent(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{loaded: false, result: `{"violations":[],"passes":0,"inapplicable":0}`}
	axe := NewAxeFromSource([]byte("/*bundle*/"), zap.NewNop().Sugar())

	if _, err := axe.Audit(context.Background(), page, model.LevelA.RuleTags()); err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(page.exprs) != 3 {
		t.Fatalf("got %d evaluations, want probe, inject, run", len(page.exprs))
	}
	if page.exprs[1] != "/*bundle*/" {
		t.Errorf("second evaluation should inject the bundle, got %q", page.exprs[1])
	}
}

func TestAuditSkipsInjectionWhenPresent(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{loaded: true, result: `{"violations":[],"passes":4,"inapplicable":1}`}
	axe := NewAxeFromSource([]byte("/*bundle*/"), zap.NewNop().Sugar())

	report, err := axe.Audit(context.Background(), page, model.LevelAA.RuleTags())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(page.exprs) != 2 {
		t.Fatalf("got %d evaluations, want probe and run only", len(page.exprs))
	}
	if report.Passes != 4 || report.Inapplicable != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestAuditScopesRulesByTag(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{loaded: true, result: `{"violations":[],"passes":0,"inapplicable":0}`}
	axe := NewAxeFromSource([]byte("/*bundle*/"), zap.NewNop().Sugar())

	if _, err := axe.Audit(context.Background(), page, []string{"wcag2a", "wcag2aa"}); err != nil {
		t.Fatal(err)
	}
	run := page.exprs[len(page.exprs)-1]
	for _, want := range []string{`"runOnly"`, `"type":"tag"`, `"wcag2a"`, `"wcag2aa"`} {
		if !strings.Contains(run, want) {
			t.Errorf("run expression missing %s: %s", want, run)
		}
	}
}

func TestAuditDecodesViolations(t *testing.T) {
	t.Parallel()

	page := &scriptedPage{loaded: true, result: `{
		"violations": [{
			"id": "color-contrast",
			"impact": "serious",
			"helpUrl": "https://example.com/help",
			"tags": ["wcag2aa", "wcag143"],
			"nodes": [{"html": "<p>x</p>", "target": ["p"], "failureSummary": "fix contrast"}]
		}],
		"passes": 7,
		"inapplicable": 2
	}`}
	axe := NewAxeFromSource([]byte("/*bundle*/"), zap.NewNop().Sugar())

	report, err := axe.Audit(context.Background(), page, model.LevelAA.RuleTags())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(report.Violations))
	}
	v := report.Violations[0]
	if v.RuleID != "color-contrast" || v.Impact != "serious" {
		t.Errorf("violation = %+v", v)
	}
	if len(v.Nodes) != 1 || v.Nodes[0].Target[0] != "p" {
		t.Errorf("nodes = %+v", v.Nodes)
	}
}
