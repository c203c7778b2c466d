// Package auditor provides the in-page accessibility analysis capability.
// The production implementation injects the axe-core bundle into the
// navigated page and runs it against a tag-scoped ruleset; the engine is
// replaceable behind the scanner's Auditor interface.
package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/browser"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
)

// Axe runs the axe-core rule engine inside the page.
type Axe struct {
	script string
	logger *zap.SugaredLogger
}

// NewAxe loads the axe-core bundle from disk. The bundle ships with the
// deployment, not with this repository.
func NewAxe(scriptPath string, logger *zap.SugaredLogger) (*Axe, error) {
	src, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading audit script %q: %w", scriptPath, err)
	}
	return NewAxeFromSource(src, logger), nil
}

// NewAxeFromSource wraps an already-loaded audit bundle.
func NewAxeFromSource(src []byte, logger *zap.SugaredLogger) *Axe {
	return &Axe{script: string(src), logger: logger}
}

// axeResult is the trimmed shape returned by the in-page run expression.
type axeResult struct {
	Violations   []model.RawFinding `json:"violations"`
	Passes       int                `json:"passes"`
	Inapplicable int                `json:"inapplicable"`
}

// Audit injects the engine if the page does not have it yet, then runs it
// restricted to the given rule tags.
func (a *Axe) Audit(ctx context.Context, page browser.Handle, rules []string) (*model.AuditReport, error) {
	var loaded bool
	if err := page.Evaluate(ctx, `typeof window.axe === "object"`, &loaded); err != nil {
		return nil, fmt.Errorf("probing for audit engine: %w", err)
	}
	if !loaded {
		if err := page.Evaluate(ctx, a.script, nil); err != nil {
			return nil, fmt.Errorf("injecting audit engine: %w", err)
		}
	}

	opts, err := json.Marshal(map[string]any{
		"runOnly": map[string]any{
			"type":   "tag",
			"values": rules,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding audit options: %w", err)
	}

	// Passes and inapplicable checks are reduced to counts in-page; only
	// violations travel back in full.
	expr := fmt.Sprintf(`axe.run(document, %s).then(r => ({
		violations: r.violations,
		passes: r.passes.length,
		inapplicable: r.inapplicable.length
	}))`, opts)

	var res axeResult
	if err := page.Evaluate(ctx, expr, &res); err != nil {
		return nil, fmt.Errorf("running audit: %w", err)
	}

	a.logger.Debugw("audit complete",
		"violations", len(res.Violations),
		"passes", res.Passes,
		"inapplicable", res.Inapplicable)

	return &model.AuditReport{
		Violations:   res.Violations,
		Passes:       res.Passes,
		Inapplicable: res.Inapplicable,
	}, nil
}
