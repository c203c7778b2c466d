// Package mapper converts the audit engine's raw violations into normalized,
// storage-safe Issue records.
package mapper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/sanitize"
)

// MapFindings produces one Issue per raw violation. Grouping by violation
// rather than by affected node bounds storage growth; per-node detail is
// retained inside Issue.Nodes, each independently sanitized.
//
// The mapping is deterministic for a given input: criteria are deduplicated
// and sorted, and the primary node is always the first reported node. Only
// the Issue ID, a storage key, is freshly generated per run.
func MapFindings(findings []model.RawFinding) []model.Issue {
	issues := make([]model.Issue, 0, len(findings))
	for _, f := range findings {
		issues = append(issues, mapFinding(f))
	}
	return issues
}

func mapFinding(f model.RawFinding) model.Issue {
	issue := model.Issue{
		ID:           uuid.New().String(),
		RuleID:       f.RuleID,
		Impact:       model.ParseImpact(f.Impact),
		WCAGCriteria: extractCriteria(f.RuleID, f.Tags),
		Description:  f.Description,
		Help:         f.Help,
		HelpURL:      f.HelpURL,
		Nodes:        make([]model.IssueNode, 0, len(f.Nodes)),
	}

	for _, n := range f.Nodes {
		issue.Nodes = append(issue.Nodes, model.IssueNode{
			HTML: sanitize.HTML(n.HTML),
			// A multi-entry target means the node sits inside nested
			// frames; the joined path reads outermost first.
			Target:         strings.Join(n.Target, " "),
			FailureSummary: n.FailureSummary,
		})
	}

	if len(issue.Nodes) > 0 {
		issue.CSSSelector = issue.Nodes[0].Target
		issue.HTMLSnippet = issue.Nodes[0].HTML
	}

	return issue
}

// extractCriteria unions criterion IDs parsed from wcagDMP rule tags with
// the static per-rule table, deduplicated and lexicographically sorted.
func extractCriteria(ruleID string, tags []string) []string {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		if m := wcagTagPattern.FindStringSubmatch(tag); m != nil {
			seen[fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3])] = struct{}{}
		}
	}
	for _, c := range ruleCriteria[ruleID] {
		seen[c] = struct{}{}
	}

	criteria := make([]string, 0, len(seen))
	for c := range seen {
		criteria = append(criteria, c)
	}
	sort.Strings(criteria)
	return criteria
}
