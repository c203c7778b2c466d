// Package model holds the domain types shared across the scan pipeline.
package model

import (
	"strings"
	"time"
)

// Impact is the normalized severity of an accessibility issue.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// impactRank is the single ordering authority: higher rank means more severe.
// All sorting and summary counting derives from it.
var impactRank = map[Impact]int{
	ImpactCritical: 4,
	ImpactSerious:  3,
	ImpactModerate: 2,
	ImpactMinor:    1,
}

// Impacts lists all impacts from most to least severe.
var Impacts = []Impact{ImpactCritical, ImpactSerious, ImpactModerate, ImpactMinor}

// Rank returns the severity rank of the impact. Unknown impacts rank as moderate.
func (i Impact) Rank() int {
	if r, ok := impactRank[i]; ok {
		return r
	}
	return impactRank[ImpactModerate]
}

// ParseImpact normalizes a raw engine impact string. It is total: any value
// outside the known set, including the empty string, maps to moderate.
func ParseImpact(raw string) Impact {
	switch Impact(strings.ToLower(strings.TrimSpace(raw))) {
	case ImpactCritical:
		return ImpactCritical
	case ImpactSerious:
		return ImpactSerious
	case ImpactModerate:
		return ImpactModerate
	case ImpactMinor:
		return ImpactMinor
	default:
		return ImpactModerate
	}
}

// WCAGLevel is a WCAG conformance tier. Higher tiers include all lower tiers.
type WCAGLevel string

const (
	LevelA   WCAGLevel = "A"
	LevelAA  WCAGLevel = "AA"
	LevelAAA WCAGLevel = "AAA"
)

var (
	tagsLevelA   = []string{"wcag2a", "wcag21a", "wcag22a"}
	tagsLevelAA  = []string{"wcag2aa", "wcag21aa", "wcag22aa"}
	tagsLevelAAA = []string{"wcag2aaa", "wcag21aaa", "wcag22aaa"}
)

// ParseWCAGLevel reads a level string case-insensitively, defaulting to AA.
func ParseWCAGLevel(raw string) WCAGLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A":
		return LevelA
	case "AAA":
		return LevelAAA
	default:
		return LevelAA
	}
}

// RuleTags returns the audit rule tags for the level. Tiers are cumulative,
// and every WCAG revision's tag for a tier is included together: a page must
// satisfy each applicable revision at the requested level.
func (l WCAGLevel) RuleTags() []string {
	tags := make([]string, 0, len(tagsLevelA)+len(tagsLevelAA)+len(tagsLevelAAA))
	tags = append(tags, tagsLevelA...)
	if l == LevelAA || l == LevelAAA {
		tags = append(tags, tagsLevelAA...)
	}
	if l == LevelAAA {
		tags = append(tags, tagsLevelAAA...)
	}
	return tags
}

// ScanStatus is the lifecycle state of one scan attempt. Completed and
// failed are terminal.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ScanRequest describes one scan attempt. It is immutable once created.
type ScanRequest struct {
	ScanID    string
	URL       string
	Level     WCAGLevel
	Timeout   time.Duration
	WaitUntil string
}

// JobPayload is the wire shape delivered by the durable queue.
type JobPayload struct {
	ScanID         string `json:"scanId"`
	URL            string `json:"url"`
	WCAGLevel      string `json:"wcagLevel"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

// RawNode is one affected DOM node as reported by the audit engine.
// Target holds a selector path; more than one entry means the node lives
// inside nested frames.
type RawNode struct {
	HTML           string   `json:"html"`
	Target         []string `json:"target"`
	FailureSummary string   `json:"failureSummary"`
}

// RawFinding is one rule violation as reported by the audit engine. It is
// ephemeral: consumed once by the mapper and never persisted.
type RawFinding struct {
	RuleID      string    `json:"id"`
	Impact      string    `json:"impact"`
	Description string    `json:"description"`
	Help        string    `json:"help"`
	HelpURL     string    `json:"helpUrl"`
	Tags        []string  `json:"tags"`
	Nodes       []RawNode `json:"nodes"`
}

// AuditReport is the auditor's output for one page.
type AuditReport struct {
	Violations   []RawFinding
	Passes       int
	Inapplicable int
}

// IssueNode is one sanitized affected node retained inside an Issue.
type IssueNode struct {
	HTML           string `json:"html"`
	Target         string `json:"target"`
	FailureSummary string `json:"failureSummary,omitempty"`
}

// Issue is the normalized, persisted form of one RawFinding. One Issue per
// violation, not per node; per-node detail stays in Nodes.
type Issue struct {
	ID           string      `json:"id"`
	RuleID       string      `json:"ruleId"`
	Impact       Impact      `json:"impact"`
	WCAGCriteria []string    `json:"wcagCriteria"`
	Description  string      `json:"description"`
	Help         string      `json:"help"`
	HelpURL      string      `json:"helpUrl"`
	CSSSelector  string      `json:"cssSelector"`
	HTMLSnippet  string      `json:"htmlSnippet"`
	Nodes        []IssueNode `json:"nodes"`
}

// ScanResult is a successful scan outcome.
type ScanResult struct {
	FinalURL     string
	Title        string
	Language     string
	Issues       []Issue
	Passes       int
	Inapplicable int
	Duration     time.Duration
}

// CountByImpact tallies issues per impact, derived from the canonical set.
func CountByImpact(issues []Issue) map[Impact]int {
	counts := make(map[Impact]int, len(Impacts))
	for _, imp := range Impacts {
		counts[imp] = 0
	}
	for _, is := range issues {
		counts[is.Impact]++
	}
	return counts
}
