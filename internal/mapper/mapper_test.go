package mapper

import (
	"reflect"
	"strings"
	"testing"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
)

func TestMapFindings(t *testing.T) {
	t.Parallel()

	findings := []model.RawFinding{
		{
			RuleID:      "color-contrast",
			Impact:      "serious",
			Description: "Elements must meet minimum color contrast ratio thresholds",
			Help:        "Elements must have sufficient color contrast",
			HelpURL:     "https://dequeuniversity.com/rules/axe/4.8/color-contrast",
			Tags:        []string{"cat.color", "wcag2aa", "wcag143"},
			Nodes: []model.RawNode{
				{
					HTML:           `<p class="faint">low contrast</p>`,
					Target:         []string{"p.faint"},
					FailureSummary: "Fix any of the following: contrast of 2.5",
				},
				{
					HTML:   `<span class="faint">also low</span>`,
					Target: []string{"#widget", "span.faint"},
				},
			},
		},
		{
			RuleID:  "image-alt",
			Impact:  "critical",
			Tags:    []string{"cat.text-alternatives", "wcag2a", "wcag111"},
			HelpURL: "https://dequeuniversity.com/rules/axe/4.8/image-alt",
			Nodes: []model.RawNode{
				{HTML: `<img src="logo.png">`, Target: []string{"img"}},
			},
		},
	}

	issues := MapFindings(findings)
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(issues))
	}

	contrast := issues[0]
	if contrast.RuleID != "color-contrast" {
		t.Errorf("RuleID = %q", contrast.RuleID)
	}
	if contrast.Impact != model.ImpactSerious {
		t.Errorf("Impact = %q, want serious", contrast.Impact)
	}
	if !reflect.DeepEqual(contrast.WCAGCriteria, []string{"1.4.3"}) {
		t.Errorf("WCAGCriteria = %v, want [1.4.3]", contrast.WCAGCriteria)
	}
	if len(contrast.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(contrast.Nodes))
	}
	if contrast.CSSSelector != "p.faint" {
		t.Errorf("CSSSelector = %q, want primary node selector", contrast.CSSSelector)
	}
	if contrast.Nodes[1].Target != "#widget span.faint" {
		t.Errorf("frame path target = %q, want space-joined", contrast.Nodes[1].Target)
	}
	if contrast.HTMLSnippet != contrast.Nodes[0].HTML {
		t.Errorf("HTMLSnippet = %q, want primary node html", contrast.HTMLSnippet)
	}

	alt := issues[1]
	if alt.Impact != model.ImpactCritical {
		t.Errorf("Impact = %q, want critical", alt.Impact)
	}
	if !reflect.DeepEqual(alt.WCAGCriteria, []string{"1.1.1"}) {
		t.Errorf("WCAGCriteria = %v, want [1.1.1]", alt.WCAGCriteria)
	}

	if contrast.ID == alt.ID || contrast.ID == "" {
		t.Errorf("issue IDs must be distinct and non-empty: %q, %q", contrast.ID, alt.ID)
	}
}

func TestMapFindingsSanitizesNodeHTML(t *testing.T) {
	t.Parallel()

	issues := MapFindings([]model.RawFinding{{
		RuleID: "label",
		Impact: "critical",
		Nodes: []model.RawNode{{
			HTML:   `<input onfocus="steal()" type="text"><script>x()</script>`,
			Target: []string{"input"},
		}},
	}})

	got := issues[0].Nodes[0].HTML
	if strings.Contains(got, "onfocus") || strings.Contains(got, "<script") {
		t.Errorf("node html not sanitized: %q", got)
	}
}

func TestMapFindingsUnknownImpactDefaultsModerate(t *testing.T) {
	t.Parallel()

	issues := MapFindings([]model.RawFinding{
		{RuleID: "bypass", Impact: ""},
		{RuleID: "bypass", Impact: "catastrophic"},
	})
	for i, is := range issues {
		if is.Impact != model.ImpactModerate {
			t.Errorf("issue %d: Impact = %q, want moderate", i, is.Impact)
		}
	}
}

func TestExtractCriteria(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ruleID string
		tags   []string
		want   []string
	}{
		{
			name: "single digit criterion from tag",
			tags: []string{"wcag143"},
			want: []string{"1.4.3"},
		},
		{
			name: "two digit final segment",
			tags: []string{"wcag1410"},
			want: []string{"1.4.10"},
		},
		{
			name: "non-criterion tags ignored",
			tags: []string{"wcag2aa", "cat.color", "ACT"},
			want: []string{},
		},
		{
			name:   "static table fallback",
			ruleID: "frame-title",
			tags:   []string{"wcag2a"},
			want:   []string{"2.4.1", "4.1.2"},
		},
		{
			name:   "tag and table union deduplicated",
			ruleID: "color-contrast",
			tags:   []string{"wcag143"},
			want:   []string{"1.4.3"},
		},
		{
			name: "multiple tags sorted",
			tags: []string{"wcag412", "wcag131"},
			want: []string{"1.3.1", "4.1.2"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := extractCriteria(tt.ruleID, tt.tags)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractCriteria(%q, %v) = %v, want %v",
					tt.ruleID, tt.tags, got, tt.want)
			}
		})
	}
}
