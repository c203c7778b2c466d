package mapper

import "regexp"

// wcagTagPattern matches rule tags of the shape wcagDMP, e.g. wcag143 for
// criterion 1.4.3 and wcag1410 for 1.4.10.
var wcagTagPattern = regexp.MustCompile(`^wcag(\d)(\d)(\d{1,2})$`)

// ruleCriteria maps rule IDs whose tags do not encode a criterion directly
// to their WCAG success criteria.
var ruleCriteria = map[string][]string{
	"area-alt":            {"1.1.1", "2.4.4"},
	"aria-allowed-attr":   {"4.1.2"},
	"aria-command-name":   {"4.1.2"},
	"aria-hidden-focus":   {"4.1.2"},
	"aria-input-field-name": {"4.1.2"},
	"aria-required-attr":  {"4.1.2"},
	"aria-required-children": {"1.3.1"},
	"aria-required-parent": {"1.3.1"},
	"aria-roles":          {"4.1.2"},
	"aria-valid-attr":     {"4.1.2"},
	"aria-valid-attr-value": {"4.1.2"},
	"button-name":         {"4.1.2"},
	"bypass":              {"2.4.1"},
	"color-contrast":      {"1.4.3"},
	"color-contrast-enhanced": {"1.4.6"},
	"definition-list":     {"1.3.1"},
	"dlitem":              {"1.3.1"},
	"document-title":      {"2.4.2"},
	"duplicate-id-aria":   {"4.1.1"},
	"frame-title":         {"2.4.1", "4.1.2"},
	"html-has-lang":       {"3.1.1"},
	"html-lang-valid":     {"3.1.1"},
	"html-xml-lang-mismatch": {"3.1.1"},
	"image-alt":           {"1.1.1"},
	"input-button-name":   {"4.1.2"},
	"input-image-alt":     {"1.1.1"},
	"label":               {"4.1.2"},
	"link-in-text-block":  {"1.4.1"},
	"link-name":           {"2.4.4", "4.1.2"},
	"list":                {"1.3.1"},
	"listitem":            {"1.3.1"},
	"meta-refresh":        {"2.2.1"},
	"meta-viewport":       {"1.4.4"},
	"object-alt":          {"1.1.1"},
	"select-name":         {"4.1.2"},
	"svg-img-alt":         {"1.1.1"},
	"td-headers-attr":     {"1.3.1"},
	"th-has-data-cells":   {"1.3.1"},
	"valid-lang":          {"3.1.2"},
	"video-caption":       {"1.2.2"},
}
