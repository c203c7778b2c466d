// Package sanitize cleans untrusted page fragments before they reach storage
// or rendered reports. The policy is a strict allow-list: semantic and
// interactive elements, layout/identity attributes and the ARIA surface.
// Scripts, styles, event handlers, data-* attributes and non-http(s) URL
// schemes never survive.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxHTMLLength caps a sanitized snippet. Output never exceeds
	// MaxHTMLLength + len(TruncationMarker) bytes.
	MaxHTMLLength = 1024

	// TruncationMarker is appended whenever a snippet was cut.
	TruncationMarker = "... [truncated]"
)

var allowedTags = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"p", "span", "div", "br", "hr",
	"strong", "em", "b", "i", "small", "code", "pre", "blockquote",
	"ul", "ol", "li", "dl", "dt", "dd",
	"table", "caption", "thead", "tbody", "tfoot", "tr", "th", "td",
	"form", "fieldset", "legend", "label",
	"input", "select", "option", "optgroup", "textarea", "button",
	"a", "img",
	"main", "nav", "header", "footer", "section", "article", "aside", "figure", "figcaption",
}

var allowedAttrs = []string{
	"id", "class", "name", "title", "lang", "dir", "role", "tabindex",
	"href", "src", "alt", "width", "height",
	"type", "value", "placeholder", "for", "checked", "selected", "disabled",
	"readonly", "required", "colspan", "rowspan", "scope",
}

// ariaAttrs is the WAI-ARIA 1.2 attribute surface. Audit snippets lean on
// these to show why an element failed, so they all pass through.
var ariaAttrs = []string{
	"aria-activedescendant", "aria-atomic", "aria-autocomplete",
	"aria-braillelabel", "aria-brailleroledescription", "aria-busy",
	"aria-checked", "aria-colcount", "aria-colindex", "aria-colindextext",
	"aria-colspan", "aria-controls", "aria-current", "aria-describedby",
	"aria-description", "aria-details", "aria-disabled", "aria-errormessage",
	"aria-expanded", "aria-flowto", "aria-haspopup", "aria-hidden",
	"aria-invalid", "aria-keyshortcuts", "aria-label", "aria-labelledby",
	"aria-level", "aria-live", "aria-modal", "aria-multiline",
	"aria-multiselectable", "aria-orientation", "aria-owns",
	"aria-placeholder", "aria-posinset", "aria-pressed", "aria-readonly",
	"aria-relevant", "aria-required", "aria-roledescription",
	"aria-rowcount", "aria-rowindex", "aria-rowindextext", "aria-rowspan",
	"aria-selected", "aria-setsize", "aria-sort", "aria-valuemax",
	"aria-valuemin", "aria-valuenow", "aria-valuetext",
}

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedTags...)
	p.AllowAttrs(allowedAttrs...).Globally()
	p.AllowAttrs(ariaAttrs...).Globally()
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	return p
}

// HTML sanitizes an untrusted HTML fragment and bounds its length.
// It is idempotent and never panics; worst case for hostile input is an
// empty string. Whitespace-only input returns "" without invoking the
// underlying cleaner.
func HTML(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	out := strings.TrimSpace(policy.Sanitize(raw))
	if len(out) <= MaxHTMLLength+len(TruncationMarker) {
		return out
	}

	// Re-clean after cutting so a cut inside markup cannot leave a dangling
	// fragment behind. The cleaner balances unclosed tags, which can grow
	// the snippet past the cap again, so shrink the cut until it fits.
	cut := out
	max := MaxHTMLLength
	for {
		cut = strings.TrimSpace(policy.Sanitize(truncateAtBoundary(cut, max)))
		if len(cut) <= MaxHTMLLength {
			break
		}
		max -= len(cut) - MaxHTMLLength
		if max <= 0 {
			cut = ""
			break
		}
	}
	return cut + TruncationMarker
}

// truncateAtBoundary cuts s to at most max bytes without splitting a UTF-8
// sequence, an open tag or an HTML entity.
func truncateAtBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]

	// Back off a partially written UTF-8 sequence.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}

	// Drop a trailing unterminated tag.
	if open := strings.LastIndexByte(cut, '<'); open >= 0 && !strings.ContainsRune(cut[open:], '>') {
		cut = cut[:open]
	}

	// Drop a trailing unterminated entity; entities are short, so only a
	// nearby ampersand can be one.
	if amp := strings.LastIndexByte(cut, '&'); amp >= 0 && len(cut)-amp <= 12 && !strings.ContainsRune(cut[amp:], ';') {
		cut = cut[:amp]
	}

	return cut
}
