package browser

import (
	"fmt"
	"regexp"

	json "github.com/json-iterator/go"
)

// Locators use CSS syntax plus one extension: a trailing
// `:has-text("substring")` narrows the match to elements whose rendered text
// contains the substring (case-insensitive). Chrome cannot evaluate that
// pseudo-class natively, so every probe runs through an injected finder that
// applies the text filter and a visibility check in the page.

var hasTextRe = regexp.MustCompile(`^(.*?):has-text\("((?:[^"\\]|\\.)*)"\)$`)

// locator is the parsed form of one entry in a selector list.
type locator struct {
	query string // CSS query passed to querySelectorAll
	text  string // required innerText substring, empty when absent
}

func parseLocator(raw string) locator {
	m := hasTextRe.FindStringSubmatch(raw)
	if m == nil {
		return locator{query: raw}
	}
	query := m[1]
	if query == "" {
		query = "*"
	}
	return locator{query: query, text: m[2]}
}

// findExpr returns a JS expression evaluating to the first visible element
// matching the locator, or null. The body expression receives it as `el`.
//
// Visibility follows the layout engine: an element with no client rects is
// not rendered, which covers display:none and detached nodes.
const finderTemplate = `(function() {
	var sel = %s, want = %s;
	var isVisible = function(el) {
		if (!el || !el.getClientRects().length) return false;
		return getComputedStyle(el).visibility !== 'hidden';
	};
	var nodes;
	try { nodes = document.querySelectorAll(sel); } catch (e) { return %s; }
	for (var i = 0; i < nodes.length; i++) {
		var el = nodes[i];
		if (want && (el.innerText || '').toLowerCase().indexOf(want) === -1) continue;
		if (!isVisible(el)) continue;
		return (%s);
	}
	return %s;
})()`

// buildProbe renders the finder with a per-element body expression and a
// not-found fallback value. Both must be JS expressions.
func buildProbe(raw, body, notFound string) string {
	loc := parseLocator(raw)
	return fmt.Sprintf(finderTemplate,
		jsString(loc.query), jsString(lowered(loc.text)), notFound, body, notFound)
}

func visibleScript(raw string) string {
	return buildProbe(raw, "true", "false")
}

func clickScript(raw string) string {
	return buildProbe(raw,
		"(el.scrollIntoView({block:'center'}), el.click(), true)", "false")
}

func textScript(raw string) string {
	return buildProbe(raw, "el.innerText || ''", "null")
}

func focusScript(raw string) string {
	return buildProbe(raw, "(el.focus(), true)", "false")
}

// fillScript sets the value through the native prototype setter and fires an
// input event, which is what framework-controlled inputs listen for. Plain
// el.value assignment is invisible to React.
func fillScript(raw, value string) string {
	body := fmt.Sprintf(`(function() {
		var proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		var desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) { desc.set.call(el, %s); } else { el.value = %s; }
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsString(value), jsString(value))
	return buildProbe(raw, body, "false")
}

func lowered(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

// jsString renders s as a JS string literal. JSON string encoding is valid JS.
func jsString(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(raw)
}
