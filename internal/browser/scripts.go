// internal/browser/scripts.go
package browser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// quoteJS turns a Go string into a JS string literal.
func quoteJS(s string) string {
	quoted, err := json.Marshal(s)
	if err != nil {
		// Marshal of a string cannot fail; keep the signature simple.
		return `""`
	}
	return string(quoted)
}

// docExpr returns a JS expression evaluating to the document all scoped
// operations should run against. With an empty scope that is the top
// document; otherwise the content document of the iframe matching the scope
// selector. The expression throws when the iframe is missing or
// cross-origin, which chromedp surfaces as an evaluation error.
func docExpr(scope string) string {
	if scope == "" {
		return "document"
	}
	q := quoteJS(scope)
	return fmt.Sprintf(`(function() {
	const f = document.querySelector(%s);
	if (!f) { throw new Error('iframe not found: ' + %s); }
	const d = f.contentDocument;
	if (!d) { throw new Error('iframe not accessible: ' + %s); }
	return d;
})()`, q, q, q)
}

// lookupExpr builds a statement sequence that binds `el` to the element
// matching selector inside the scope document, throwing when absent.
func lookupExpr(scope, selector string) string {
	q := quoteJS(selector)
	return fmt.Sprintf(`const doc = %s;
const el = doc.querySelector(%s);
if (!el) { throw new Error('element not found: ' + %s); }`, docExpr(scope), q, q)
}

func clickScript(scope, selector string) string {
	return fmt.Sprintf(`(function() {
%s
el.scrollIntoView({block: 'center'});
el.click();
return true;
})()`, lookupExpr(scope, selector))
}

func typeScript(scope, selector, text string) string {
	return fmt.Sprintf(`(function() {
%s
el.focus();
el.value = %s;
el.dispatchEvent(new Event('input', {bubbles: true}));
el.dispatchEvent(new Event('change', {bubbles: true}));
return true;
})()`, lookupExpr(scope, selector), quoteJS(text))
}

func hoverScript(scope, selector string) string {
	return fmt.Sprintf(`(function() {
%s
el.scrollIntoView({block: 'center'});
for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
	el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
}
return true;
})()`, lookupExpr(scope, selector))
}

func selectByIndexScript(scope, selector string, index int) string {
	return fmt.Sprintf(`(function() {
%s
if (el.tagName !== 'SELECT') { throw new Error('not a select element'); }
if (%d < 0 || %d >= el.options.length) { throw new Error('option index out of range: %d'); }
el.selectedIndex = %d;
el.dispatchEvent(new Event('change', {bubbles: true}));
return true;
})()`, lookupExpr(scope, selector), index, index, index, index)
}

func selectByValueScript(scope, selector, value string) string {
	q := quoteJS(value)
	return fmt.Sprintf(`(function() {
%s
if (el.tagName !== 'SELECT') { throw new Error('not a select element'); }
const opt = Array.from(el.options).find(o => o.value === %s);
if (!opt) { throw new Error('no option with value: ' + %s); }
el.value = opt.value;
el.dispatchEvent(new Event('change', {bubbles: true}));
return true;
})()`, lookupExpr(scope, selector), q, q)
}

func scrollScript(scope, selector string) string {
	return fmt.Sprintf(`(function() {
%s
el.scrollIntoView({behavior: 'smooth', block: 'center'});
return true;
})()`, lookupExpr(scope, selector))
}

// selectorFoundExpr evaluates to a boolean, never throwing, so it can be
// polled while the target (or its iframe) has not appeared yet.
func selectorFoundExpr(scope, selector string) string {
	q := quoteJS(selector)
	if scope == "" {
		return fmt.Sprintf(`!!document.querySelector(%s)`, q)
	}
	sq := quoteJS(scope)
	return fmt.Sprintf(`(function() {
	const f = document.querySelector(%s);
	if (!f || !f.contentDocument) { return false; }
	return !!f.contentDocument.querySelector(%s);
})()`, sq, q)
}

// wrapInScope rewrites an arbitrary user expression so that `document` and
// `window` refer to the scoped iframe. Outside any scope the expression runs
// untouched.
func wrapInScope(scope, code string) string {
	if scope == "" {
		return code
	}
	return fmt.Sprintf(`(function(document, window) {
return (%s);
})(%s, (%s).defaultView)`, code, docExpr(scope), docExpr(scope))
}

func removeIframesScript(scope string) string {
	return fmt.Sprintf(`(function() {
const doc = %s;
const frames = doc.querySelectorAll('iframe');
frames.forEach(f => f.remove());
return frames.length;
})()`, docExpr(scope))
}

// iframeProbeScript verifies the scope target exists and is same-origin
// before the scope is committed.
func iframeProbeScript(selector string) string {
	q := quoteJS(selector)
	return fmt.Sprintf(`(function() {
const f = document.querySelector(%s);
if (!f) { throw new Error('iframe not found: ' + %s); }
if (f.tagName !== 'IFRAME') { throw new Error('not an iframe: ' + %s); }
if (!f.contentDocument) { throw new Error('iframe not accessible: ' + %s); }
return true;
})()`, q, q, q, q)
}

// loadStateExpr maps a load-state name onto a boolean readyState check.
// Unknown states are rejected by the validator before reaching here.
func loadStateExpr(state string) string {
	switch strings.ToLower(state) {
	case "domcontentloaded":
		return `document.readyState !== 'loading'`
	default:
		// "load" and "networkidle" both wait for the full load event; true
		// network-idle tracking needs CDP events and this approximation has
		// proven sufficient for scenario pacing.
		return `document.readyState === 'complete'`
	}
}
