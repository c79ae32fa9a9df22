// internal/browser/keys.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps scenario key names onto the DOM key strings the CDP input
// domain expects. Lookups are case-insensitive.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"up":         kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"down":       kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"left":       kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"right":      kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

// resolveKey translates a scenario key name into the string to feed the
// keyboard event dispatcher. Single printable characters pass through as-is.
func resolveKey(key string) (string, error) {
	if mapped, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		return mapped, nil
	}
	if runes := []rune(key); len(runes) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("unsupported key %q", key)
}
