package scenario

import (
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/d3xf/scenic/api/schemas"
)

var substJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// placeholderPattern matches a well-formed back-reference to a captured
// script return, e.g. "{javascriptReturn[3]}".
var placeholderPattern = regexp.MustCompile(`\{javascriptReturn\[(\d+)\]\}`)

// candidatePattern additionally catches malformed variants (missing brackets,
// non-numeric index) so they fail loudly instead of passing through as
// literal text.
var candidatePattern = regexp.MustCompile(`\{javascriptReturn(?:\[[^\]{}]*\])?\}`)

// Substitute rewrites every non-overlapping placeholder in text against the
// run's captured returns, preserving surrounding literal text. Resolution is
// textual: the captured value's string form replaces the reference.
func Substitute(text string, rc *RunContext) (string, error) {
	if !strings.Contains(text, "{javascriptReturn") {
		return text, nil
	}

	var substErr error
	out := candidatePattern.ReplaceAllStringFunc(text, func(ref string) string {
		if substErr != nil {
			return ref
		}
		m := placeholderPattern.FindStringSubmatch(ref)
		if m == nil {
			substErr = &SubstitutionError{Ref: ref, Msg: "malformed reference"}
			return ref
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			substErr = &SubstitutionError{Ref: ref, Msg: "malformed index"}
			return ref
		}
		captured := rc.Returns()
		if idx >= len(captured) {
			substErr = &SubstitutionError{Ref: ref, Index: idx, Captured: len(captured)}
			return ref
		}
		return formatCaptured(captured[idx])
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

// formatCaptured renders a captured JS value the way the page would coerce it
// to a string: numbers without a trailing ".0", strings unquoted, everything
// else as JSON.
func formatCaptured(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		s, err := substJSON.MarshalToString(v)
		if err != nil {
			return ""
		}
		return s
	}
}

// resolveAction returns a copy of act with placeholders substituted in every
// string-typed field. It runs immediately before dispatch, so references can
// reach values captured earlier in the same execution, including inside a
// prior loop iteration.
func resolveAction(act *schemas.Action, rc *RunContext) (*schemas.Action, error) {
	resolved := *act

	fields := []*string{
		&resolved.CSSSelector,
		&resolved.URL,
		&resolved.Text,
		&resolved.Code,
		&resolved.State,
		&resolved.Key,
		&resolved.CookieName,
		&resolved.CookieDomain,
		&resolved.Condition,
		&resolved.WebsiteURL,
		&resolved.WebsiteKey,
		&resolved.CoreName,
		&resolved.Token,
	}
	for _, f := range fields {
		out, err := Substitute(*f, rc)
		if err != nil {
			return nil, err
		}
		*f = out
	}

	if resolved.Value != nil {
		out, err := Substitute(*resolved.Value, rc)
		if err != nil {
			return nil, err
		}
		resolved.Value = &out
	}

	return &resolved, nil
}
