package scenario

import (
	"fmt"
	"net/url"

	"github.com/d3xf/scenic/api/schemas"
)

// knownKinds is derived once from the schema's closed kind set.
var knownKinds = func() map[schemas.ActionKind]struct{} {
	m := make(map[schemas.ActionKind]struct{}, len(schemas.KnownKinds))
	for _, k := range schemas.KnownKinds {
		m[k] = struct{}{}
	}
	return m
}()

// Validate checks an entire scenario tree before anything executes. The run
// is fail-fast: a malformed action three levels deep inside a while body is
// rejected up front, never discovered mid-loop.
func Validate(sc schemas.Scenario) error {
	return validateList(sc, "")
}

func validateList(sc schemas.Scenario, path string) error {
	for i := range sc {
		if err := validateAction(&sc[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(act *schemas.Action, path string) error {
	if act.Kind == "" {
		return &ValidationError{Path: path, Field: "type", Msg: "missing action type"}
	}
	if _, ok := knownKinds[act.Kind]; !ok {
		return &ValidationError{Path: path, Field: "type", Msg: fmt.Sprintf("unknown action type %q", act.Kind)}
	}
	if act.When != "" && act.When != schemas.WhenBeforeLoad && act.When != schemas.WhenAfterLoad {
		return &ValidationError{Path: path, Field: "when", Msg: fmt.Sprintf("must be %q or %q", schemas.WhenBeforeLoad, schemas.WhenAfterLoad)}
	}
	if act.TimeoutMs < 0 {
		return &ValidationError{Path: path, Field: "timeout", Msg: "must not be negative"}
	}

	switch act.Kind {
	case schemas.ActionClick, schemas.ActionHover, schemas.ActionWaitForSelector:
		if act.CSSSelector == "" {
			return &ValidationError{Path: path, Field: "cssSelector", Msg: "required"}
		}

	case schemas.ActionType:
		if act.CSSSelector == "" {
			return &ValidationError{Path: path, Field: "cssSelector", Msg: "required"}
		}

	case schemas.ActionGoto:
		if act.URL == "" {
			return &ValidationError{Path: path, Field: "url", Msg: "required"}
		}
		if _, err := url.ParseRequestURI(act.URL); err != nil {
			return &ValidationError{Path: path, Field: "url", Msg: "not a valid URL"}
		}

	case schemas.ActionWait:
		if act.WaitSeconds < 0 {
			return &ValidationError{Path: path, Field: "wait", Msg: "must not be negative"}
		}

	case schemas.ActionWaitForFunction, schemas.ActionExecuteJS:
		if act.Code == "" {
			return &ValidationError{Path: path, Field: "code", Msg: "required"}
		}

	case schemas.ActionWaitForLoadState:
		switch act.State {
		case "", "load", "domcontentloaded", "networkidle":
		default:
			return &ValidationError{Path: path, Field: "state", Msg: fmt.Sprintf("unsupported load state %q", act.State)}
		}

	case schemas.ActionWaitForCookie:
		if act.CookieName == "" {
			return &ValidationError{Path: path, Field: "cookieName", Msg: "required"}
		}
		if act.PollIntervalMs < 0 {
			return &ValidationError{Path: path, Field: "pollIntervalMs", Msg: "must not be negative"}
		}

	case schemas.ActionKeyboard:
		if act.Key == "" {
			return &ValidationError{Path: path, Field: "key", Msg: "required"}
		}

	case schemas.ActionDropdown:
		if act.CSSSelector == "" {
			return &ValidationError{Path: path, Field: "cssSelector", Msg: "required"}
		}
		if (act.Index == nil) == (act.Value == nil) {
			return &ValidationError{Path: path, Field: "index", Msg: "exactly one of index or value is required"}
		}

	case schemas.ActionIf:
		if act.Condition == "" {
			return &ValidationError{Path: path, Field: "condition", Msg: "required"}
		}
		// then/or are each optional, but a declared branch must not be empty.
		if act.Then != nil && len(act.Then) == 0 {
			return &ValidationError{Path: path, Field: "then", Msg: "declared but empty"}
		}
		if act.Or != nil && len(act.Or) == 0 {
			return &ValidationError{Path: path, Field: "or", Msg: "declared but empty"}
		}
		if err := validateList(act.Then, path+".then"); err != nil {
			return err
		}
		if err := validateList(act.Or, path+".or"); err != nil {
			return err
		}

	case schemas.ActionWhile:
		if act.Condition == "" {
			return &ValidationError{Path: path, Field: "condition", Msg: "required"}
		}
		if len(act.Then) == 0 {
			return &ValidationError{Path: path, Field: "then", Msg: "required and must not be empty"}
		}
		if act.MaxAttempts < 0 {
			return &ValidationError{Path: path, Field: "maxAttempts", Msg: "must not be negative"}
		}
		if err := validateList(act.Then, path+".then"); err != nil {
			return err
		}

	case schemas.ActionSetViewport:
		if act.Width < 0 || act.Height < 0 {
			return &ValidationError{Path: path, Field: "width", Msg: "dimensions must not be negative"}
		}

	case schemas.ActionSolveCaptcha:
		if act.Captcha == "" {
			return &ValidationError{Path: path, Field: "captcha", Msg: "required"}
		}
		if !schemas.KnownCaptchaKind(act.Captcha) {
			return &ValidationError{Path: path, Field: "captcha", Msg: fmt.Sprintf("unknown captcha kind %q", act.Captcha)}
		}

	case schemas.ActionDiscordLogin:
		if act.Token == "" {
			return &ValidationError{Path: path, Field: "token", Msg: "required"}
		}

	case schemas.ActionScroll, schemas.ActionSwitchIframe, schemas.ActionRemoveIframes:
		// No required fields: scroll with no selector targets the page
		// bottom, switch_iframe with no selector restores the main frame.
	}

	return nil
}
