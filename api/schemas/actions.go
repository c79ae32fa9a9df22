package schemas

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is the package-wide decoder. Scenario documents arrive as untrusted
// caller input and can be large, so we use jsoniter in stdlib-compatible mode.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Action Schemas --

// ActionKind discriminates the variant of a browser action. The set is closed:
// an unknown kind is a validation error, never a silent no-op.
type ActionKind string

const (
	ActionClick            ActionKind = "click"
	ActionType             ActionKind = "type"
	ActionGoto             ActionKind = "goto"
	ActionWait             ActionKind = "wait"
	ActionWaitForSelector  ActionKind = "wait_for_selector"
	ActionWaitForFunction  ActionKind = "wait_for_function"
	ActionWaitForLoadState ActionKind = "wait_for_load_state"
	ActionWaitForCookie    ActionKind = "wait_for_cookie"
	ActionExecuteJS        ActionKind = "execute_js"
	ActionScroll           ActionKind = "scroll"
	ActionHover            ActionKind = "hover"
	ActionKeyboard         ActionKind = "keyboard"
	ActionDropdown         ActionKind = "dropdown"
	ActionSwitchIframe     ActionKind = "switch_iframe"
	ActionSetViewport      ActionKind = "set_viewport"
	ActionIf               ActionKind = "if"
	ActionWhile            ActionKind = "while"
	ActionSolveCaptcha     ActionKind = "solve_captcha"
	ActionDiscordLogin     ActionKind = "discord_login"
	ActionRemoveIframes    ActionKind = "remove_iframes"
)

// KnownKinds lists every supported action kind. The validator and the
// dispatcher both derive their tables from this slice so they cannot drift.
var KnownKinds = []ActionKind{
	ActionClick, ActionType, ActionGoto, ActionWait,
	ActionWaitForSelector, ActionWaitForFunction, ActionWaitForLoadState,
	ActionWaitForCookie, ActionExecuteJS, ActionScroll, ActionHover,
	ActionKeyboard, ActionDropdown, ActionSwitchIframe, ActionSetViewport,
	ActionIf, ActionWhile, ActionSolveCaptcha, ActionDiscordLogin,
	ActionRemoveIframes,
}

// When controls whether an action runs before or after page-load completion
// of the containing navigation. Runs without a navigation treat every action
// as afterload.
type When string

const (
	WhenBeforeLoad When = "beforeload"
	WhenAfterLoad  When = "afterload"
)

// Defaults shared between the validator, the dispatcher, and the docs.
const (
	DefaultActionTimeout  = 60 * time.Second
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultScrollDelay    = 100 * time.Millisecond
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 1024
)

// Action is a single step of a scenario. It is a tagged variant: Kind selects
// which of the optional fields are meaningful. Control-flow kinds ("if",
// "while") carry nested scenarios in Then/Or.
type Action struct {
	Kind ActionKind `json:"type"`

	// Policy fields, valid on every kind.
	When         When  `json:"when,omitempty"`
	IgnoreErrors bool  `json:"ignoreErrors,omitempty"`
	TimeoutMs    int64 `json:"timeout,omitempty"`

	// Targeting and payload.
	CSSSelector string  `json:"cssSelector,omitempty"`
	URL         string  `json:"url,omitempty"`
	Text        string  `json:"text,omitempty"`
	Code        string  `json:"code,omitempty"`
	WaitSeconds float64 `json:"wait,omitempty"`
	State       string  `json:"state,omitempty"`
	Key         string  `json:"key,omitempty"`

	// Direct requests the plain DOM-level operation instead of the simulated
	// one (a JS element.click() rather than a trusted input event).
	Direct bool `json:"direct,omitempty"`

	// dropdown: exactly one of Index/Value must be present.
	Index *int    `json:"index,omitempty"`
	Value *string `json:"value,omitempty"`

	// wait_for_cookie.
	CookieName     string `json:"cookieName,omitempty"`
	CookieDomain   string `json:"cookieDomain,omitempty"`
	PollIntervalMs int64  `json:"pollIntervalMs,omitempty"`

	// scroll.
	DelayMs int64 `json:"delayMs,omitempty"`

	// set_viewport.
	Width  int64 `json:"width,omitempty"`
	Height int64 `json:"height,omitempty"`

	// execute_js.
	DontReturnValue bool `json:"dontReturnValue,omitempty"`

	// if / while.
	Condition   string   `json:"condition,omitempty"`
	Then        Scenario `json:"then,omitempty"`
	Or          Scenario `json:"or,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty"`

	// solve_captcha. CaptchaData is passed through to the solver untouched.
	Captcha     CaptchaKind            `json:"captcha,omitempty"`
	CaptchaData map[string]interface{} `json:"captchaData,omitempty"`
	WebsiteURL  string                 `json:"websiteUrl,omitempty"`
	WebsiteKey  string                 `json:"websiteKey,omitempty"`
	CoreName    string                 `json:"coreName,omitempty"`

	// discord_login.
	Token string `json:"token,omitempty"`
}

// Scenario is an ordered sequence of actions. Nested scenarios under
// if/while branches use the same type, so the tree is uniform at every level.
type Scenario []Action

// EffectiveWhen resolves the phase default (afterload).
func (a *Action) EffectiveWhen() When {
	if a.When == WhenBeforeLoad {
		return WhenBeforeLoad
	}
	return WhenAfterLoad
}

// Timeout resolves the per-action timeout default of 60s.
func (a *Action) Timeout() time.Duration {
	if a.TimeoutMs > 0 {
		return time.Duration(a.TimeoutMs) * time.Millisecond
	}
	return DefaultActionTimeout
}

// PollInterval resolves the wait_for_cookie poll interval default of 200ms.
func (a *Action) PollInterval() time.Duration {
	if a.PollIntervalMs > 0 {
		return time.Duration(a.PollIntervalMs) * time.Millisecond
	}
	return DefaultPollInterval
}

// ScrollDelay resolves the scroll settle delay default of 100ms.
func (a *Action) ScrollDelay() time.Duration {
	if a.DelayMs > 0 {
		return time.Duration(a.DelayMs) * time.Millisecond
	}
	return DefaultScrollDelay
}

// WaitDuration converts the "wait" field (seconds on the wire) to a duration.
func (a *Action) WaitDuration() time.Duration {
	return time.Duration(a.WaitSeconds * float64(time.Second))
}

// ViewportSize resolves the set_viewport defaults of 1280x1024.
func (a *Action) ViewportSize() (int64, int64) {
	w, h := a.Width, a.Height
	if w <= 0 {
		w = DefaultViewportWidth
	}
	if h <= 0 {
		h = DefaultViewportHeight
	}
	return w, h
}

// IsControlFlow reports whether the interpreter, rather than the dispatcher,
// owns this kind.
func (a *Action) IsControlFlow() bool {
	return a.Kind == ActionIf || a.Kind == ActionWhile
}

// -- Scenario Documents --

// Document is the structured input a caller submits for one run: an optional
// navigation target plus the ordered action sequence.
type Document struct {
	// URL, when set, makes the run a navigation: beforeload actions execute
	// before the page load completes, afterload actions after.
	URL string `json:"url,omitempty"`

	// Session optionally pins the run to a previously created browser session.
	Session string `json:"session,omitempty"`

	BrowserActions Scenario `json:"browserActions"`
}

// ParseDocument decodes a scenario document. Structural decode errors are
// reported here; semantic validation is the interpreter's concern and happens
// eagerly before any action executes.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseScenario decodes a bare action array (no document wrapper).
func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return sc, nil
}
