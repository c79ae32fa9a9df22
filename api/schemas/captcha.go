package schemas

// -- Captcha Schemas --

// CaptchaKind identifies the challenge family a solve_captcha action targets.
// Solving strategy is entirely the solver's concern; the interpreter only
// routes the request.
type CaptchaKind string

const (
	CaptchaTurnstile                CaptchaKind = "turnstile"
	CaptchaRecaptcha                CaptchaKind = "recaptcha"
	CaptchaRecaptchaV2              CaptchaKind = "recaptchav2"
	CaptchaRecaptchaV3              CaptchaKind = "recaptchav3"
	CaptchaHcaptcha                 CaptchaKind = "hcaptcha"
	CaptchaHcaptchaInside           CaptchaKind = "hcaptcha_inside"
	CaptchaHcaptchaEnterpriseInside CaptchaKind = "hcaptcha_enterprise_inside"
	CaptchaFuncaptcha               CaptchaKind = "funcaptcha"
	CaptchaPerimeterX               CaptchaKind = "perimeterx"
	CaptchaMTCaptcha                CaptchaKind = "mtcaptcha"
	CaptchaMTCaptchaIsolated        CaptchaKind = "mtcaptchaisolated"
	CaptchaV4Guard                  CaptchaKind = "v4guard"
	CaptchaCustom                   CaptchaKind = "custom"
	CaptchaFingerprintJS            CaptchaKind = "fingerprintjscom"
	CaptchaFingerprintJSCurseforge  CaptchaKind = "fingerprintjs_curseforge"
)

// knownCaptchaKinds is the closed set accepted by the validator.
var knownCaptchaKinds = map[CaptchaKind]struct{}{
	CaptchaTurnstile:                {},
	CaptchaRecaptcha:                {},
	CaptchaRecaptchaV2:              {},
	CaptchaRecaptchaV3:              {},
	CaptchaHcaptcha:                 {},
	CaptchaHcaptchaInside:           {},
	CaptchaHcaptchaEnterpriseInside: {},
	CaptchaFuncaptcha:               {},
	CaptchaPerimeterX:               {},
	CaptchaMTCaptcha:                {},
	CaptchaMTCaptchaIsolated:        {},
	CaptchaV4Guard:                  {},
	CaptchaCustom:                   {},
	CaptchaFingerprintJS:            {},
	CaptchaFingerprintJSCurseforge:  {},
}

// KnownCaptchaKind reports whether k is a supported challenge family.
func KnownCaptchaKind(k CaptchaKind) bool {
	_, ok := knownCaptchaKinds[k]
	return ok
}

// CaptchaRequest carries everything a solve_captcha action passes through to
// the solver boundary.
type CaptchaRequest struct {
	Kind        CaptchaKind            `json:"kind"`
	WebsiteURL  string                 `json:"websiteUrl,omitempty"`
	WebsiteKey  string                 `json:"websiteKey,omitempty"`
	CSSSelector string                 `json:"cssSelector,omitempty"`
	CoreName    string                 `json:"coreName,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
