// internal/browser/cookies.go
package browser

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// hostMatchesCookieDomain reports whether a cookie stored for cookieDomain is
// visible to the given want domain. An empty want matches everything. A
// leading dot on either side is ignored; a cookie set on a parent domain
// matches its subdomains, but never across a public suffix boundary (a lookup
// for "example.com" must not be satisfied by a cookie scoped to ".com").
func hostMatchesCookieDomain(want, cookieDomain string) bool {
	if want == "" {
		return true
	}
	want = strings.ToLower(strings.TrimPrefix(want, "."))
	domain := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	if want == domain {
		return true
	}

	// The cookie's domain must be a proper parent of the requested host,
	// or the requested host a parent of the cookie's domain (a query for
	// "example.com" should see a cookie set on "www.example.com").
	if !strings.HasSuffix(want, "."+domain) && !strings.HasSuffix(domain, "."+want) {
		return false
	}

	// Reject matches that would cross the registrable-domain boundary.
	suffix, icann := publicsuffix.PublicSuffix(want)
	if icann && domain == suffix {
		return false
	}
	suffix, icann = publicsuffix.PublicSuffix(domain)
	if icann && want == suffix {
		return false
	}
	return true
}
