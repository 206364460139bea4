package issues

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Frame is a point-in-time view of the page's outermost frame.
type Frame struct {
	URL string
	// DomainAndRegistry is the registrable domain (eTLD+1) of URL. It is empty for
	// IP addresses and hosts under a TLD missing from the public suffix list.
	DomainAndRegistry string
}

// NewFrame builds a Frame for rawURL, deriving its registrable domain.
func NewFrame(rawURL string) *Frame {
	return &Frame{URL: rawURL, DomainAndRegistry: RegistrableDomain(rawURL)}
}

// FrameSource supplies the current outermost frame. OutermostFrame returns nil when
// the frame is not known yet. Implementations own the value; callers query it on
// every use and never cache it.
type FrameSource interface {
	OutermostFrame() *Frame
}

// RegistrableDomain returns the eTLD+1 of the URL's host, or "" when there is none.
// Hosts under a TLD the public suffix list does not know (localhost, test, corp)
// have no registrable domain.
func RegistrableDomain(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if !icann && !strings.Contains(suffix, ".") {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}

// IsCausedByThirdParty decides whether a cookie issue belongs to a third party.
//
// An unknown outermost frame counts as third party so that issues do not flash up as
// first party and then flip. Without a site-for-cookies there is nothing to establish
// a first-party relationship with. Hosts without a registrable domain (IP literals,
// localhost) are treated as first party. Otherwise the cookie URL's host must be the
// frame's registrable domain or one of its subdomains to count as first party.
func IsCausedByThirdParty(frame *Frame, cookieURL, siteForCookies string) bool {
	if frame == nil {
		return true
	}
	if siteForCookies == "" {
		return true
	}
	if cookieURL == "" || frame.DomainAndRegistry == "" {
		return false
	}
	host := hostOf(cookieURL)
	if host == "" {
		return false
	}
	return !IsSubdomainOf(host, frame.DomainAndRegistry)
}

// IsSubdomainOf reports whether subdomain equals superdomain or has strictly more
// labels ending in it. "evilexample.com" is not a subdomain of "example.com".
func IsSubdomainOf(subdomain, superdomain string) bool {
	if len(subdomain) <= len(superdomain) {
		return subdomain == superdomain
	}
	if !strings.HasSuffix(subdomain, superdomain) {
		return false
	}
	prefix := subdomain[:len(subdomain)-len(superdomain)]
	return strings.HasSuffix(prefix, ".")
}
