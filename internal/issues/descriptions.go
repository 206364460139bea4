package issues

import (
	"embed"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

//go:embed descriptions/*.md
var descriptionFiles embed.FS

// Link is a "learn more" link attached to a description.
type Link struct {
	URL   string `json:"link"`
	Title string `json:"linkTitle"`
}

// Description points at the markdown template that explains an issue code.
type Description struct {
	File          string            `json:"file"`
	Links         []Link            `json:"links"`
	Substitutions map[string]string `json:"substitutions,omitempty"`
}

const (
	placeholderDestination = "PLACEHOLDER_destination"
	placeholderOrigin      = "PLACEHOLDER_origin"
)

var (
	sameSiteLinks = []Link{{
		URL:   "https://web.dev/samesite-cookies-explained/",
		Title: "SameSite cookies explained",
	}}
	schemefulSameSiteLinks = []Link{{
		URL:   "https://web.dev/schemeful-samesite/",
		Title: "How Schemeful Same-Site Works",
	}}
	firstPartySetsLinks = []Link{{
		URL:   "https://developer.chrome.com/blog/first-party-sets-sameparty/",
		Title: "`First-Party Sets` and the `SameParty` attribute",
	}}
	crossSiteRedirectLinks = []Link{{
		URL: "https://bugs.chromium.org/p/chromium/issues/entry?template=Defect%20report%20from%20user" +
			"&summary=[Cross-Site Redirect Chain] <INSERT BUG SUMMARY HERE>" +
			"&comment=Chrome Version: (copy from chrome://version)%0AChannel: (e.g. Canary, Dev, Beta, Stable)" +
			"%0A%0AAffected URLs:%0A%0AWhat is the expected result?%0A%0AWhat happens instead?" +
			"%0A%0AWhat is the purpose of the cross-site redirect?:%0A%0AWhat steps will reproduce the problem?:" +
			"%0A(1)%0A(2)%0A(3)%0A%0APlease provide any additional information below." +
			"&components=Internals%3ENetwork%3ECookies",
		Title: "File a bug",
	}}
)

func secureArticle(secure bool) string {
	if secure {
		return "a secure"
	}
	return "an insecure"
}

// schemefulSameSiteSubstitutions fills the destination/origin placeholders of the
// schemeful SameSite templates.
func schemefulSameSiteSubstitutions(destinationSecure, originSecure bool) map[string]string {
	return map[string]string{
		placeholderDestination: secureArticle(destinationSecure),
		placeholderOrigin:      secureArticle(originSecure),
	}
}

func plain(file string, links []Link) Description {
	return Description{File: file, Links: links}
}

func schemeful(file string, destinationSecure, originSecure bool) Description {
	return Description{
		File:          file,
		Links:         schemefulSameSiteLinks,
		Substitutions: schemefulSameSiteSubstitutions(destinationSecure, originSecure),
	}
}

// descriptions is built once and only read afterwards.
var descriptions = buildDescriptions()

func buildDescriptions() map[Code]Description {
	unspecifiedRead := plain("SameSiteUnspecifiedLaxAllowUnsafeRead.md", sameSiteLinks)
	unspecifiedSet := plain("SameSiteUnspecifiedLaxAllowUnsafeSet.md", sameSiteLinks)
	invisible := plain("placeholderDescriptionForInvisibleIssues.md", nil)
	relatedWebsiteSet := plain("cookieExcludeBlockedWithinRelatedWebsiteSet.md", nil)

	table := map[Code]Description{
		"CookieIssue::WarnSameSiteUnspecifiedLaxAllowUnsafe::ReadCookie":   unspecifiedRead,
		"CookieIssue::WarnSameSiteUnspecifiedLaxAllowUnsafe::SetCookie":    unspecifiedSet,
		"CookieIssue::WarnSameSiteUnspecifiedCrossSiteContext::ReadCookie": unspecifiedRead,
		"CookieIssue::WarnSameSiteUnspecifiedCrossSiteContext::SetCookie":  unspecifiedSet,
		"CookieIssue::ExcludeSameSiteNoneInsecure::ReadCookie":             plain("SameSiteNoneInsecureErrorRead.md", sameSiteLinks),
		"CookieIssue::ExcludeSameSiteNoneInsecure::SetCookie":              plain("SameSiteNoneInsecureErrorSet.md", sameSiteLinks),
		"CookieIssue::WarnSameSiteNoneInsecure::ReadCookie":                plain("SameSiteNoneInsecureWarnRead.md", sameSiteLinks),
		"CookieIssue::WarnSameSiteNoneInsecure::SetCookie":                 plain("SameSiteNoneInsecureWarnSet.md", sameSiteLinks),

		"CookieIssue::WarnSameSiteStrictLaxDowngradeStrict::Secure":      schemeful("SameSiteWarnStrictLaxDowngradeStrict.md", true, false),
		"CookieIssue::WarnSameSiteStrictLaxDowngradeStrict::Insecure":    schemeful("SameSiteWarnStrictLaxDowngradeStrict.md", false, true),
		"CookieIssue::WarnCrossDowngrade::ReadCookie::Secure":            schemeful("SameSiteWarnCrossDowngradeRead.md", true, false),
		"CookieIssue::WarnCrossDowngrade::ReadCookie::Insecure":          schemeful("SameSiteWarnCrossDowngradeRead.md", false, true),
		"CookieIssue::WarnCrossDowngrade::SetCookie::Secure":             schemeful("SameSiteWarnCrossDowngradeSet.md", false, true),
		"CookieIssue::WarnCrossDowngrade::SetCookie::Insecure":           schemeful("SameSiteWarnCrossDowngradeSet.md", true, false),
		"CookieIssue::ExcludeNavigationContextDowngrade::Secure":         schemeful("SameSiteExcludeNavigationContextDowngrade.md", true, false),
		"CookieIssue::ExcludeNavigationContextDowngrade::Insecure":       schemeful("SameSiteExcludeNavigationContextDowngrade.md", false, true),
		"CookieIssue::ExcludeContextDowngrade::ReadCookie::Secure":       schemeful("SameSiteExcludeContextDowngradeRead.md", true, false),
		"CookieIssue::ExcludeContextDowngrade::ReadCookie::Insecure":     schemeful("SameSiteExcludeContextDowngradeRead.md", false, true),
		"CookieIssue::ExcludeContextDowngrade::SetCookie::Secure":        schemeful("SameSiteExcludeContextDowngradeSet.md", true, false),
		"CookieIssue::ExcludeContextDowngrade::SetCookie::Insecure":      schemeful("SameSiteExcludeContextDowngradeSet.md", false, true),
		"CookieIssue::ExcludeInvalidSameParty::SetCookie":                plain("SameSiteInvalidSameParty.md", firstPartySetsLinks),
		"CookieIssue::ExcludeSamePartyCrossPartyContext::SetCookie":      plain("SameSiteSamePartyCrossPartyContextSet.md", firstPartySetsLinks),
		"CookieIssue::WarnAttributeValueExceedsMaxSize::ReadCookie":      plain("CookieAttributeValueExceedsMaxSize.md", nil),
		"CookieIssue::WarnAttributeValueExceedsMaxSize::SetCookie":       plain("CookieAttributeValueExceedsMaxSize.md", nil),
		"CookieIssue::WarnDomainNonASCII::ReadCookie":                    plain("cookieWarnDomainNonAscii.md", nil),
		"CookieIssue::WarnDomainNonASCII::SetCookie":                     plain("cookieWarnDomainNonAscii.md", nil),
		"CookieIssue::ExcludeDomainNonASCII::ReadCookie":                 plain("cookieExcludeDomainNonAscii.md", nil),
		"CookieIssue::ExcludeDomainNonASCII::SetCookie":                  plain("cookieExcludeDomainNonAscii.md", nil),
		"CookieIssue::CrossSiteRedirectDowngradeChangesInclusion":        plain("cookieCrossSiteRedirectDowngrade.md", crossSiteRedirectLinks),
		"CookieIssue::ExcludePortMismatch":                               plain("cookieExcludePortMismatch.md", nil),
		"CookieIssue::ExcludeSchemeMismatch":                             plain("cookieExcludeSchemeMismatch.md", nil),
		"CookieIssue::ExcludeThirdPartyCookieBlockedInRelatedWebsiteSet::ReadCookie": relatedWebsiteSet,
		"CookieIssue::ExcludeThirdPartyCookieBlockedInRelatedWebsiteSet::SetCookie":  relatedWebsiteSet,
		"CookieIssue::ExcludeThirdPartyCookieBlockedInFirstPartySet::ReadCookie":     relatedWebsiteSet,
		"CookieIssue::ExcludeThirdPartyCookieBlockedInFirstPartySet::SetCookie":      relatedWebsiteSet,
	}

	// Reported by the cookie report tool, not the issues list.
	for _, r := range thirdPartyPhaseoutReasons {
		for _, op := range []Operation{OperationReadCookie, OperationSetCookie} {
			table[newCode(string(r), string(op))] = invisible
		}
	}
	return table
}

// Describe returns the description for a code. The returned value is a copy.
func Describe(code Code) (Description, bool) {
	d, ok := descriptions[code]
	if !ok {
		return Description{}, false
	}
	return Description{
		File:          d.File,
		Links:         slices.Clone(d.Links),
		Substitutions: maps.Clone(d.Substitutions),
	}, true
}

// DescribedCodes lists every code that has a description, sorted.
func DescribedCodes() []Code {
	codes := slices.Collect(maps.Keys(descriptions))
	slices.Sort(codes)
	return codes
}

// RenderDescription loads the markdown template for d and applies its
// substitutions.
func RenderDescription(d Description) (string, error) {
	raw, err := descriptionFiles.ReadFile(path.Join("descriptions", d.File))
	if err != nil {
		return "", fmt.Errorf("read description %s: %w", d.File, err)
	}
	text := string(raw)
	for _, key := range slices.Sorted(maps.Keys(d.Substitutions)) {
		text = strings.ReplaceAll(text, "{"+key+"}", d.Substitutions[key])
	}
	return text, nil
}
