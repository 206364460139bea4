package issues

import (
	"net/url"
	"strings"
)

// Namespace is the inspector issue code every cookie issue code starts with.
const Namespace = "CookieIssue"

const codeSeparator = "::"

// Code identifies a class of cookie issue. Codes are deterministic functions of the
// reason, the accompanying warnings, the operation and the cookie URL scheme, so the
// same situation always aggregates under the same code.
type Code string

func newCode(parts ...string) Code {
	return Code(Namespace + codeSeparator + strings.Join(parts, codeSeparator))
}

// String implements fmt.Stringer.
func (c Code) String() string { return string(c) }

// Contains reports whether the code contains the given token.
func (c Code) Contains(token string) bool {
	return strings.Contains(string(c), token)
}

// CodeFor calculates the issue code for a reason. warnings is only consulted for
// SameSite exclusions, which produce an issue only when paired with a matching
// warning (ExcludeSameSiteUnspecifiedTreatedAsLax being the exception). The second
// return value is false when the reason should not raise an issue.
func CodeFor(reason Reason, warnings []Reason, op Operation, cookieURL string) (Code, bool) {
	secure := schemeQualifier(cookieURL)

	switch familyOf(reason) {
	case familySameSiteExclusion:
		switch {
		case containsReason(warnings, WarnSameSiteStrictLaxDowngradeStrict):
			return newCode("ExcludeNavigationContextDowngrade", secure), true
		case containsFamily(warnings, familyCrossDowngradeWarning):
			return newCode("ExcludeContextDowngrade", string(op), secure), true
		case containsReason(warnings, WarnCrossSiteRedirectDowngradeChangesInclusion):
			return newCode("CrossSiteRedirectDowngradeChangesInclusion"), true
		case reason == ExcludeSameSiteUnspecifiedTreatedAsLax:
			return newCode(string(reason), string(op)), true
		default:
			// Strict and Lax exclusions are only actionable next to a downgrade warning.
			return "", false
		}
	case familyLaxDowngradeWarning:
		return newCode(string(reason), secure), true
	case familyCrossDowngradeWarning:
		// All four variants share one message.
		return newCode("WarnCrossDowngrade", string(op), secure), true
	case familyPortMismatch:
		return newCode(string(ExcludePortMismatch)), true
	case familySchemeMismatch:
		return newCode(string(ExcludeSchemeMismatch)), true
	default:
		return newCode(string(reason), string(op)), true
	}
}

// IsSecureScheme reports whether rawURL uses https or wss. A missing or unparseable
// URL is insecure.
func IsSecureScheme(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	return false
}

func schemeQualifier(cookieURL string) string {
	if IsSecureScheme(cookieURL) {
		return "Secure"
	}
	return "Insecure"
}
