// Package issues classifies cookie issues reported by the DevTools Audits domain.
//
// A single Audits cookie event carries ordered exclusion and warning reasons. The
// package turns each event into zero or more Issue records keyed by a stable Code,
// decides whether an issue is caused by a third party relative to the outermost
// frame, and projects issues into the simplified statuses used by the third-party
// cookie report. Everything here is a pure function of its inputs.
package issues

// Operation is the cookie operation that triggered the issue.
type Operation string

const (
	OperationSetCookie  Operation = "SetCookie"
	OperationReadCookie Operation = "ReadCookie"
)

// Reason is a CDP cookie exclusion or warning reason. Both enumerations share one
// type so that a single classifier can dispatch over either.
type Reason string

// Exclusion reasons: the cookie was blocked.
const (
	ExcludeSameSiteUnspecifiedTreatedAsLax            Reason = "ExcludeSameSiteUnspecifiedTreatedAsLax"
	ExcludeSameSiteNoneInsecure                       Reason = "ExcludeSameSiteNoneInsecure"
	ExcludeSameSiteLax                                Reason = "ExcludeSameSiteLax"
	ExcludeSameSiteStrict                             Reason = "ExcludeSameSiteStrict"
	ExcludeInvalidSameParty                           Reason = "ExcludeInvalidSameParty"
	ExcludeSamePartyCrossPartyContext                 Reason = "ExcludeSamePartyCrossPartyContext"
	ExcludeDomainNonASCII                             Reason = "ExcludeDomainNonASCII"
	ExcludeThirdPartyCookieBlockedInFirstPartySet     Reason = "ExcludeThirdPartyCookieBlockedInFirstPartySet"
	ExcludeThirdPartyCookieBlockedInRelatedWebsiteSet Reason = "ExcludeThirdPartyCookieBlockedInRelatedWebsiteSet"
	ExcludeThirdPartyPhaseout                         Reason = "ExcludeThirdPartyPhaseout"
	ExcludePortMismatch                               Reason = "ExcludePortMismatch"
	ExcludeSchemeMismatch                             Reason = "ExcludeSchemeMismatch"
)

// Warning reasons: the cookie was allowed but something about it will change.
const (
	WarnSameSiteUnspecifiedCrossSiteContext        Reason = "WarnSameSiteUnspecifiedCrossSiteContext"
	WarnSameSiteNoneInsecure                       Reason = "WarnSameSiteNoneInsecure"
	WarnSameSiteUnspecifiedLaxAllowUnsafe          Reason = "WarnSameSiteUnspecifiedLaxAllowUnsafe"
	WarnSameSiteStrictLaxDowngradeStrict           Reason = "WarnSameSiteStrictLaxDowngradeStrict"
	WarnSameSiteStrictCrossDowngradeStrict         Reason = "WarnSameSiteStrictCrossDowngradeStrict"
	WarnSameSiteStrictCrossDowngradeLax            Reason = "WarnSameSiteStrictCrossDowngradeLax"
	WarnSameSiteLaxCrossDowngradeStrict            Reason = "WarnSameSiteLaxCrossDowngradeStrict"
	WarnSameSiteLaxCrossDowngradeLax               Reason = "WarnSameSiteLaxCrossDowngradeLax"
	WarnAttributeValueExceedsMaxSize               Reason = "WarnAttributeValueExceedsMaxSize"
	WarnDomainNonASCII                             Reason = "WarnDomainNonASCII"
	WarnThirdPartyPhaseout                         Reason = "WarnThirdPartyPhaseout"
	WarnCrossSiteRedirectDowngradeChangesInclusion Reason = "WarnCrossSiteRedirectDowngradeChangesInclusion"
	WarnDeprecationTrialMetadata                   Reason = "WarnDeprecationTrialMetadata"
	WarnThirdPartyCookieHeuristic                  Reason = "WarnThirdPartyCookieHeuristic"
)

// reasonFamily groups reasons that share a classification rule.
type reasonFamily int

const (
	familyGeneric reasonFamily = iota
	familySameSiteExclusion
	familyLaxDowngradeWarning
	familyCrossDowngradeWarning
	familyPortMismatch
	familySchemeMismatch
)

func familyOf(r Reason) reasonFamily {
	switch r {
	case ExcludeSameSiteStrict, ExcludeSameSiteLax, ExcludeSameSiteUnspecifiedTreatedAsLax:
		return familySameSiteExclusion
	case WarnSameSiteStrictLaxDowngradeStrict:
		return familyLaxDowngradeWarning
	case WarnSameSiteStrictCrossDowngradeStrict,
		WarnSameSiteStrictCrossDowngradeLax,
		WarnSameSiteLaxCrossDowngradeStrict,
		WarnSameSiteLaxCrossDowngradeLax:
		return familyCrossDowngradeWarning
	case ExcludePortMismatch:
		return familyPortMismatch
	case ExcludeSchemeMismatch:
		return familySchemeMismatch
	default:
		return familyGeneric
	}
}

func containsReason(reasons []Reason, want Reason) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func containsFamily(reasons []Reason, want reasonFamily) bool {
	for _, r := range reasons {
		if familyOf(r) == want {
			return true
		}
	}
	return false
}
