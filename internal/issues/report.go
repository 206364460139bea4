package issues

import (
	"strings"

	"cookiescope/internal/entities"
)

// SubCategory buckets issue codes for metrics. The values are stable strings.
type SubCategory string

const (
	SubCategoryGenericCookie            SubCategory = "GenericCookie"
	SubCategorySameSiteCookie           SubCategory = "SameSiteCookie"
	SubCategoryThirdPartyPhaseoutCookie SubCategory = "ThirdPartyPhaseoutCookie"
)

// SubCategoryOf derives the subcategory from the code text.
func SubCategoryOf(code Code) SubCategory {
	switch {
	case code.Contains("SameSite") || code.Contains("Downgrade"):
		return SubCategorySameSiteCookie
	case code.Contains("ThirdPartyPhaseout"):
		return SubCategoryThirdPartyPhaseoutCookie
	default:
		return SubCategoryGenericCookie
	}
}

// thirdPartyPhaseoutReasons are reported by the cookie report tool and kept out of
// aggregated issue counts.
var thirdPartyPhaseoutReasons = []Reason{
	WarnThirdPartyCookieHeuristic,
	WarnDeprecationTrialMetadata,
	WarnThirdPartyPhaseout,
	ExcludeThirdPartyPhaseout,
}

// IsThirdPartyPhaseoutRelated reports whether the code belongs to the third-party
// cookie phaseout family.
func IsThirdPartyPhaseoutRelated(code Code) bool {
	for _, r := range thirdPartyPhaseoutReasons {
		if code.Contains(string(r)) {
			return true
		}
	}
	return false
}

// Status is the simplified cookie status shown by the third-party cookie report.
type Status int

const (
	StatusBlocked Status = iota
	StatusAllowed
	StatusAllowedByGracePeriod
	StatusAllowedByHeuristics
)

func (s Status) String() string {
	switch s {
	case StatusBlocked:
		return "blocked"
	case StatusAllowed:
		return "allowed"
	case StatusAllowedByGracePeriod:
		return "allowed-by-grace-period"
	case StatusAllowedByHeuristics:
		return "allowed-by-heuristics"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusBlocked, StatusAllowed, StatusAllowedByGracePeriod, StatusAllowedByHeuristics} {
		if strings.EqualFold(s, st.String()) {
			return st, true
		}
	}
	return 0, false
}

// StatusOf projects a cookie event onto a report status. The checks run in fixed
// priority order; false means the event is not relevant to the report.
func StatusOf(d Details) (Status, bool) {
	switch {
	case containsReason(d.ExclusionReasons, ExcludeThirdPartyPhaseout):
		return StatusBlocked, true
	case containsReason(d.WarningReasons, WarnDeprecationTrialMetadata):
		return StatusAllowedByGracePeriod, true
	case containsReason(d.WarningReasons, WarnThirdPartyCookieHeuristic):
		return StatusAllowedByHeuristics, true
	case containsReason(d.WarningReasons, WarnThirdPartyPhaseout):
		return StatusAllowed, true
	}
	return 0, false
}

// EntityResolver maps a URL to the third-party entity that owns it.
type EntityResolver interface {
	Lookup(rawURL string) (*entities.Entity, bool)
}

// ReportInfo is one row of the third-party cookie report.
type ReportInfo struct {
	Name     string   `json:"name"`
	Domain   string   `json:"domain"`
	Type     string   `json:"type,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Status   Status   `json:"status"`
	Insight  *Insight `json:"insight,omitempty"`
}

// ReportEntry builds the report row for the issue. It needs structured cookie data,
// a cookie URL and a report status; resolver may be nil.
func (i Issue) ReportEntry(resolver EntityResolver) (ReportInfo, bool) {
	return ReportEntryFor(i.details, resolver)
}

// ReportEntryFor builds a report row straight from event details.
func ReportEntryFor(d Details, resolver EntityResolver) (ReportInfo, bool) {
	status, ok := StatusOf(d)
	if !ok || d.Cookie == nil || d.CookieURL == "" {
		return ReportInfo{}, false
	}
	info := ReportInfo{
		Name:   d.Cookie.Name,
		Domain: d.Cookie.Domain,
		Status: status,
	}
	if d.Insight != nil {
		in := *d.Insight
		info.Insight = &in
	}
	if resolver != nil {
		if entity, found := resolver.Lookup(d.CookieURL); found {
			info.Type = entity.Category
			info.Platform = entity.Name
		}
	}
	return info, true
}
