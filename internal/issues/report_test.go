package issues

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookiescope/internal/entities"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		d      Details
		want   Status
		wantOK bool
	}{
		{
			name: "blocked wins over every warning",
			d: Details{
				ExclusionReasons: []Reason{ExcludeThirdPartyPhaseout},
				WarningReasons:   []Reason{WarnDeprecationTrialMetadata, WarnThirdPartyCookieHeuristic, WarnThirdPartyPhaseout},
			},
			want: StatusBlocked, wantOK: true,
		},
		{
			name:   "grace period before heuristics",
			d:      Details{WarningReasons: []Reason{WarnThirdPartyCookieHeuristic, WarnDeprecationTrialMetadata}},
			want:   StatusAllowedByGracePeriod,
			wantOK: true,
		},
		{
			name:   "heuristics before plain phaseout warning",
			d:      Details{WarningReasons: []Reason{WarnThirdPartyPhaseout, WarnThirdPartyCookieHeuristic}},
			want:   StatusAllowedByHeuristics,
			wantOK: true,
		},
		{
			name:   "phaseout warning alone",
			d:      Details{WarningReasons: []Reason{WarnThirdPartyPhaseout}},
			want:   StatusAllowed,
			wantOK: true,
		},
		{
			name:   "unrelated reasons",
			d:      Details{ExclusionReasons: []Reason{ExcludeSameSiteNoneInsecure}},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StatusOf(tt.d)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSubCategoryOf(t *testing.T) {
	assert.Equal(t, SubCategorySameSiteCookie, SubCategoryOf("CookieIssue::ExcludeSameSiteNoneInsecure::SetCookie"))
	assert.Equal(t, SubCategorySameSiteCookie, SubCategoryOf("CookieIssue::ExcludeNavigationContextDowngrade::Secure"))
	assert.Equal(t, SubCategorySameSiteCookie, SubCategoryOf("CookieIssue::CrossSiteRedirectDowngradeChangesInclusion"))
	assert.Equal(t, SubCategoryThirdPartyPhaseoutCookie, SubCategoryOf("CookieIssue::WarnThirdPartyPhaseout::ReadCookie"))
	assert.Equal(t, SubCategoryGenericCookie, SubCategoryOf("CookieIssue::ExcludePortMismatch"))
}

func TestIsThirdPartyPhaseoutRelated(t *testing.T) {
	assert.True(t, IsThirdPartyPhaseoutRelated("CookieIssue::ExcludeThirdPartyPhaseout::ReadCookie"))
	assert.True(t, IsThirdPartyPhaseoutRelated("CookieIssue::WarnThirdPartyCookieHeuristic::SetCookie"))
	assert.True(t, IsThirdPartyPhaseoutRelated("CookieIssue::WarnDeprecationTrialMetadata::ReadCookie"))
	assert.False(t, IsThirdPartyPhaseoutRelated("CookieIssue::ExcludeSchemeMismatch"))
}

func TestParseStatus(t *testing.T) {
	for _, st := range []Status{StatusBlocked, StatusAllowed, StatusAllowedByGracePeriod, StatusAllowedByHeuristics} {
		got, ok := ParseStatus(st.String())
		require.True(t, ok, st.String())
		assert.Equal(t, st, got)
	}
	got, ok := ParseStatus("BLOCKED")
	assert.True(t, ok)
	assert.Equal(t, StatusBlocked, got)

	_, ok = ParseStatus("nope")
	assert.False(t, ok)
	assert.Equal(t, "unknown", Status(42).String())
}

func TestReportEntryFor(t *testing.T) {
	d := Details{
		Cookie:           &AffectedCookie{Name: "_ga", Domain: ".google-analytics.com", Path: "/"},
		ExclusionReasons: []Reason{ExcludeThirdPartyPhaseout},
		CookieURL:        "https://www.google-analytics.com/collect",
		Insight:          &Insight{Type: InsightGracePeriod, TableEntryURL: "https://example.com/table"},
	}

	info, ok := ReportEntryFor(d, entities.Default())
	require.True(t, ok)
	assert.Equal(t, "_ga", info.Name)
	assert.Equal(t, ".google-analytics.com", info.Domain)
	assert.Equal(t, StatusBlocked, info.Status)
	assert.Equal(t, "Google Analytics", info.Platform)
	assert.Equal(t, "analytics", info.Type)
	require.NotNil(t, info.Insight)
	assert.Equal(t, InsightGracePeriod, info.Insight.Type)

	d.Insight.Type = InsightHeuristics
	assert.Equal(t, InsightGracePeriod, info.Insight.Type, "entry must not alias the insight")

	unresolved, ok := ReportEntryFor(d, nil)
	require.True(t, ok)
	assert.Empty(t, unresolved.Platform)
	assert.Empty(t, unresolved.Type)
}

func TestReportEntryForRequiresCookieAndURL(t *testing.T) {
	base := Details{WarningReasons: []Reason{WarnThirdPartyPhaseout}}

	_, ok := ReportEntryFor(base, nil)
	assert.False(t, ok, "no cookie")

	withCookie := base
	withCookie.Cookie = &AffectedCookie{Name: "a"}
	_, ok = ReportEntryFor(withCookie, nil)
	assert.False(t, ok, "no cookie url")

	withCookie.CookieURL = "https://x.test/"
	info, ok := ReportEntryFor(withCookie, nil)
	assert.True(t, ok)
	assert.Equal(t, StatusAllowed, info.Status)

	_, ok = ReportEntryFor(Details{Cookie: &AffectedCookie{Name: "a"}, CookieURL: "https://x.test/"}, nil)
	assert.False(t, ok, "no report status")
}
