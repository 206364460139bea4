package issues

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeReturnsCopy(t *testing.T) {
	code := Code("CookieIssue::ExcludeNavigationContextDowngrade::Secure")
	d, ok := Describe(code)
	require.True(t, ok)

	d.Links[0].Title = "changed"
	d.Substitutions[placeholderOrigin] = "changed"

	again, _ := Describe(code)
	assert.Equal(t, "How Schemeful Same-Site Works", again.Links[0].Title)
	assert.Equal(t, "an insecure", again.Substitutions[placeholderOrigin])
}

func TestDescribeUnknown(t *testing.T) {
	_, ok := Describe("CookieIssue::Nope")
	assert.False(t, ok)
}

func TestSchemefulSubstitutions(t *testing.T) {
	tests := []struct {
		code        Code
		destination string
		origin      string
	}{
		{"CookieIssue::WarnSameSiteStrictLaxDowngradeStrict::Secure", "a secure", "an insecure"},
		{"CookieIssue::WarnSameSiteStrictLaxDowngradeStrict::Insecure", "an insecure", "a secure"},
		{"CookieIssue::WarnCrossDowngrade::ReadCookie::Secure", "a secure", "an insecure"},
		{"CookieIssue::WarnCrossDowngrade::ReadCookie::Insecure", "an insecure", "a secure"},
		// The cross-downgrade set template swaps destination and origin.
		{"CookieIssue::WarnCrossDowngrade::SetCookie::Secure", "an insecure", "a secure"},
		{"CookieIssue::WarnCrossDowngrade::SetCookie::Insecure", "a secure", "an insecure"},
		{"CookieIssue::ExcludeNavigationContextDowngrade::Secure", "a secure", "an insecure"},
		{"CookieIssue::ExcludeContextDowngrade::SetCookie::Insecure", "an insecure", "a secure"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			d, ok := Describe(tt.code)
			require.True(t, ok)
			want := map[string]string{
				placeholderDestination: tt.destination,
				placeholderOrigin:      tt.origin,
			}
			if diff := cmp.Diff(want, d.Substitutions); diff != "" {
				t.Errorf("substitutions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEveryDescriptionRenders(t *testing.T) {
	for _, code := range DescribedCodes() {
		d, _ := Describe(code)
		text, err := RenderDescription(d)
		require.NoError(t, err, code)
		assert.NotEmpty(t, strings.TrimSpace(text), code)
		assert.NotContains(t, text, "{PLACEHOLDER_", code)
	}
}

func TestRenderDescriptionSubstitutes(t *testing.T) {
	d, ok := Describe("CookieIssue::WarnCrossDowngrade::ReadCookie::Secure")
	require.True(t, ok)
	text, err := RenderDescription(d)
	require.NoError(t, err)
	assert.Contains(t, text, "A cookie is being sent to a secure URL from an insecure context.")
}

func TestRenderDescriptionMissingFile(t *testing.T) {
	_, err := RenderDescription(Description{File: "missing.md"})
	assert.Error(t, err)
}

func TestDescribedCodes(t *testing.T) {
	codes := DescribedCodes()
	assert.True(t, slices.IsSorted(codes))
	assert.Contains(t, codes, Code("CookieIssue::ExcludePortMismatch"))
	assert.Contains(t, codes, Code("CookieIssue::ExcludeThirdPartyPhaseout::ReadCookie"))
	assert.Contains(t, codes, Code("CookieIssue::WarnThirdPartyCookieHeuristic::SetCookie"))
}

func TestClassifiedCodesHaveDescriptions(t *testing.T) {
	details := []Details{
		{ExclusionReasons: []Reason{ExcludeSameSiteStrict}, WarningReasons: []Reason{WarnSameSiteStrictLaxDowngradeStrict}, Operation: OperationReadCookie, CookieURL: "https://a.test"},
		{ExclusionReasons: []Reason{ExcludeSameSiteLax}, WarningReasons: []Reason{WarnSameSiteLaxCrossDowngradeStrict}, Operation: OperationSetCookie},
		{ExclusionReasons: []Reason{ExcludeSameSiteLax}, WarningReasons: []Reason{WarnCrossSiteRedirectDowngradeChangesInclusion}, Operation: OperationSetCookie},
		{ExclusionReasons: []Reason{ExcludePortMismatch, ExcludeSchemeMismatch, ExcludeSameSiteNoneInsecure}, Operation: OperationReadCookie},
		{WarningReasons: []Reason{WarnSameSiteUnspecifiedCrossSiteContext, WarnAttributeValueExceedsMaxSize, WarnSameSiteStrictCrossDowngradeLax}, Operation: OperationSetCookie},
	}
	for _, d := range details {
		for _, issue := range FromDetails(d, "") {
			_, ok := issue.Description()
			assert.True(t, ok, issue.Code())
		}
	}
}
