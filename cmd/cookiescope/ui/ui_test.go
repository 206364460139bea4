package ui

import (
	"strings"
	"testing"

	"cookiescope/internal/issues"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectTheme(t *testing.T) {
	t.Setenv("COLORFGBG", "")
	t.Setenv("COOKIESCOPE_DARK_MODE", "1")
	assert.True(t, DetectTheme().IsDark)

	t.Setenv("COOKIESCOPE_DARK_MODE", "")
	assert.False(t, DetectTheme().IsDark)

	t.Setenv("COLORFGBG", "15;0")
	assert.True(t, DetectTheme().IsDark)
}

func TestSimpleTable(t *testing.T) {
	table := NewSimpleTable("Codes", []string{"Code", "Count"})
	assert.Empty(t, table.View(DefaultStyles()))

	table.AddRow("CookieIssue::ExcludePortMismatch", "3")
	table.AddRow("short")
	require.Equal(t, 2, table.Len())
	assert.Equal(t, []string{"short", ""}, table.Rows[1])

	view := table.View(DefaultStyles())
	assert.Contains(t, view, "Codes")
	assert.Contains(t, view, "CookieIssue::ExcludePortMismatch")
	assert.Contains(t, view, "Count")
}

func issueOf(t *testing.T, d issues.Details) issues.Issue {
	t.Helper()
	got := issues.FromDetails(d, "")
	require.Len(t, got, 1)
	return got[0]
}

func TestIssuePageFilters(t *testing.T) {
	blocked := issueOf(t, issues.Details{
		Cookie:           &issues.AffectedCookie{Name: "a", Domain: "x.test", Path: "/"},
		ExclusionReasons: []issues.Reason{issues.ExcludeSameSiteNoneInsecure},
		Operation:        issues.OperationSetCookie,
	})
	warned := issueOf(t, issues.Details{
		RawCookieLine:  "b=1",
		WarningReasons: []issues.Reason{issues.WarnSameSiteNoneInsecure},
		Operation:      issues.OperationReadCookie,
	})

	var m tea.Model = NewIssuePageModel("https://example.com")
	m, _ = m.Update(IssueMsg{Issue: blocked, ThirdParty: true})
	m, _ = m.Update(IssueMsg{Issue: warned})
	assert.Equal(t, 2, m.(IssuePageModel).Visible())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, KindFilterPageError, m.(IssuePageModel).filter)
	assert.Equal(t, 1, m.(IssuePageModel).Visible())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, 1, m.(IssuePageModel).Visible())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	assert.Equal(t, 0, m.(IssuePageModel).Visible(), "the breaking change is first party")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, 1, m.(IssuePageModel).Visible())

	view := m.View()
	assert.Contains(t, view, "ExcludeSameSiteNoneInsecure::SetCookie")
	assert.Contains(t, view, "third party only")

	m, _ = m.Update(ClearMsg{URL: "https://other.test"})
	assert.Equal(t, 0, m.(IssuePageModel).Visible())
	assert.True(t, strings.Contains(m.View(), "https://other.test"))
}

func TestIssuePageQuit(t *testing.T) {
	m := NewIssuePageModel("")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestStylesKindAndStatus(t *testing.T) {
	s := DefaultStyles()
	assert.Contains(t, s.Kind(issues.KindPageError), "PageError")
	assert.Contains(t, s.Kind(issues.KindBreakingChange), "BreakingChange")
	assert.Contains(t, s.Status(issues.StatusBlocked), "blocked")
	assert.Contains(t, s.Status(issues.StatusAllowed), "allowed")
	assert.Contains(t, s.Status(issues.StatusAllowedByHeuristics), "allowed-by-heuristics")
	assert.NotEmpty(t, s.RenderDivider(4))
}
