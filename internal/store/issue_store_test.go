package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"cookiescope/internal/entities"
	"cookiescope/internal/issues"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *IssueStore {
	t.Helper()
	s, err := NewIssueStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func one(t *testing.T, d issues.Details) issues.Issue {
	t.Helper()
	got := issues.FromDetails(d, "")
	require.Len(t, got, 1)
	return got[0]
}

func noneInsecure(name, requestID string) issues.Details {
	return issues.Details{
		Cookie:           &issues.AffectedCookie{Name: name, Path: "/", Domain: "example.com"},
		ExclusionReasons: []issues.Reason{issues.ExcludeSameSiteNoneInsecure},
		Operation:        issues.OperationSetCookie,
		CookieURL:        "https://example.com/",
		Request:          &issues.AffectedRequest{RequestID: requestID, URL: "https://example.com/"},
	}
}

func phaseout(name, domain, cookieURL string) issues.Details {
	return issues.Details{
		Cookie:           &issues.AffectedCookie{Name: name, Path: "/", Domain: domain},
		ExclusionReasons: []issues.Reason{issues.ExcludeThirdPartyPhaseout},
		Operation:        issues.OperationReadCookie,
		CookieURL:        cookieURL,
	}
}

func TestNewIssueStore(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, tableExists(s.DB(), "cookie_issues"))
	assert.True(t, columnExists(s.DB(), "cookie_issues", "report_status"))
	assert.Equal(t, CurrentSchemaVersion, SchemaVersion(s.DB()))
}

func TestNewIssueStore_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "issues.db")
	s, err := NewIssueStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveIssue(context.Background(), "s1", one(t, noneInsecure("a", "r1"))))
	require.NoError(t, s.Close())

	reopened, err := NewIssueStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.ListIssues(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveIssue_UpsertCountsOccurrences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	issue := one(t, noneInsecure("a", "r1"))

	require.NoError(t, s.SaveIssue(ctx, "s1", issue))
	require.NoError(t, s.SaveIssue(ctx, "s1", issue))

	got, err := s.GetIssue(ctx, "s1", issue.PrimaryKey())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Occurrences)
	assert.Equal(t, issue.Code(), got.Code)
	assert.Equal(t, issues.KindPageError, got.Kind)
	assert.Equal(t, issues.SubCategorySameSiteCookie, got.SubCategory)
	assert.Equal(t, "example.com;/;a", got.CookieID)
	assert.Equal(t, "r1", got.RequestID)
	assert.True(t, got.LastSeen.After(got.FirstSeen))
	assert.Equal(t, issues.OperationSetCookie, got.Details.Operation)
}

func TestGetIssue_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetIssue(context.Background(), "s1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIssues_Filters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	warn := issues.Details{
		RawCookieLine:  "b=1",
		WarningReasons: []issues.Reason{issues.WarnSameSiteNoneInsecure},
		Operation:      issues.OperationReadCookie,
	}
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, noneInsecure("a", "r1"))))
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, warn)))
	require.NoError(t, s.SaveIssue(ctx, "s2", one(t, noneInsecure("c", "r2"))))

	all, err := s.ListIssues(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s2", all[0].SessionID, "most recent first")

	s1, err := s.ListIssues(ctx, Filter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, s1, 2)

	breaking, err := s.ListIssues(ctx, Filter{Kind: issues.KindBreakingChange})
	require.NoError(t, err)
	require.Len(t, breaking, 1)
	assert.Equal(t, "b=1", breaking[0].CookieID)

	excl, err := s.ListIssues(ctx, Filter{CodePrefix: "CookieIssue::Exclude"})
	require.NoError(t, err)
	assert.Len(t, excl, 2)

	limited, err := s.ListIssues(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCodeCounts_SkipsPhaseout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, noneInsecure("a", "r1"))))
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, noneInsecure("a", "r1"))))
	require.NoError(t, s.SaveIssue(ctx, "s2", one(t, noneInsecure("b", "r2"))))
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, phaseout("_ga", ".google-analytics.com", "https://www.google-analytics.com/"))))

	counts, err := s.CodeCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, issues.Code("CookieIssue::ExcludeSameSiteNoneInsecure::SetCookie"), counts[0].Code)
	assert.Equal(t, 2, counts[0].Issues)
	assert.Equal(t, 3, counts[0].Occurrences)
}

func TestReportEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, phaseout("_ga", ".google-analytics.com", "https://www.google-analytics.com/collect"))))
	require.NoError(t, s.SaveIssue(ctx, "s2", one(t, phaseout("_ga", ".google-analytics.com", "https://www.google-analytics.com/collect"))))
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, phaseout("id", "unknown.test", "https://unknown.test/"))))
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, noneInsecure("a", "r1"))))

	entries, err := s.ReportEntries(ctx, entities.Default())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]issues.ReportInfo{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	ga := byName["_ga"]
	assert.Equal(t, issues.StatusBlocked, ga.Status)
	assert.Equal(t, "Google Analytics", ga.Platform)
	assert.Equal(t, "analytics", ga.Type)

	unknown := byName["id"]
	assert.Empty(t, unknown.Platform)
	assert.Equal(t, "unknown.test", unknown.Domain)
}

func TestReportEntries_OneRowPerNameAndDomain(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root := phaseout("id", ".ads.com", "https://ads.com/")
	sub := phaseout("id", ".ads.com", "https://ads.com/a")
	sub.Cookie.Path = "/a"
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, root)))
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, sub)))

	stored, err := s.ListIssues(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, stored, 2, "different paths are different issues")

	entries, err := s.ReportEntries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "id", entries[0].Name)
	assert.Equal(t, ".ads.com", entries[0].Domain)
}

func TestReportEntries_NilResolver(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, phaseout("_ga", ".google-analytics.com", "https://www.google-analytics.com/"))))

	entries, err := s.ReportEntries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Platform)
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveIssue(ctx, "s1", one(t, noneInsecure("a", "r1"))))
	require.NoError(t, s.SaveIssue(ctx, "s2", one(t, noneInsecure("b", "r2"))))

	n, err := s.ClearSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.ListIssues(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "s2", left[0].SessionID)
}

func TestSessionSink(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sink := s.Sink("s9")
	sink.Consume(ctx, one(t, noneInsecure("a", "r1")))

	got, err := s.ListIssues(ctx, Filter{SessionID: "s9"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunMigrations_AddsMissingColumns(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE cookie_issues (session_id TEXT, primary_key TEXT)`)
	require.NoError(t, err)

	require.NoError(t, RunMigrations(db))
	assert.True(t, columnExists(db, "cookie_issues", "report_status"))
	assert.True(t, columnExists(db, "cookie_issues", "insight_type"))

	// Idempotent.
	require.NoError(t, RunMigrations(db))
}
