package aggregate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cookiescope/internal/issues"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticFrames struct{ frame *issues.Frame }

func (s staticFrames) OutermostFrame() *issues.Frame { return s.frame }

type movingFrames struct{ frame atomic.Pointer[issues.Frame] }

func (m *movingFrames) OutermostFrame() *issues.Frame { return m.frame.Load() }

type recordingSink struct {
	mu  sync.Mutex
	got []issues.Issue
}

func (r *recordingSink) Consume(_ context.Context, issue issues.Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, issue)
}

func build(t *testing.T, d issues.Details) issues.Issue {
	t.Helper()
	got := issues.FromDetails(d, "")
	require.Len(t, got, 1)
	return got[0]
}

func blocked(name, requestID, cookieURL string) issues.Details {
	return issues.Details{
		Cookie:           &issues.AffectedCookie{Name: name, Path: "/", Domain: "example.com"},
		ExclusionReasons: []issues.Reason{issues.ExcludeSameSiteNoneInsecure},
		Operation:        issues.OperationSetCookie,
		CookieURL:        cookieURL,
		SiteForCookies:   "https://example.com/",
		Request:          &issues.AffectedRequest{RequestID: requestID},
	}
}

func TestAdd_DeduplicatesByPrimaryKey(t *testing.T) {
	a := New(Options{IncludeFirstParty: true})
	issue := build(t, blocked("a", "r1", "https://example.com/"))

	assert.Equal(t, 1, a.Add(context.Background(), issue))
	assert.Equal(t, 0, a.Add(context.Background(), issue))
	assert.Equal(t, 1, a.Len())
}

func TestGroups_CollectAffectedResources(t *testing.T) {
	ctx := context.Background()
	a := New(Options{IncludeFirstParty: true})

	a.Add(ctx,
		build(t, blocked("a", "r1", "https://example.com/")),
		build(t, blocked("a", "r2", "https://example.com/")),
		build(t, blocked("b", "r2", "https://example.com/")),
	)
	warn := issues.Details{
		RawCookieLine:  "c=1; SameSite=None",
		WarningReasons: []issues.Reason{issues.WarnSameSiteNoneInsecure},
		Operation:      issues.OperationSetCookie,
	}
	a.Add(ctx, build(t, warn))

	groups := a.Groups()
	require.Len(t, groups, 2)

	g := groups[0]
	assert.Equal(t, issues.Code("CookieIssue::ExcludeSameSiteNoneInsecure::SetCookie"), g.Code)
	assert.Equal(t, 3, g.Count)
	assert.Equal(t, issues.KindPageError, g.Kind)
	assert.Len(t, g.Cookies, 2)
	assert.Len(t, g.Requests, 2)

	w := groups[1]
	assert.Equal(t, issues.KindBreakingChange, w.Kind)
	assert.Equal(t, []string{"c=1; SameSite=None"}, w.RawCookieLines)

	counts := a.Counts()
	assert.Equal(t, 3, counts[issues.KindPageError])
	assert.Equal(t, 1, counts[issues.KindBreakingChange])
}

func TestSortedGroups(t *testing.T) {
	ctx := context.Background()
	a := New(Options{IncludeFirstParty: true})
	warn := issues.Details{
		RawCookieLine:  "c=1",
		WarningReasons: []issues.Reason{issues.WarnSameSiteNoneInsecure},
		Operation:      issues.OperationSetCookie,
	}
	a.Add(ctx, build(t, warn))
	a.Add(ctx,
		build(t, blocked("a", "r1", "https://example.com/")),
		build(t, blocked("b", "r2", "https://example.com/")),
	)

	sorted := a.SortedGroups()
	require.Len(t, sorted, 2)
	assert.Equal(t, 2, sorted[0].Count)
}

func TestPhaseoutIssuesAreKeptApart(t *testing.T) {
	a := New(Options{IncludeFirstParty: true})
	a.Add(context.Background(), build(t, issues.Details{
		Cookie:           &issues.AffectedCookie{Name: "_ga", Path: "/", Domain: ".google-analytics.com"},
		ExclusionReasons: []issues.Reason{issues.ExcludeThirdPartyPhaseout},
		Operation:        issues.OperationReadCookie,
		CookieURL:        "https://www.google-analytics.com/",
	}))

	assert.Empty(t, a.Groups())
	assert.Len(t, a.PhaseoutIssues(), 1)
	assert.Equal(t, 1, a.Len())
}

func TestFirstPartyFilter(t *testing.T) {
	frames := staticFrames{frame: issues.NewFrame("https://www.example.com/")}
	a := New(Options{IncludeFirstParty: false, Frames: frames})

	ctx := context.Background()
	a.Add(ctx, build(t, blocked("first", "r1", "https://cdn.example.com/")))
	a.Add(ctx, build(t, blocked("third", "r2", "https://tracker.test/")))

	groups := a.Groups()
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Cookies, 1)
	assert.Equal(t, "third", groups[0].Cookies[0].Name)
	assert.Equal(t, 1, a.HiddenCount())
}

func TestFirstPartyFilter_UnknownFrameShowsEverything(t *testing.T) {
	a := New(Options{IncludeFirstParty: false, Frames: staticFrames{}})
	a.Add(context.Background(), build(t, blocked("first", "r1", "https://example.com/")))

	assert.Len(t, a.Groups(), 1)
	assert.Zero(t, a.HiddenCount())
}

func TestFirstPartyFilter_FollowsFrameChanges(t *testing.T) {
	frames := &movingFrames{}
	a := New(Options{IncludeFirstParty: false, Frames: frames})

	issue := build(t, blocked("sid", "r1", "https://www.example.com/"))
	a.Add(context.Background(), issue)
	require.Len(t, a.Groups(), 1, "unknown frame counts as third party")
	assert.Zero(t, a.HiddenCount())

	frames.frame.Store(issues.NewFrame("https://example.com/"))
	assert.Empty(t, a.Groups())
	assert.Empty(t, a.Counts())
	assert.Equal(t, 1, a.HiddenCount())

	frames.frame.Store(issues.NewFrame("https://news.test.org/"))
	require.Len(t, a.Groups(), 1)
	assert.Equal(t, 1, a.Counts()[issues.KindPageError])
	assert.Zero(t, a.HiddenCount())
	assert.Equal(t, 1, a.Len())
}

func TestSinkReceivesOnlyNewIssues(t *testing.T) {
	sink := &recordingSink{}
	a := New(Options{IncludeFirstParty: true, Sink: sink})
	issue := build(t, blocked("a", "r1", "https://example.com/"))

	a.Add(context.Background(), issue, issue)
	a.Add(context.Background(), issue)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.got, 1)
}

func TestClear(t *testing.T) {
	a := New(Options{IncludeFirstParty: true})
	issue := build(t, blocked("a", "r1", "https://example.com/"))
	a.Add(context.Background(), issue)

	a.Clear()
	assert.Zero(t, a.Len())
	assert.Empty(t, a.Groups())

	assert.Equal(t, 1, a.Add(context.Background(), issue), "cleared issues count as new again")
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := New(Options{IncludeFirstParty: true})
	ch := a.Subscribe(ctx)

	issue := build(t, blocked("a", "r1", "https://example.com/"))
	a.Add(context.Background(), issue, issue)

	select {
	case got := <-ch:
		assert.Equal(t, issue.PrimaryKey(), got.PrimaryKey())
	case <-time.After(time.Second):
		t.Fatal("no issue delivered")
	}

	cancel()
	for range ch {
	}
}

func TestSubscribe_FullSubscriberDrops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(Options{IncludeFirstParty: true, SubscriberBuffer: 1})
	ch := a.Subscribe(ctx)

	a.Add(context.Background(),
		build(t, blocked("a", "r1", "https://example.com/")),
		build(t, blocked("b", "r2", "https://example.com/")),
	)
	assert.Equal(t, 1, a.Dropped())
	assert.Len(t, ch, 1)

	cancel()
	for range ch {
	}
}

func TestConcurrentAdd(t *testing.T) {
	a := New(Options{IncludeFirstParty: true})
	ctx := context.Background()
	issue := build(t, blocked("a", "r1", "https://example.com/"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				a.Add(ctx, issue)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, a.Len())
}
