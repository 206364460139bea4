// Package aggregate collects classified cookie issues for one diagnostics session:
// it deduplicates them, groups them by code and fans new ones out to listeners.
package aggregate

import (
	"context"
	"sort"
	"sync"

	"cookiescope/internal/issues"
	"cookiescope/internal/logging"
)

// Sink receives every issue the aggregator has not seen before.
type Sink interface {
	Consume(ctx context.Context, issue issues.Issue)
}

// Options configures an Aggregator.
type Options struct {
	// IncludeFirstParty keeps issues that the outermost frame caused itself. When
	// false, reads only group issues that are third party for the frame Frames
	// returns at that moment; the rest are counted as hidden.
	IncludeFirstParty bool
	// Frames supplies the outermost frame for the first-party filter.
	Frames issues.FrameSource
	Sink   Sink
	// SubscriberBuffer sizes each subscription channel. Defaults to 64.
	SubscriberBuffer int
}

// Group is the aggregated view of one issue code.
type Group struct {
	Code           issues.Code
	Kind           issues.Kind
	SubCategory    issues.SubCategory
	Count          int
	Cookies        []issues.AffectedCookie
	RawCookieLines []string
	Requests       []issues.AffectedRequest
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	opts Options

	mu       sync.Mutex
	seen     map[string]bool
	all      []issues.Issue
	grouped  []issues.Issue
	phaseout []issues.Issue
	dropped  int
	subs     map[int]chan issues.Issue
	nextSub  int
}

// New creates an empty aggregator.
func New(opts Options) *Aggregator {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	a := &Aggregator{
		opts: opts,
		subs: make(map[int]chan issues.Issue),
	}
	a.reset()
	return a
}

func (a *Aggregator) reset() {
	a.seen = make(map[string]bool)
	a.all = nil
	a.grouped = nil
	a.phaseout = nil
}

// Add records issues and returns how many were new. Duplicates by primary key are
// ignored.
func (a *Aggregator) Add(ctx context.Context, batch ...issues.Issue) int {
	var fresh []issues.Issue

	a.mu.Lock()
	for _, issue := range batch {
		key := issue.PrimaryKey()
		if a.seen[key] {
			continue
		}
		a.seen[key] = true
		a.all = append(a.all, issue)
		fresh = append(fresh, issue)

		if issues.IsThirdPartyPhaseoutRelated(issue.Code()) {
			a.phaseout = append(a.phaseout, issue)
		} else {
			a.grouped = append(a.grouped, issue)
		}

		for id, ch := range a.subs {
			select {
			case ch <- issue:
			default:
				a.dropped++
				logging.IssuesWarn("subscriber %d is full, dropped %s", id, key)
			}
		}
	}
	a.mu.Unlock()

	if a.opts.Sink != nil {
		for _, issue := range fresh {
			a.opts.Sink.Consume(ctx, issue)
		}
	}
	if len(fresh) > 0 {
		logging.IssuesDebug("aggregated %d new issues (%d offered)", len(fresh), len(batch))
	}
	return len(fresh)
}

// visible reports whether the first-party filter lets issue through. The frame is
// looked up on every call since it changes as the page navigates.
func (a *Aggregator) visible(issue issues.Issue) bool {
	return a.opts.IncludeFirstParty || issue.IsCausedByThirdParty(a.opts.Frames)
}

// Groups returns one entry per visible code, in order of first appearance.
// Visibility is decided against the current outermost frame.
func (a *Aggregator) Groups() []Group {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		out         []Group
		index       = make(map[issues.Code]int)
		cookieSeen  = make(map[string]bool)
		rawSeen     = make(map[string]bool)
		requestSeen = make(map[string]bool)
	)
	for _, issue := range a.grouped {
		if !a.visible(issue) {
			continue
		}
		code := issue.Code()
		i, ok := index[code]
		if !ok {
			i = len(out)
			index[code] = i
			out = append(out, Group{
				Code:        code,
				Kind:        issue.Kind(),
				SubCategory: issue.SubCategory(),
			})
		}
		g := &out[i]
		g.Count++

		prefix := string(code) + "|"
		for _, c := range issue.Cookies() {
			key := prefix + c.Domain + ";" + c.Path + ";" + c.Name
			if !cookieSeen[key] {
				cookieSeen[key] = true
				g.Cookies = append(g.Cookies, c)
			}
		}
		for _, line := range issue.RawCookieLines() {
			if !rawSeen[prefix+line] {
				rawSeen[prefix+line] = true
				g.RawCookieLines = append(g.RawCookieLines, line)
			}
		}
		for _, r := range issue.Requests() {
			if !requestSeen[prefix+r.RequestID] {
				requestSeen[prefix+r.RequestID] = true
				g.Requests = append(g.Requests, r)
			}
		}
	}
	return out
}

// Counts returns the number of visible issues per kind.
func (a *Aggregator) Counts() map[issues.Kind]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[issues.Kind]int)
	for _, issue := range a.grouped {
		if a.visible(issue) {
			out[issue.Kind()]++
		}
	}
	return out
}

// Issues returns every distinct issue seen, in arrival order.
func (a *Aggregator) Issues() []issues.Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]issues.Issue(nil), a.all...)
}

// PhaseoutIssues returns the third-party phaseout issues kept out of Groups.
func (a *Aggregator) PhaseoutIssues() []issues.Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]issues.Issue(nil), a.phaseout...)
}

// HiddenCount is the number of issues the first-party filter currently suppresses.
func (a *Aggregator) HiddenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	hidden := 0
	for _, issue := range a.grouped {
		if !a.visible(issue) {
			hidden++
		}
	}
	return hidden
}

// Dropped is the number of deliveries skipped because a subscriber was full.
func (a *Aggregator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Len is the number of distinct issues seen.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.all)
}

// Clear discards everything collected so far. Subscriptions stay open.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	logging.IssuesDebug("aggregate cleared")
}

// Subscribe delivers each new issue on the returned channel until ctx is done, at
// which point the channel is closed. A subscriber that falls behind loses issues
// rather than blocking Add.
func (a *Aggregator) Subscribe(ctx context.Context) <-chan issues.Issue {
	ch := make(chan issues.Issue, a.opts.SubscriberBuffer)

	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		delete(a.subs, id)
		close(ch)
		a.mu.Unlock()
	}()
	return ch
}

// SortedGroups returns Groups ordered by descending count, then code.
func (a *Aggregator) SortedGroups() []Group {
	groups := a.Groups()
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Code < groups[j].Code
	})
	return groups
}
