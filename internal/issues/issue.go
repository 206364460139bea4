package issues

import "fmt"

// Category is the issue category shown by diagnostics consumers.
type Category string

const CategoryCookie Category = "Cookie"

// Kind tells consumers how urgent an issue is.
type Kind string

const (
	// KindPageError means something on the page is broken right now.
	KindPageError Kind = "PageError"
	// KindBreakingChange means something will break in a future browser release.
	KindBreakingChange Kind = "BreakingChange"
)

// AffectedCookie identifies a cookie by name, path and domain.
type AffectedCookie struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Domain string `json:"domain"`
}

// AffectedRequest references the network request the cookie travelled with.
type AffectedRequest struct {
	RequestID string `json:"requestId"`
	URL       string `json:"url,omitempty"`
}

// InsightType explains why a third-party cookie was still allowed.
type InsightType string

const (
	InsightGitHubResource InsightType = "GitHubResource"
	InsightGracePeriod    InsightType = "GracePeriod"
	InsightHeuristics     InsightType = "Heuristics"
)

// Insight is the optional annotation attached to third-party cookie events.
type Insight struct {
	Type          InsightType `json:"type"`
	TableEntryURL string      `json:"tableEntryUrl,omitempty"`
}

// Details is the payload of one Audits cookie event. Field names follow the
// protocol so that recorded events decode directly.
type Details struct {
	Cookie           *AffectedCookie  `json:"cookie,omitempty"`
	RawCookieLine    string           `json:"rawCookieLine,omitempty"`
	WarningReasons   []Reason         `json:"cookieWarningReasons"`
	ExclusionReasons []Reason         `json:"cookieExclusionReasons"`
	Operation        Operation        `json:"operation"`
	SiteForCookies   string           `json:"siteForCookies,omitempty"`
	CookieURL        string           `json:"cookieUrl,omitempty"`
	Request          *AffectedRequest `json:"request,omitempty"`
	Insight          *Insight         `json:"insight,omitempty"`
}

// clone returns a deep copy so an Issue never shares mutable state with its input.
func (d Details) clone() Details {
	out := d
	if d.Cookie != nil {
		c := *d.Cookie
		out.Cookie = &c
	}
	if d.Request != nil {
		r := *d.Request
		out.Request = &r
	}
	if d.Insight != nil {
		in := *d.Insight
		out.Insight = &in
	}
	out.WarningReasons = append([]Reason(nil), d.WarningReasons...)
	out.ExclusionReasons = append([]Reason(nil), d.ExclusionReasons...)
	return out
}

// Issue is one classified cookie issue. It is immutable once created.
type Issue struct {
	code    Code
	details Details
	issueID string
}

// Code returns the issue code.
func (i Issue) Code() Code { return i.code }

// IssueID returns the protocol issue id, if the browser supplied one.
func (i Issue) IssueID() string { return i.issueID }

// Details returns a copy of the event the issue was created from.
func (i Issue) Details() Details { return i.details.clone() }

// Category is always CategoryCookie.
func (i Issue) Category() Category { return CategoryCookie }

// Kind is KindPageError when the cookie was blocked, KindBreakingChange otherwise.
func (i Issue) Kind() Kind {
	if len(i.details.ExclusionReasons) > 0 {
		return KindPageError
	}
	return KindBreakingChange
}

// CookieID identifies the affected cookie: domain;path;name when the browser sent
// structured cookie data, the raw cookie line otherwise.
func (i Issue) CookieID() string {
	if c := i.details.Cookie; c != nil {
		return fmt.Sprintf("%s;%s;%s", c.Domain, c.Path, c.Name)
	}
	if i.details.RawCookieLine != "" {
		return i.details.RawCookieLine
	}
	return "no-cookie-info"
}

// PrimaryKey identifies the issue for deduplication.
func (i Issue) PrimaryKey() string {
	requestID := "no-request"
	if i.details.Request != nil {
		requestID = i.details.Request.RequestID
	}
	return fmt.Sprintf("%s-(%s)-(%s)", i.code, i.CookieID(), requestID)
}

// Cookies returns the affected cookie, if any.
func (i Issue) Cookies() []AffectedCookie {
	if i.details.Cookie == nil {
		return nil
	}
	return []AffectedCookie{*i.details.Cookie}
}

// RawCookieLines returns the raw Set-Cookie line, if any.
func (i Issue) RawCookieLines() []string {
	if i.details.RawCookieLine == "" {
		return nil
	}
	return []string{i.details.RawCookieLine}
}

// Requests returns the affected request, if any.
func (i Issue) Requests() []AffectedRequest {
	if i.details.Request == nil {
		return nil
	}
	return []AffectedRequest{*i.details.Request}
}

// SubCategory buckets the issue code for metrics.
func (i Issue) SubCategory() SubCategory { return SubCategoryOf(i.code) }

// Description looks up the static explanation for the issue code.
func (i Issue) Description() (Description, bool) { return Describe(i.code) }

// IsCausedByThirdParty asks frames for the current outermost frame and compares it
// against the cookie URL. frames may be nil, in which case the frame is unknown.
func (i Issue) IsCausedByThirdParty(frames FrameSource) bool {
	var frame *Frame
	if frames != nil {
		frame = frames.OutermostFrame()
	}
	return IsCausedByThirdParty(frame, i.details.CookieURL, i.details.SiteForCookies)
}

// String implements fmt.Stringer.
func (i Issue) String() string { return i.PrimaryKey() }
