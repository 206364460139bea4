package issues

import "cookiescope/internal/logging"

// InspectorIssueCodeCookieIssue is the Audits inspector issue code for cookie issues.
const InspectorIssueCodeCookieIssue = "CookieIssue"

// InspectorIssueDetails holds the per-code payloads of an inspector issue. Only
// cookie details are decoded; other issue kinds are ignored.
type InspectorIssueDetails struct {
	CookieIssueDetails *Details `json:"cookieIssueDetails,omitempty"`
}

// InspectorIssue is the params.issue object of an Audits.issueAdded event.
type InspectorIssue struct {
	Code    string                `json:"code"`
	Details InspectorIssueDetails `json:"details"`
	IssueID string                `json:"issueId,omitempty"`
}

// IssueAdded is the params object of an Audits.issueAdded event.
type IssueAdded struct {
	Issue InspectorIssue `json:"issue"`
}

// FromDetails creates the issues for one cookie event, in reason order.
//
// Exclusion reasons take priority: a blocked cookie gets one issue per exclusion and
// its warnings are not raised separately. Warnings are only turned into issues when
// nothing was excluded, each classified on its own.
func FromDetails(details Details, issueID string) []Issue {
	d := details.clone()
	var out []Issue

	if len(d.ExclusionReasons) > 0 {
		for _, reason := range d.ExclusionReasons {
			code, ok := CodeFor(reason, d.WarningReasons, d.Operation, d.CookieURL)
			if !ok {
				logging.IssuesDebug("exclusion %s dropped: no qualifying warning", reason)
				continue
			}
			out = append(out, Issue{code: code, details: d, issueID: issueID})
		}
		return out
	}

	for _, reason := range d.WarningReasons {
		code, ok := CodeFor(reason, nil, d.Operation, d.CookieURL)
		if !ok {
			continue
		}
		out = append(out, Issue{code: code, details: d, issueID: issueID})
	}
	return out
}

// FromInspectorIssue creates issues from a cookie inspector issue. An issue without
// cookie details is logged and produces nothing.
func FromInspectorIssue(issue InspectorIssue) []Issue {
	if issue.Details.CookieIssueDetails == nil {
		logging.IssuesWarn("Cookie issue without details received (issue id %q)", issue.IssueID)
		return nil
	}
	return FromDetails(*issue.Details.CookieIssueDetails, issue.IssueID)
}
