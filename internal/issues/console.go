package issues

// ConsoleLevel mirrors the protocol log entry levels used for issue messages.
type ConsoleLevel string

const ConsoleLevelWarning ConsoleLevel = "warning"

// ConsoleSourceIssuePanel marks console messages that originate from issues.
const ConsoleSourceIssuePanel = "issue-panel"

const blockedThirdPartyCookieMessage = "Third-party cookie is blocked in Chrome either because of Chrome flags or browser configuration."

// ConsoleMessage is a console entry derived from an issue.
type ConsoleMessage struct {
	Source              string       `json:"source"`
	Level               ConsoleLevel `json:"level"`
	Text                string       `json:"text"`
	URL                 string       `json:"url,omitempty"`
	RequestID           string       `json:"requestId,omitempty"`
	IssueID             string       `json:"issueId,omitempty"`
	IsCookieReportIssue bool         `json:"isCookieReportIssue"`
}

// ConsoleMessage returns the console warning for blocked third-party cookies. Other
// issues have no console counterpart.
func (i Issue) ConsoleMessage() (ConsoleMessage, bool) {
	if !i.code.Contains(string(ExcludeThirdPartyPhaseout)) {
		return ConsoleMessage{}, false
	}
	msg := ConsoleMessage{
		Source:              ConsoleSourceIssuePanel,
		Level:               ConsoleLevelWarning,
		Text:                blockedThirdPartyCookieMessage,
		IssueID:             i.issueID,
		IsCookieReportIssue: true,
	}
	if r := i.details.Request; r != nil {
		msg.URL = r.URL
		msg.RequestID = r.RequestID
	}
	return msg, true
}
