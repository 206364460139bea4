package ui

import (
	"fmt"
	"strings"

	"cookiescope/internal/issues"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// KindFilter narrows the live table to one issue kind.
type KindFilter int

const (
	KindFilterAll KindFilter = iota
	KindFilterPageError
	KindFilterBreakingChange
)

func (f KindFilter) String() string {
	switch f {
	case KindFilterPageError:
		return string(issues.KindPageError)
	case KindFilterBreakingChange:
		return string(issues.KindBreakingChange)
	default:
		return "all"
	}
}

func (f KindFilter) matches(k issues.Kind) bool {
	switch f {
	case KindFilterPageError:
		return k == issues.KindPageError
	case KindFilterBreakingChange:
		return k == issues.KindBreakingChange
	default:
		return true
	}
}

// IssueMsg delivers a newly aggregated issue to the page.
type IssueMsg struct {
	Issue      issues.Issue
	ThirdParty bool
}

// ClearMsg empties the page, e.g. after the watched page navigated.
type ClearMsg struct {
	URL string
}

// StatusMsg replaces the footer status line.
type StatusMsg string

type issueRow struct {
	issue      issues.Issue
	thirdParty bool
}

// IssuePageModel is the live issue table shown by watch --tui.
type IssuePageModel struct {
	width  int
	height int
	table  table.Model

	rows           []issueRow
	filter         KindFilter
	thirdPartyOnly bool
	url            string
	status         string

	styles Styles
}

// NewIssuePageModel creates an empty page.
func NewIssuePageModel(url string) IssuePageModel {
	t := table.New(
		table.WithColumns(issueColumns(120)),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	return IssuePageModel{
		table:  t,
		url:    url,
		styles: DefaultStyles(),
	}
}

func issueColumns(width int) []table.Column {
	code := width - 16 - 36 - 8 - 8
	if code < 30 {
		code = 30
	}
	return []table.Column{
		{Title: "Kind", Width: 16},
		{Title: "Code", Width: code},
		{Title: "Cookie", Width: 36},
		{Title: "Party", Width: 8},
	}
}

// Init initializes the model.
func (m IssuePageModel) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m IssuePageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetColumns(issueColumns(msg.Width))
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil
	case IssueMsg:
		m.rows = append(m.rows, issueRow{issue: msg.Issue, thirdParty: msg.ThirdParty})
		m.updateTableRows()
		return m, nil
	case ClearMsg:
		m.rows = nil
		if msg.URL != "" {
			m.url = msg.URL
		}
		m.updateTableRows()
		return m, nil
	case StatusMsg:
		m.status = string(msg)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.filter = (m.filter + 1) % 3
			m.updateTableRows()
			return m, nil
		case "t":
			m.thirdPartyOnly = !m.thirdPartyOnly
			m.updateTableRows()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *IssuePageModel) updateTableRows() {
	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.visible() {
		party := "first"
		if r.thirdParty {
			party = "third"
		}
		rows = append(rows, table.Row{
			string(r.issue.Kind()),
			strings.TrimPrefix(string(r.issue.Code()), issues.Namespace+"::"),
			r.issue.CookieID(),
			party,
		})
	}
	m.table.SetRows(rows)
}

func (m IssuePageModel) visible() []issueRow {
	out := make([]issueRow, 0, len(m.rows))
	for _, r := range m.rows {
		if !m.filter.matches(r.issue.Kind()) {
			continue
		}
		if m.thirdPartyOnly && !r.thirdParty {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Visible returns the number of rows that pass the current filters.
func (m IssuePageModel) Visible() int { return len(m.visible()) }

// View renders the page.
func (m IssuePageModel) View() string {
	var sb strings.Builder
	sb.WriteString(m.styles.Title.Render("cookiescope " + m.url))
	sb.WriteString("\n")
	sb.WriteString(m.table.View())
	sb.WriteString("\n")

	scope := "all parties"
	if m.thirdPartyOnly {
		scope = "third party only"
	}
	footer := fmt.Sprintf("%d/%d issues | kind: %s | %s | tab: kind  t: party  q: quit",
		m.Visible(), len(m.rows), m.filter, scope)
	if m.status != "" {
		footer += " | " + m.status
	}
	sb.WriteString(m.styles.Footer.Render(footer))
	return sb.String()
}
