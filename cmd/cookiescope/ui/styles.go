// Package ui renders cookiescope output for the terminal: styled tables for the
// one-shot commands and a live issue table for watch --tui.
package ui

import (
	"os"
	"strconv"
	"strings"

	"cookiescope/internal/issues"

	"github.com/charmbracelet/lipgloss"
)

// Kind and status colours are the same in both themes.
var (
	errorColor   = lipgloss.Color("#e53935")
	successColor = lipgloss.Color("#43a047")
	warningColor = lipgloss.Color("#ffb300")
	infoColor    = lipgloss.Color("#2196f3")
)

// Theme holds the current color scheme
type Theme struct {
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

func lightTheme() Theme {
	return Theme{
		Foreground: lipgloss.Color("#1f2933"),
		Primary:    lipgloss.Color("#3b4cca"),
		Muted:      lipgloss.Color("#9aa5b1"),
		Border:     lipgloss.Color("#cbd2d9"),
	}
}

func darkTheme() Theme {
	return Theme{
		Foreground: lipgloss.Color("#f2f2f2"),
		Primary:    lipgloss.Color("#8fa1ff"),
		Muted:      lipgloss.Color("#616e7c"),
		Border:     lipgloss.Color("#3e4c59"),
		IsDark:     true,
	}
}

// DetectTheme picks dark mode from COLORFGBG or COOKIESCOPE_DARK_MODE=1, light
// mode otherwise.
func DetectTheme() Theme {
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		// "foreground;background"; ANSI 0-6 and 8 are dark backgrounds.
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if (bgIdx >= 0 && bgIdx <= 6) || bgIdx == 8 {
					return darkTheme()
				}
			}
		}
	}
	if os.Getenv("COOKIESCOPE_DARK_MODE") == "1" {
		return darkTheme()
	}
	return lightTheme()
}

// Styles holds all the styled components
type Styles struct {
	Theme Theme

	Title  lipgloss.Style
	Body   lipgloss.Style
	Muted  lipgloss.Style
	Bold   lipgloss.Style
	Footer lipgloss.Style

	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	Divider lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			MarginBottom(1),
		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),
		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),
		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),
		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 1),

		Success: lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true),
		Error: lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true),
		Warning: lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true),
		Info: lipgloss.NewStyle().
			Foreground(infoColor),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// RenderDivider returns a horizontal divider
func (s Styles) RenderDivider(width int) string {
	return s.Divider.Render(strings.Repeat("─", width))
}

// Kind colours an issue kind: page errors red, breaking changes yellow.
func (s Styles) Kind(k issues.Kind) string {
	switch k {
	case issues.KindPageError:
		return s.Error.Render(string(k))
	case issues.KindBreakingChange:
		return s.Warning.Render(string(k))
	default:
		return s.Body.Render(string(k))
	}
}

// Status colours a third-party cookie report status.
func (s Styles) Status(st issues.Status) string {
	switch st {
	case issues.StatusBlocked:
		return s.Error.Render(st.String())
	case issues.StatusAllowed:
		return s.Success.Render(st.String())
	default:
		return s.Info.Render(st.String())
	}
}
