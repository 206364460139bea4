package main

import (
	"fmt"
	"strings"

	"cookiescope/internal/issues"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var describeRaw bool

var describeCmd = &cobra.Command{
	Use:   "describe <code>",
	Short: "Explain an issue code",
	Long: `Prints the description of an issue code. The "CookieIssue::" prefix may be
omitted.

Example:
  cookiescope describe ExcludeSameSiteNoneInsecure::SetCookie`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func init() {
	describeCmd.Flags().BoolVar(&describeRaw, "raw", false, "Print markdown without rendering")
}

func normalizeCode(arg string) issues.Code {
	if strings.HasPrefix(arg, issues.Namespace+"::") {
		return issues.Code(arg)
	}
	return issues.Code(issues.Namespace + "::" + arg)
}

// describeMarkdown renders the description text followed by its links.
func describeMarkdown(code issues.Code) (string, error) {
	d, ok := issues.Describe(code)
	if !ok {
		return "", fmt.Errorf("no description for %s (see `cookiescope codes --all`)", code)
	}
	text, err := issues.RenderDescription(d)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(text, "\n"))
	sb.WriteString("\n")
	if len(d.Links) > 0 {
		sb.WriteString("\nLearn more:\n\n")
		for _, l := range d.Links {
			fmt.Fprintf(&sb, "- [%s](%s)\n", l.Title, l.URL)
		}
	}
	return sb.String(), nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	md, err := describeMarkdown(normalizeCode(args[0]))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if describeRaw {
		_, err := fmt.Fprint(out, md)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render description: %w", err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
