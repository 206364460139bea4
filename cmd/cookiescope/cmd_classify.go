package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"cookiescope/cmd/cookiescope/ui"
	"cookiescope/internal/aggregate"
	"cookiescope/internal/issues"
	"cookiescope/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	classifyFrame          string
	classifyJSON           bool
	classifyThirdPartyOnly bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [files...]",
	Short: "Classify recorded Audits.issueAdded events",
	Long: `Reads recorded cookie issue events and prints the issues they produce.

Each input holds JSON values: protocol messages, Audits.issueAdded params,
inspector issues or bare cookie issue details, alone, in arrays or as JSON
lines. Standard input is read when no file is given.

--frame sets the outermost frame URL used for third-party attribution; without
it every issue counts as third party.`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFrame, "frame", "", "Outermost frame URL for third-party attribution")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print JSON")
	classifyCmd.Flags().BoolVar(&classifyThirdPartyOnly, "third-party", false, "Only group third-party issues")
}

type fixedFrame struct{ frame *issues.Frame }

func (f fixedFrame) OutermostFrame() *issues.Frame { return f.frame }

// classifiedIssue is the --json output for one issue.
type classifiedIssue struct {
	Code        issues.Code        `json:"code"`
	Kind        issues.Kind        `json:"kind"`
	SubCategory issues.SubCategory `json:"subCategory"`
	PrimaryKey  string             `json:"primaryKey"`
	CookieID    string             `json:"cookie"`
	IssueID     string             `json:"issueId,omitempty"`
	ThirdParty  bool               `json:"thirdParty"`
	Phaseout    bool               `json:"phaseout,omitempty"`
}

type classifyOutput struct {
	Issues []classifiedIssue `json:"issues"`
	Hidden int               `json:"hidden"`
}

// classifyInputs decodes every input concurrently and returns the issues in input
// order.
func classifyInputs(ctx context.Context, cmd *cobra.Command, paths []string) ([]issues.Issue, error) {
	if len(paths) == 0 {
		events, err := issues.DecodeEvents(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("stdin: %w", err)
		}
		return fromEvents(events), nil
	}

	results := make([][]issues.Issue, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			timer := logging.StartTimer(logging.CategoryIssues, "classify "+path)
			defer timer.Stop()

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			events, err := issues.DecodeEvents(f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = fromEvents(events)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []issues.Issue
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func fromEvents(events []issues.InspectorIssue) []issues.Issue {
	var out []issues.Issue
	for _, ev := range events {
		if ev.Code != issues.InspectorIssueCodeCookieIssue {
			continue
		}
		out = append(out, issues.FromInspectorIssue(ev)...)
	}
	return out
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	all, err := classifyInputs(ctx, cmd, args)
	if err != nil {
		return err
	}

	var frames issues.FrameSource
	if classifyFrame != "" {
		frames = fixedFrame{frame: issues.NewFrame(classifyFrame)}
	}
	agg := aggregate.New(aggregate.Options{
		IncludeFirstParty: !classifyThirdPartyOnly,
		Frames:            frames,
	})
	agg.Add(ctx, all...)
	if logger != nil {
		logger.Debug("classified", zap.Int("issues", agg.Len()), zap.Int("inputs", len(args)))
	}

	out := cmd.OutOrStdout()
	if classifyJSON {
		result := classifyOutput{Issues: make([]classifiedIssue, 0, agg.Len()), Hidden: agg.HiddenCount()}
		for _, issue := range agg.Issues() {
			result.Issues = append(result.Issues, classifiedIssue{
				Code:        issue.Code(),
				Kind:        issue.Kind(),
				SubCategory: issue.SubCategory(),
				PrimaryKey:  issue.PrimaryKey(),
				CookieID:    issue.CookieID(),
				IssueID:     issue.IssueID(),
				ThirdParty:  issue.IsCausedByThirdParty(frames),
				Phaseout:    issues.IsThirdPartyPhaseoutRelated(issue.Code()),
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	styles := ui.DefaultStyles()
	fmt.Fprint(out, renderGroups(agg.SortedGroups(), styles))
	if n := len(agg.PhaseoutIssues()); n > 0 {
		fmt.Fprintf(out, "%s\n", styles.Muted.Render(fmt.Sprintf("%d third-party phaseout issues (see `cookiescope report`)", n)))
	}
	if n := agg.HiddenCount(); n > 0 {
		fmt.Fprintf(out, "%s\n", styles.Muted.Render(fmt.Sprintf("%d first-party issues hidden", n)))
	}
	counts := agg.Counts()
	fmt.Fprintf(out, "%s %d  %s %d\n",
		styles.Kind(issues.KindPageError), counts[issues.KindPageError],
		styles.Kind(issues.KindBreakingChange), counts[issues.KindBreakingChange])
	return nil
}
