package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cookiescope/cmd/cookiescope/ui"
	"cookiescope/internal/issues"
	"cookiescope/internal/logging"
	"cookiescope/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reportJSON   bool
	reportStatus string

	codesJSON bool
	codesAll  bool

	listSession string
	listCode    string
	listKind    string
	listLimit   int
	listJSON    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Third-party cookie report from the issue store",
	Long: `Lists every third-party cookie the store has seen with its phaseout status
(blocked, allowed, allowed-by-grace-period, allowed-by-heuristics) and the
organisation serving it.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Issue counts per code across all sessions",
	Args:  cobra.NoArgs,
	RunE:  runCodes,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored issues",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var clearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Delete the stored issues of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print JSON")
	reportCmd.Flags().StringVar(&reportStatus, "status", "", "Only show cookies with this status")

	codesCmd.Flags().BoolVar(&codesJSON, "json", false, "Print JSON")
	codesCmd.Flags().BoolVar(&codesAll, "all", false, "List every code that has a description instead of store counts")

	listCmd.Flags().StringVar(&listSession, "session", "", "Only this session")
	listCmd.Flags().StringVar(&listCode, "code", "", "Only codes starting with this prefix")
	listCmd.Flags().StringVar(&listKind, "kind", "", "Only PageError or BreakingChange")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum rows (0 for all)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(clearCmd)
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(context.Context, *store.IssueStore) error) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	return fn(ctx, st)
}

func runReport(cmd *cobra.Command, args []string) error {
	var want *issues.Status
	if reportStatus != "" {
		st, ok := issues.ParseStatus(reportStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", reportStatus)
		}
		want = &st
	}

	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	resolver, stop, err := entityResolver(ctx, cfg, ws)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	defer stop()

	st, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer st.Close()

	timer := logging.StartTimer(logging.CategoryReport, "report")
	entries, err := st.ReportEntries(ctx, resolver)
	timer.StopWithThreshold(time.Second)
	if err != nil {
		return err
	}
	if want != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Status == *want {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if logger != nil {
		logger.Debug("report built", zap.Int("entries", len(entries)))
	}

	out := cmd.OutOrStdout()
	if reportJSON {
		type row struct {
			issues.ReportInfo
			Status string `json:"status"`
		}
		rows := make([]row, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, row{ReportInfo: e, Status: e.Status.String()})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Third-party cookies", []string{"Name", "Domain", "Platform", "Type", "Status", "Insight"})
	for _, e := range entries {
		insight := ""
		if e.Insight != nil {
			insight = string(e.Insight.Type)
		}
		table.AddRow(e.Name, e.Domain, e.Platform, e.Type, styles.Status(e.Status), insight)
	}
	if table.Len() == 0 {
		fmt.Fprintln(out, styles.Muted.Render("no third-party cookies recorded"))
		return nil
	}
	fmt.Fprint(out, table.View(styles))
	return nil
}

func runCodes(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()

	if codesAll {
		codes := issues.DescribedCodes()
		if codesJSON {
			return json.NewEncoder(out).Encode(codes)
		}
		for _, c := range codes {
			fmt.Fprintln(out, c)
		}
		return nil
	}

	return withStore(cmd, func(ctx context.Context, st *store.IssueStore) error {
		counts, err := st.CodeCounts(ctx)
		if err != nil {
			return err
		}
		if codesJSON {
			return json.NewEncoder(out).Encode(counts)
		}
		table := ui.NewSimpleTable("Issue codes", []string{"Code", "Issues", "Occurrences"})
		for _, c := range counts {
			table.AddRow(string(c.Code), fmt.Sprint(c.Issues), fmt.Sprint(c.Occurrences))
		}
		if table.Len() == 0 {
			fmt.Fprintln(out, styles.Muted.Render("no issues recorded"))
			return nil
		}
		fmt.Fprint(out, table.View(styles))
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	filter := store.Filter{
		SessionID:  listSession,
		CodePrefix: normalizeCodePrefix(listCode),
		Kind:       issues.Kind(listKind),
		Limit:      listLimit,
	}
	out := cmd.OutOrStdout()
	return withStore(cmd, func(ctx context.Context, st *store.IssueStore) error {
		rows, err := st.ListIssues(ctx, filter)
		if err != nil {
			return err
		}
		if listJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		styles := ui.DefaultStyles()
		table := ui.NewSimpleTable("Stored issues", []string{"Last seen", "Kind", "Code", "Cookie", "Seen"})
		for _, r := range rows {
			table.AddRow(r.LastSeen.Local().Format(time.DateTime), styles.Kind(r.Kind), string(r.Code), r.CookieID, fmt.Sprint(r.Occurrences))
		}
		if table.Len() == 0 {
			fmt.Fprintln(out, styles.Muted.Render("no matching issues"))
			return nil
		}
		fmt.Fprint(out, table.View(styles))
		return nil
	})
}

func normalizeCodePrefix(prefix string) string {
	if prefix == "" || strings.HasPrefix(prefix, issues.Namespace) {
		return prefix
	}
	return issues.Namespace + "::" + prefix
}

func runClear(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, st *store.IssueStore) error {
		n, err := st.ClearSession(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d issues from session %s\n", n, args[0])
		return nil
	})
}
