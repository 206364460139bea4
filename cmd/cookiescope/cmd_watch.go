package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"cookiescope/cmd/cookiescope/ui"
	"cookiescope/internal/aggregate"
	"cookiescope/internal/browser"
	"cookiescope/internal/config"
	"cookiescope/internal/issues"
	"cookiescope/internal/logging"
	"cookiescope/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchTUI         bool
	watchJSON        bool
	watchPreserve    bool
	watchAttach      string
	watchDebuggerURL string
)

var watchCmd = &cobra.Command{
	Use:   "watch [url]",
	Short: "Open a page in Chrome and stream its cookie issues",
	Long: `Opens url in a fresh incognito page (or attaches to an existing target with
--attach), enables the Audits domain and prints every new cookie issue as it is
reported. Issues are persisted to the workspace issue store.

The issue list is cleared whenever the page navigates, unless --preserve is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "Show a live issue table")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print issues as JSON lines")
	watchCmd.Flags().BoolVar(&watchPreserve, "preserve", false, "Keep issues across navigations")
	watchCmd.Flags().StringVar(&watchAttach, "attach", "", "Attach to an existing target id instead of opening url")
	watchCmd.Flags().StringVar(&watchDebuggerURL, "debugger-url", "", "Connect to a running Chrome (overrides config)")
}

// issueEmitter shows issues to the user.
type issueEmitter interface {
	Emit(sessionID string, issue issues.Issue, thirdParty bool)
	Cleared(sessionID, url string)
}

// watchEvent is the --json line format.
type watchEvent struct {
	Session    string      `json:"session"`
	Code       issues.Code `json:"code,omitempty"`
	Kind       issues.Kind `json:"kind,omitempty"`
	CookieID   string      `json:"cookie,omitempty"`
	CookieURL  string      `json:"cookieUrl,omitempty"`
	ThirdParty bool        `json:"thirdParty"`
	PrimaryKey string      `json:"primaryKey,omitempty"`
	Navigated  string      `json:"navigated,omitempty"`
}

type lineEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	json   bool
	styles ui.Styles
}

func (e *lineEmitter) Emit(sessionID string, issue issues.Issue, thirdParty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.json {
		data, err := json.Marshal(watchEvent{
			Session:    sessionID,
			Code:       issue.Code(),
			Kind:       issue.Kind(),
			CookieID:   issue.CookieID(),
			CookieURL:  issue.Details().CookieURL,
			ThirdParty: thirdParty,
			PrimaryKey: issue.PrimaryKey(),
		})
		if err == nil {
			fmt.Fprintln(e.w, string(data))
		}
		return
	}
	party := "first-party"
	if thirdParty {
		party = "third-party"
	}
	fmt.Fprintf(e.w, "%s %s %s %s\n", e.styles.Kind(issue.Kind()), issue.Code(), e.styles.Muted.Render(issue.CookieID()), party)
}

func (e *lineEmitter) Cleared(sessionID, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.json {
		data, _ := json.Marshal(watchEvent{Session: sessionID, Navigated: url})
		fmt.Fprintln(e.w, string(data))
		return
	}
	fmt.Fprintln(e.w, e.styles.RenderDivider(40))
	fmt.Fprintf(e.w, "%s %s\n", e.styles.Info.Render("navigated"), url)
}

type tuiEmitter struct {
	p *tea.Program
}

func (e tuiEmitter) Emit(_ string, issue issues.Issue, thirdParty bool) {
	e.p.Send(ui.IssueMsg{Issue: issue, ThirdParty: thirdParty})
}

func (e tuiEmitter) Cleared(_ string, url string) {
	e.p.Send(ui.ClearMsg{URL: url})
}

// emitSink forwards aggregated issues to an emitter, applying the first-party
// filter and keeping phaseout issues out of the live view.
type emitSink struct {
	sessionID         string
	frames            issues.FrameSource
	includeFirstParty bool
	emit              issueEmitter
}

func (s emitSink) Consume(_ context.Context, issue issues.Issue) {
	if issues.IsThirdPartyPhaseoutRelated(issue.Code()) {
		return
	}
	thirdParty := issue.IsCausedByThirdParty(s.frames)
	if !thirdParty && !s.includeFirstParty {
		return
	}
	s.emit.Emit(s.sessionID, issue, thirdParty)
}

type multiSink []aggregate.Sink

func (m multiSink) Consume(ctx context.Context, issue issues.Issue) {
	for _, s := range m {
		s.Consume(ctx, issue)
	}
}

// watchDispatcher routes session events to one aggregator per session.
type watchDispatcher struct {
	frames            func(sessionID string) issues.FrameSource
	store             *store.IssueStore
	includeFirstParty bool
	preserve          bool
	emit              issueEmitter

	mu   sync.Mutex
	aggs map[string]*aggregate.Aggregator
}

func newWatchDispatcher(st *store.IssueStore, includeFirstParty, preserve bool, emit issueEmitter) *watchDispatcher {
	return &watchDispatcher{
		store:             st,
		includeFirstParty: includeFirstParty,
		preserve:          preserve,
		emit:              emit,
		aggs:              make(map[string]*aggregate.Aggregator),
	}
}

func (d *watchDispatcher) aggregator(sessionID string) *aggregate.Aggregator {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.aggs[sessionID]; ok {
		return a
	}
	var frames issues.FrameSource
	if d.frames != nil {
		frames = d.frames(sessionID)
	}
	var sinks multiSink
	if d.store != nil {
		sinks = append(sinks, d.store.Sink(sessionID))
	}
	if d.emit != nil {
		sinks = append(sinks, emitSink{
			sessionID:         sessionID,
			frames:            frames,
			includeFirstParty: d.includeFirstParty,
			emit:              d.emit,
		})
	}
	a := aggregate.New(aggregate.Options{
		IncludeFirstParty: d.includeFirstParty,
		Frames:            frames,
		Sink:              sinks,
	})
	d.aggs[sessionID] = a
	return a
}

// IssuesAdded implements browser.IssueSink.
func (d *watchDispatcher) IssuesAdded(ctx context.Context, sessionID string, batch []issues.Issue) {
	d.aggregator(sessionID).Add(ctx, batch...)
}

// FrameNavigated implements browser.IssueSink.
func (d *watchDispatcher) FrameNavigated(_ context.Context, sessionID string, frame *issues.Frame) {
	if d.preserve {
		return
	}
	d.aggregator(sessionID).Clear()
	if d.emit != nil {
		d.emit.Cleared(sessionID, frame.URL)
	}
}

// Summary returns the grouped issues of a session.
func (d *watchDispatcher) Summary(sessionID string) []aggregate.Group {
	return d.aggregator(sessionID).SortedGroups()
}

func browserConfig(cfg *config.Config, ws string) browser.Config {
	bc := browser.Config{
		DebuggerURL:         cfg.Browser.DebuggerURL,
		Launch:              cfg.Browser.Launch,
		Headless:            cfg.Browser.Headless,
		ViewportWidth:       cfg.Browser.ViewportWidth,
		ViewportHeight:      cfg.Browser.ViewportHeight,
		NavigationTimeoutMs: int(cfg.GetNavigationTimeout().Milliseconds()),
		SessionStore:        config.ResolvePath(ws, cfg.Browser.SessionStore),
	}
	if watchDebuggerURL != "" {
		bc.DebuggerURL = watchDebuggerURL
	}
	return bc
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runWatch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && watchAttach == "" {
		return errors.New("a url or --attach target is required")
	}
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmdContext(cmd))
	defer cancel()

	st, err := openStore(cfg, ws)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()

	var (
		program *tea.Program
		emit    issueEmitter
	)
	if watchTUI {
		target := watchAttach
		if len(args) > 0 {
			target = args[0]
		}
		program = tea.NewProgram(ui.NewIssuePageModel(target), tea.WithContext(ctx), tea.WithAltScreen())
		emit = tuiEmitter{p: program}
	} else {
		emit = &lineEmitter{w: out, json: watchJSON, styles: styles}
	}

	disp := newWatchDispatcher(st, cfg.Report.IncludeFirstParty, watchPreserve, emit)
	mgr := browser.NewSessionManager(browserConfig(cfg, ws), disp)
	disp.frames = mgr.Frames

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logging.BrowserWarn("failed to shutdown browser manager: %v", err)
		}
	}()

	tuiDone := make(chan error, 1)
	if program != nil {
		go func() {
			_, err := program.Run()
			cancel()
			tuiDone <- err
		}()
	}

	var sess *browser.Session
	if watchAttach != "" {
		sess, err = mgr.Attach(ctx, watchAttach)
	} else {
		sess, err = mgr.CreateSession(ctx, args[0])
	}
	if err != nil {
		if program != nil {
			program.Quit()
			<-tuiDone
		}
		return err
	}
	logger.Info("Watching session", zap.String("session", sess.ID), zap.String("url", sess.URL))

	if program != nil {
		program.Send(ui.StatusMsg("session " + sess.ID))
		if err := <-tuiDone; err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	}

	if !watchJSON {
		fmt.Fprintf(out, "%s %s (session %s)\n", styles.Title.Render("watching"), sess.URL, sess.ID)
		fmt.Fprintln(out, styles.Muted.Render("Press Ctrl+C to stop"))
	}
	<-ctx.Done()

	if !watchJSON {
		fmt.Fprint(out, renderGroups(disp.Summary(sess.ID), styles))
	}
	return nil
}

// renderGroups renders aggregated groups as a table.
func renderGroups(groups []aggregate.Group, styles ui.Styles) string {
	table := ui.NewSimpleTable("Issues by code", []string{"Code", "Kind", "Count", "Cookies"})
	for _, g := range groups {
		table.AddRow(string(g.Code), styles.Kind(g.Kind), fmt.Sprint(g.Count), fmt.Sprint(len(g.Cookies)+len(g.RawCookieLines)))
	}
	if table.Len() == 0 {
		return styles.Muted.Render("no cookie issues") + "\n"
	}
	return table.View(styles)
}
