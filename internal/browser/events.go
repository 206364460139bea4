package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cookiescope/internal/issues"
	"cookiescope/internal/logging"

	"github.com/go-rod/rod/lib/proto"
)

// IssueSink receives what a session's event stream observes. Calls for one session
// arrive in protocol order from a single goroutine.
type IssueSink interface {
	// IssuesAdded delivers the issues created from one Audits.issueAdded event.
	IssuesAdded(ctx context.Context, sessionID string, batch []issues.Issue)
	// FrameNavigated reports that the outermost frame committed a navigation.
	FrameNavigated(ctx context.Context, sessionID string, frame *issues.Frame)
}

// startEventStream enables the Audits and Page domains and pumps their events into
// the sink until the session context ends.
func (m *SessionManager) startEventStream(ctx context.Context, rec *sessionRecord) error {
	sessionID := rec.meta.ID
	streamCtx, cancel := context.WithCancel(ctx)
	page := rec.page.Context(streamCtx)
	audit := logging.AuditWithSession(sessionID)

	wait := page.EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			frame := issues.NewFrame(ev.Frame.URL)
			rec.frame.Store(frame)
			m.UpdateMetadata(sessionID, func(s Session) Session {
				s.URL = ev.Frame.URL
				s.LastActive = time.Now()
				return s
			})
			audit.Navigation(ev.Frame.URL)
			logging.BrowserDebug("[session:%s] outermost frame is now %s (%s)", sessionID, ev.Frame.URL, frame.DomainAndRegistry)
			if m.sink != nil {
				m.sink.FrameNavigated(streamCtx, sessionID, frame)
			}
		},
		func(ev *proto.AuditsIssueAdded) {
			batch, isCookie, err := convertIssueAdded(ev)
			if err != nil {
				logging.BrowserWarn("[session:%s] undecodable issue: %v", sessionID, err)
				return
			}
			if !isCookie || len(batch) == 0 {
				return
			}
			for _, issue := range batch {
				audit.IssueAdded(string(issue.Code()), issue.Details().CookieURL)
			}
			m.UpdateMetadata(sessionID, func(s Session) Session {
				s.IssueCount += len(batch)
				s.LastActive = time.Now()
				return s
			})
			if m.sink != nil {
				m.sink.IssuesAdded(streamCtx, sessionID, batch)
			}
		},
	)

	if err := (proto.PageEnable{}).Call(page); err != nil {
		cancel()
		return fmt.Errorf("enable page domain: %w", err)
	}
	if err := (proto.AuditsEnable{}).Call(page); err != nil {
		cancel()
		return fmt.Errorf("enable audits domain: %w", err)
	}

	rec.cancel = cancel
	rec.done = make(chan struct{})
	go func() {
		defer close(rec.done)
		wait()
		logging.BrowserDebug("[session:%s] event stream stopped", sessionID)
	}()
	return nil
}

// convertIssueAdded turns a protocol event into cookie issues. The second result is
// false for inspector issues of any other code.
func convertIssueAdded(ev *proto.AuditsIssueAdded) ([]issues.Issue, bool, error) {
	if ev == nil || ev.Issue == nil {
		return nil, false, nil
	}
	raw, err := json.Marshal(ev.Issue)
	if err != nil {
		return nil, false, err
	}
	var inspector issues.InspectorIssue
	if err := json.Unmarshal(raw, &inspector); err != nil {
		return nil, false, err
	}
	if inspector.Code != issues.InspectorIssueCodeCookieIssue {
		return nil, false, nil
	}
	return issues.FromInspectorIssue(inspector), true, nil
}
