package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType names an entry in the audit trail.
type AuditEventType string

const (
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditNavigation   AuditEventType = "navigation"
	AuditIssueAdded   AuditEventType = "issue_added"
	AuditIssueStored  AuditEventType = "issue_stored"
	AuditStoreError   AuditEventType = "store_error"
)

// AuditEvent is one JSON line of the audit trail. The trail records what the
// watcher observed so a run can be replayed or diffed later.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"`
	EventType AuditEventType         `json:"event"`
	SessionID string                 `json:"session,omitempty"`
	Target    string                 `json:"target,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail. It is a no-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger stamps events with a session ID.
type AuditLogger struct {
	sessionID string
}

// AuditWithSession returns an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log appends an event to the trail.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" {
		event.SessionID = a.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// IssueAdded records a classified issue.
func (a *AuditLogger) IssueAdded(code, cookieURL string) {
	a.Log(AuditEvent{EventType: AuditIssueAdded, Code: code, Target: cookieURL, Success: true})
}

// Navigation records a top-level navigation.
func (a *AuditLogger) Navigation(url string) {
	a.Log(AuditEvent{EventType: AuditNavigation, Target: url, Success: true})
}

// SessionStart records the start of a watch session.
func (a *AuditLogger) SessionStart(url string) {
	a.Log(AuditEvent{EventType: AuditSessionStart, Target: url, Success: true})
}

// SessionEnd records the end of a watch session.
func (a *AuditLogger) SessionEnd(issueCount int) {
	a.Log(AuditEvent{
		EventType: AuditSessionEnd,
		Success:   true,
		Fields:    map[string]interface{}{"issues": issueCount},
	})
}

// StoreFailed records a persistence failure.
func (a *AuditLogger) StoreFailed(code string, err error) {
	a.Log(AuditEvent{EventType: AuditStoreError, Code: code, Error: err.Error()})
}
