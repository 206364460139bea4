// Package store persists classified cookie issues in SQLite so that counts and the
// third-party cookie report survive across watch sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cookiescope/internal/issues"
	"cookiescope/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// IssueStore is the SQLite-backed issue history.
type IssueStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	now    func() time.Time
}

// StoredIssue is one persisted issue row.
type StoredIssue struct {
	SessionID     string
	PrimaryKey    string
	Code          issues.Code
	IssueID       string
	CookieID      string
	RawCookieLine string
	RequestID     string
	RequestURL    string
	CookieURL     string
	Kind          issues.Kind
	SubCategory   issues.SubCategory
	Details       issues.Details
	FirstSeen     time.Time
	LastSeen      time.Time
	Occurrences   int
}

// Filter narrows ListIssues. Zero values match everything.
type Filter struct {
	SessionID  string
	CodePrefix string
	Kind       issues.Kind
	Limit      int
}

// CodeCount is the number of distinct issues and total sightings for a code.
type CodeCount struct {
	Code        issues.Code
	Issues      int
	Occurrences int
}

// NewIssueStore opens (or creates) the database at path. ":memory:" is accepted.
func NewIssueStore(path string) (*IssueStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewIssueStore")
	defer timer.Stop()

	logging.Store("Initializing IssueStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &IssueStore{db: db, dbPath: path, now: time.Now}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		logging.StoreError("Failed to migrate schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("IssueStore ready")
	return s, nil
}

func (s *IssueStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cookie_issues (
		session_id TEXT NOT NULL,
		primary_key TEXT NOT NULL,
		code TEXT NOT NULL,
		issue_id TEXT DEFAULT '',
		cookie_id TEXT NOT NULL,
		raw_cookie_line TEXT DEFAULT '',
		request_id TEXT DEFAULT '',
		request_url TEXT DEFAULT '',
		cookie_url TEXT DEFAULT '',
		kind TEXT NOT NULL,
		sub_category TEXT NOT NULL,
		details TEXT NOT NULL,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		occurrences INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (session_id, primary_key)
	);
	CREATE INDEX IF NOT EXISTS idx_cookie_issues_code ON cookie_issues(code);
	CREATE INDEX IF NOT EXISTS idx_cookie_issues_session ON cookie_issues(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cookie_issues: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *IssueStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (s *IssueStore) DB() *sql.DB {
	return s.db
}

// SaveIssue records an issue for a session. Seeing the same primary key again bumps
// its occurrence count and last-seen time.
func (s *IssueStore) SaveIssue(ctx context.Context, sessionID string, issue issues.Issue) error {
	d := issue.Details()
	detailsJSON, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}

	var requestID, requestURL string
	if d.Request != nil {
		requestID, requestURL = d.Request.RequestID, d.Request.URL
	}
	var status sql.NullInt64
	if st, ok := issues.StatusOf(d); ok {
		status = sql.NullInt64{Int64: int64(st), Valid: true}
	}
	insight := ""
	if d.Insight != nil {
		insight = string(d.Insight.Type)
	}
	now := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cookie_issues (
			session_id, primary_key, code, issue_id, cookie_id, raw_cookie_line,
			request_id, request_url, cookie_url, kind, sub_category, details,
			first_seen, last_seen, occurrences, report_status, insight_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(session_id, primary_key) DO UPDATE SET
			issue_id = excluded.issue_id,
			details = excluded.details,
			last_seen = excluded.last_seen,
			report_status = excluded.report_status,
			insight_type = excluded.insight_type,
			occurrences = cookie_issues.occurrences + 1`,
		sessionID, issue.PrimaryKey(), string(issue.Code()), issue.IssueID(), issue.CookieID(), d.RawCookieLine,
		requestID, requestURL, d.CookieURL, string(issue.Kind()), string(issue.SubCategory()), string(detailsJSON),
		now, now, status, insight,
	)
	if err != nil {
		logging.StoreError("SaveIssue %s failed: %v", issue.PrimaryKey(), err)
		return fmt.Errorf("failed to save issue: %w", err)
	}
	logging.StoreDebug("Saved issue %s for session %s", issue.Code(), sessionID)
	return nil
}

const issueColumns = `session_id, primary_key, code, issue_id, cookie_id, raw_cookie_line,
	request_id, request_url, cookie_url, kind, sub_category, details,
	first_seen, last_seen, occurrences`

func scanIssue(scan func(dest ...interface{}) error) (StoredIssue, error) {
	var (
		si          StoredIssue
		code        string
		kind        string
		sub         string
		detailsJSON string
		first, last int64
	)
	if err := scan(&si.SessionID, &si.PrimaryKey, &code, &si.IssueID, &si.CookieID, &si.RawCookieLine,
		&si.RequestID, &si.RequestURL, &si.CookieURL, &kind, &sub, &detailsJSON,
		&first, &last, &si.Occurrences); err != nil {
		return StoredIssue{}, err
	}
	si.FirstSeen = time.UnixMilli(first).UTC()
	si.LastSeen = time.UnixMilli(last).UTC()
	si.Code = issues.Code(code)
	si.Kind = issues.Kind(kind)
	si.SubCategory = issues.SubCategory(sub)
	if err := json.Unmarshal([]byte(detailsJSON), &si.Details); err != nil {
		return StoredIssue{}, fmt.Errorf("failed to decode details for %s: %w", si.PrimaryKey, err)
	}
	return si, nil
}

// ListIssues returns stored issues, most recently seen first.
func (s *IssueStore) ListIssues(ctx context.Context, f Filter) ([]StoredIssue, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.CodePrefix != "" {
		where = append(where, "code LIKE ?")
		args = append(args, f.CodePrefix+"%")
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}

	query := "SELECT " + issueColumns + " FROM cookie_issues"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_seen DESC, primary_key"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var out []StoredIssue
	for rows.Next() {
		si, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// GetIssue returns one stored issue.
func (s *IssueStore) GetIssue(ctx context.Context, sessionID, primaryKey string) (StoredIssue, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM cookie_issues WHERE session_id = ? AND primary_key = ?",
		sessionID, primaryKey)
	si, err := scanIssue(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredIssue{}, ErrNotFound
	}
	return si, err
}

// CodeCounts returns per-code totals across all sessions, busiest first. Third-party
// phaseout codes are left out, as they are in the live aggregate.
func (s *IssueStore) CodeCounts(ctx context.Context) ([]CodeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, COUNT(*), SUM(occurrences)
		FROM cookie_issues
		GROUP BY code
		ORDER BY COUNT(*) DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("failed to count codes: %w", err)
	}
	defer rows.Close()

	var out []CodeCount
	for rows.Next() {
		var c CodeCount
		var code string
		if err := rows.Scan(&code, &c.Issues, &c.Occurrences); err != nil {
			return nil, err
		}
		c.Code = issues.Code(code)
		if issues.IsThirdPartyPhaseoutRelated(c.Code) {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReportEntries builds the third-party cookie report from every stored event that
// carries a report status. Rows are keyed by cookie name and domain; the latest
// sighting wins.
func (s *IssueStore) ReportEntries(ctx context.Context, resolver issues.EntityResolver) ([]issues.ReportInfo, error) {
	timer := logging.StartTimer(logging.CategoryReport, "ReportEntries")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cookie_id, details FROM cookie_issues
		WHERE report_status IS NOT NULL
		ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query report rows: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var out []issues.ReportInfo
	for rows.Next() {
		var cookieID, detailsJSON string
		if err := rows.Scan(&cookieID, &detailsJSON); err != nil {
			return nil, err
		}
		var d issues.Details
		if err := json.Unmarshal([]byte(detailsJSON), &d); err != nil {
			logging.StoreWarn("Skipping undecodable report row %s: %v", cookieID, err)
			continue
		}
		entry, ok := issues.ReportEntryFor(d, resolver)
		if !ok {
			continue
		}
		key := entry.Name + ";" + entry.Domain
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logging.ReportDebug("Report built with %d entries", len(out))
	return out, nil
}

// ClearSession removes every issue recorded for a session.
func (s *IssueStore) ClearSession(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM cookie_issues WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear session: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("Cleared %d issues for session %s", n, sessionID)
	return n, nil
}

// Sink adapts the store to a per-session issue sink.
func (s *IssueStore) Sink(sessionID string) *SessionSink {
	return &SessionSink{store: s, sessionID: sessionID}
}

// SessionSink writes issues for one session. Errors are logged, not returned, so a
// broken database never stalls event delivery.
type SessionSink struct {
	store     *IssueStore
	sessionID string
}

// Consume saves the issue.
func (k *SessionSink) Consume(ctx context.Context, issue issues.Issue) {
	audit := logging.AuditWithSession(k.sessionID)
	if err := k.store.SaveIssue(ctx, k.sessionID, issue); err != nil {
		audit.StoreFailed(string(issue.Code()), err)
		return
	}
	audit.Log(logging.AuditEvent{EventType: logging.AuditIssueStored, Code: string(issue.Code()), Success: true})
}
