// Package browser drives Chrome over the DevTools protocol and streams the cookie
// issues it reports. Each session tracks its outermost frame so that issues can be
// attributed to first or third parties.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cookiescope/internal/issues"
	"cookiescope/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown or detached session IDs.
	ErrSessionNotFound = errors.New("browser: session not found")
	// ErrNotConnected is returned when no browser is connected.
	ErrNotConnected = errors.New("browser: not connected")
)

// Session describes the public metadata for a tracked browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	IssueCount int       `json:"issue_count"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type sessionRecord struct {
	meta   Session
	page   *rod.Page
	frame  atomic.Pointer[issues.Frame]
	cancel context.CancelFunc
	done   chan struct{}
}

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
	SessionStore        string   `json:"session_store"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1280,
		ViewportHeight:      800,
		NavigationTimeoutMs: 30000,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 800
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// SessionManager owns the browser connection and its sessions.
type SessionManager struct {
	cfg        Config
	sink       IssueSink
	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	sessions   map[string]*sessionRecord
}

// NewSessionManager creates a session manager that reports to sink. sink may be nil.
func NewSessionManager(cfg Config, sink IssueSink) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		sink:     sink,
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
	}

	if err := m.loadSessionsLocked(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		u, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	logging.Browser("Connected to %s", controlURL)
	return nil
}

func (m *SessionManager) launch() (string, error) {
	if len(m.cfg.Launch) == 0 {
		u, err := launcher.New().Headless(m.cfg.Headless).Launch()
		if err != nil {
			return "", fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		return u, nil
	}

	bin := m.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(m.cfg.Headless)
	for _, rawFlag := range m.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	u, err := l.Launch()
	if err == nil {
		return u, nil
	}
	alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.Headless).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	logging.BrowserWarn("Launch with flags failed, using plain launch: %v", err)
	return alt, nil
}

func (m *SessionManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown stops every event stream, closes tracked pages and the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	records := make([]*sessionRecord, 0, len(m.sessions))
	for id, rec := range m.sessions {
		records = append(records, rec)
		delete(m.sessions, id)
	}
	browser := m.browser
	m.browser = nil
	m.controlURL = ""
	m.mu.Unlock()

	for _, rec := range records {
		stopRecord(ctx, rec)
	}

	if browser == nil {
		return nil
	}
	logging.Browser("Shutting down browser (%d sessions)", len(records))
	return browser.Close()
}

func stopRecord(ctx context.Context, rec *sessionRecord) {
	if rec.cancel != nil {
		rec.cancel()
	}
	if rec.page != nil {
		_ = rec.page.Close()
	}
	if rec.done != nil {
		select {
		case <-rec.done:
		case <-ctx.Done():
		}
	}
}

// List returns metadata for all known sessions, oldest first.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		results = append(results, rec.meta)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// CreateSession opens a page in a fresh incognito context, starts its event stream
// and then navigates to url, so issues raised by the first load are captured. The
// stream lives until ctx is done or the session is closed.
func (m *SessionManager) CreateSession(ctx context.Context, url string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("failed to set viewport: %v", err)
	}

	now := time.Now()
	rec := &sessionRecord{
		meta: Session{
			ID:         uuid.NewString(),
			TargetID:   string(page.TargetID),
			URL:        url,
			Status:     "active",
			CreatedAt:  now,
			LastActive: now,
		},
		page: page,
	}

	m.mu.Lock()
	m.sessions[rec.meta.ID] = rec
	m.mu.Unlock()

	if err := m.startEventStream(ctx, rec); err != nil {
		m.abandon(ctx, rec)
		return nil, err
	}
	logging.AuditWithSession(rec.meta.ID).SessionStart(url)

	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url); err != nil {
		logging.BrowserWarn("[session:%s] navigation to %s failed: %v", rec.meta.ID, url, err)
	}
	if err := m.persistSessions(); err != nil {
		logging.BrowserWarn("failed to persist sessions: %v", err)
	}

	meta := rec.meta
	return &meta, nil
}

// Attach binds to an existing target by TargetID. The outermost frame starts as the
// target's current URL; if that cannot be read it stays unknown until the target
// navigates, and its issues count as third party until then.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}

	now := time.Now()
	rec := &sessionRecord{
		meta: Session{
			ID:         uuid.NewString(),
			TargetID:   targetID,
			Status:     "attached",
			CreatedAt:  now,
			LastActive: now,
		},
		page: page,
	}
	if info, err := page.Info(); err == nil {
		rec.meta.URL = info.URL
		rec.frame.Store(issues.NewFrame(info.URL))
	}

	m.mu.Lock()
	m.sessions[rec.meta.ID] = rec
	m.mu.Unlock()

	if err := m.startEventStream(ctx, rec); err != nil {
		m.abandon(ctx, rec)
		return nil, err
	}
	if err := m.persistSessions(); err != nil {
		logging.BrowserWarn("failed to persist sessions: %v", err)
	}
	meta := rec.meta
	return &meta, nil
}

// abandon forgets a session whose setup failed and closes its page.
func (m *SessionManager) abandon(ctx context.Context, rec *sessionRecord) {
	m.mu.Lock()
	delete(m.sessions, rec.meta.ID)
	m.mu.Unlock()
	stopRecord(ctx, rec)
	logging.BrowserWarn("[session:%s] setup failed, session dropped", rec.meta.ID)
}

// CloseSession stops the session's event stream and closes its page.
func (m *SessionManager) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	stopRecord(ctx, rec)
	logging.AuditWithSession(sessionID).SessionEnd(rec.meta.IssueCount)
	return m.persistSessions()
}

// Page returns the underlying Rod page for a session.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// UpdateMetadata updates session metadata.
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

// GetSession returns session metadata.
func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// Frames returns the outermost-frame source for a session. It resolves the frame on
// every call, so it can be handed out before the session navigates.
func (m *SessionManager) Frames(sessionID string) issues.FrameSource {
	return sessionFrames{m: m, id: sessionID}
}

type sessionFrames struct {
	m  *SessionManager
	id string
}

func (s sessionFrames) OutermostFrame() *issues.Frame {
	s.m.mu.RLock()
	rec, ok := s.m.sessions[s.id]
	s.m.mu.RUnlock()
	if !ok {
		return nil
	}
	return rec.frame.Load()
}

// Navigate navigates a session to a URL.
func (m *SessionManager) Navigate(ctx context.Context, sessionID, url string) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}
	page, ok := m.Page(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Navigate(url)
}

// Reload reloads the session's page, which replays its cookie traffic.
func (m *SessionManager) Reload(ctx context.Context, sessionID string) error {
	page, ok := m.Page(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).Reload()
}

// persistSessions writes session metadata to disk.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	m.mu.RLock()
	sessions := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, rec.meta)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessionsLocked loads persisted metadata. Caller must hold lock.
func (m *SessionManager) loadSessionsLocked() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	for _, s := range sessions {
		if _, live := m.sessions[s.ID]; live {
			continue
		}
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}
