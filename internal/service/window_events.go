package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/adapter/outbound/journal"
	"github.com/surftrail/surftrail/internal/domain/event"
	"github.com/surftrail/surftrail/internal/domain/session"
)

const (
	// defaultDebounce is how long a window creation suppresses a
	// duplicate creation for the same window id. Browsers fire a
	// focus-changed immediately after window_created; without the
	// debounce that focus event would open a second session.
	defaultDebounce = time.Second

	defaultStartupAttempts = 10
	defaultStartupInterval = time.Second
)

// WindowEventManager correlates window lifecycle events into window
// sessions. It tracks the focused window and closes a window's session
// when the window is removed or loses focus to another window.
type WindowEventManager struct {
	globals *GlobalSessionService
	api     CollectAPI
	store   session.Store
	querier BrowserQuerier
	logger  *slog.Logger
	metrics *httpx.Metrics
	journal Journal

	debounce        time.Duration
	startupAttempts int
	startupInterval time.Duration

	mu sync.Mutex
	// activeWindowID is the currently focused window, 0 when none.
	activeWindowID int
	// recent maps window id to the debounce expiry for its creation.
	recent map[int]time.Time
	// lastKnownSessionID is the global session id persisted when the
	// manager was constructed. Startup waits until a different one is
	// active, so events are never bound to the previous run's session.
	lastKnownSessionID string

	onFocusLost   func(ctx context.Context, windowID int)
	onFocusGained func(ctx context.Context, windowID int)

	now func() time.Time
}

// WindowOption configures a WindowEventManager.
type WindowOption func(*WindowEventManager)

// WithDebounce overrides the creation debounce window.
func WithDebounce(d time.Duration) WindowOption {
	return func(m *WindowEventManager) { m.debounce = d }
}

// WithStartupWait overrides how long Startup waits for a fresh global
// session.
func WithStartupWait(attempts int, interval time.Duration) WindowOption {
	return func(m *WindowEventManager) {
		m.startupAttempts = attempts
		m.startupInterval = interval
	}
}

// NewWindowEventManager creates the window manager. It snapshots the
// currently persisted global session id so Startup can tell a fresh
// session from the previous run's.
func NewWindowEventManager(
	globals *GlobalSessionService,
	api CollectAPI,
	store session.Store,
	querier BrowserQuerier,
	logger *slog.Logger,
	metrics *httpx.Metrics,
	j Journal,
	opts ...WindowOption,
) *WindowEventManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &WindowEventManager{
		globals:         globals,
		api:             api,
		store:           store,
		querier:         querier,
		logger:          logger,
		metrics:         metrics,
		journal:         orNoopJournal(j),
		debounce:        defaultDebounce,
		startupAttempts: defaultStartupAttempts,
		startupInterval: defaultStartupInterval,
		recent:          make(map[int]time.Time),
		now:             time.Now,
	}
	if sess, err := globals.LatestActive(); err == nil {
		m.lastKnownSessionID = sess.GlobalSessionID
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFocusHooks registers the tab-accounting callbacks invoked when
// window focus moves. onLost runs before the blurred window's session
// is closed; onGained runs after the focused window's session exists.
func (m *WindowEventManager) SetFocusHooks(onLost, onGained func(ctx context.Context, windowID int)) {
	m.onFocusLost = onLost
	m.onFocusGained = onGained
}

// Startup waits for a fresh global session, retries the closed-window
// backlog, and adopts the windows already open in the browser. It
// fails when no fresh session appears within the startup window; the
// daemon must not process events against a stale session.
func (m *WindowEventManager) Startup(ctx context.Context) error {
	if err := m.waitForFreshSession(ctx); err != nil {
		return err
	}

	m.retryClosedBacklog(ctx)

	windows, err := m.querier.ListWindows(ctx)
	if err != nil {
		// No extension connected yet; windows arrive as live events.
		m.logger.Info("no open windows adopted at startup", "reason", err)
		return nil
	}
	for _, win := range windows {
		if err := m.HandleWindowCreated(ctx, win); err != nil {
			m.logger.Warn("failed to adopt open window", "window_id", win.ID, "error", err)
		}
	}
	return nil
}

func (m *WindowEventManager) waitForFreshSession(ctx context.Context) error {
	for attempt := 1; attempt <= m.startupAttempts; attempt++ {
		sess, err := m.globals.LatestActive()
		if err == nil && sess.GlobalSessionID != m.lastKnownSessionID {
			m.logger.Debug("fresh global session observed",
				"global_session_id", sess.GlobalSessionID,
				"attempt", attempt)
			return nil
		}

		timer := time.NewTimer(m.startupInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("no fresh global session after %d attempts", m.startupAttempts)
}

// retryClosedBacklog drains window sessions whose close failed in a
// previous run and retries each once.
func (m *WindowEventManager) retryClosedBacklog(ctx context.Context) {
	backlog, err := m.store.TakeClosedWindows(ctx)
	if err != nil {
		m.logger.Warn("failed to read closed-window backlog", "error", err)
		return
	}
	for _, ws := range backlog {
		closingTime := m.now().UTC()
		if ws.ClosingTime != nil {
			closingTime = *ws.ClosingTime
		}
		if err := m.api.CloseWindowSession(ctx, ws.ID, closingTime); err != nil {
			m.logger.Warn("backlog close failed again", "window_session_id", ws.WindowSessionID, "error", err)
			if putErr := m.store.PutClosedWindow(ctx, ws); putErr != nil {
				m.logger.Warn("failed to requeue backlog entry", "error", putErr)
			}
			_ = m.journal.Append(journal.Record{
				Time: m.now().UTC(), Op: "retry_close", Scope: "window",
				SessionID: ws.WindowSessionID, ServerID: ws.ID,
				Outcome: "error", Detail: err.Error(),
			})
			continue
		}
		_ = m.journal.Append(journal.Record{
			Time: m.now().UTC(), Op: "retry_close", Scope: "window",
			SessionID: ws.WindowSessionID, ServerID: ws.ID, Outcome: "ok",
		})
	}
}

// HandleWindowCreated opens a session for a new window. A creation
// inside the debounce window for the same id is suppressed. The
// previously focused window, if different, is closed first.
func (m *WindowEventManager) HandleWindowCreated(ctx context.Context, win event.WindowSnapshot) error {
	if win.ID <= 0 {
		return fmt.Errorf("window snapshot has invalid id %d", win.ID)
	}

	now := m.now()
	m.mu.Lock()
	if exp, ok := m.recent[win.ID]; ok && now.Before(exp) {
		m.mu.Unlock()
		m.logger.Debug("window creation debounced", "window_id", win.ID)
		if m.metrics != nil {
			m.metrics.DebounceSuppressed.Inc()
		}
		return nil
	}
	m.recent[win.ID] = now.Add(m.debounce)
	prev := m.activeWindowID
	m.activeWindowID = win.ID
	m.mu.Unlock()

	if prev != 0 && prev != win.ID {
		if err := m.closeWindow(ctx, prev, "focus_changed"); err != nil {
			m.logger.Warn("failed to close previously focused window", "window_id", prev, "error", err)
		}
	}

	return m.openWindow(ctx, win)
}

// HandleWindowRemoved closes the removed window's session. Failures to
// reach the collection API move the record to the retry backlog.
func (m *WindowEventManager) HandleWindowRemoved(ctx context.Context, windowID int) error {
	m.mu.Lock()
	delete(m.recent, windowID)
	if m.activeWindowID == windowID {
		m.activeWindowID = 0
	}
	m.mu.Unlock()

	return m.closeWindow(ctx, windowID, "removed")
}

// HandleFocusChanged reacts to the focused window changing. A windowID
// of event.NoWindow means the browser lost OS focus: the active
// window's tab bookkeeping and session are closed but no new window
// takes over. Otherwise the previous window is closed and the newly
// focused one gets a session unless its creation was just handled.
func (m *WindowEventManager) HandleFocusChanged(ctx context.Context, windowID int) error {
	if windowID == event.NoWindow {
		m.mu.Lock()
		prev := m.activeWindowID
		m.activeWindowID = 0
		m.mu.Unlock()

		if prev == 0 {
			return nil
		}
		m.logger.Debug("browser lost focus", "window_id", prev)
		if m.onFocusLost != nil {
			m.onFocusLost(ctx, prev)
		}
		return m.closeWindow(ctx, prev, "blurred")
	}

	now := m.now()
	m.mu.Lock()
	prev := m.activeWindowID
	if prev == windowID {
		m.mu.Unlock()
		return nil
	}
	m.activeWindowID = windowID
	_, debounced := m.recent[windowID]
	debounced = debounced && now.Before(m.recent[windowID])
	if !debounced {
		m.recent[windowID] = now.Add(m.debounce)
	}
	m.mu.Unlock()

	if prev != 0 {
		if m.onFocusLost != nil {
			m.onFocusLost(ctx, prev)
		}
		if err := m.closeWindow(ctx, prev, "focus_changed"); err != nil {
			m.logger.Warn("failed to close blurred window", "window_id", prev, "error", err)
		}
	}

	if !debounced {
		if err := m.openWindow(ctx, m.snapshotFor(ctx, windowID)); err != nil {
			return err
		}
	}
	if m.onFocusGained != nil {
		m.onFocusGained(ctx, windowID)
	}
	return nil
}

// snapshotFor fetches the window's attributes from the extension,
// falling back to a minimal snapshot when the query fails.
func (m *WindowEventManager) snapshotFor(ctx context.Context, windowID int) event.WindowSnapshot {
	windows, err := m.querier.ListWindows(ctx)
	if err == nil {
		for _, win := range windows {
			if win.ID == windowID {
				return win
			}
		}
	}
	return event.WindowSnapshot{ID: windowID, Focused: true}
}

// openWindow registers a window session unless one is already tracked.
func (m *WindowEventManager) openWindow(ctx context.Context, win event.WindowSnapshot) error {
	wsid, err := m.globals.WindowSessionID(win.ID)
	if err != nil {
		return fmt.Errorf("compose window session id: %w", err)
	}

	if _, err := m.store.GetWindow(ctx, wsid); err == nil {
		m.logger.Debug("window session already tracked", "window_session_id", wsid)
		return nil
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("look up window session: %w", err)
	}

	gsess, err := m.globals.LatestActive()
	if err != nil {
		return fmt.Errorf("resolve global session: %w", err)
	}

	payload := &session.WindowSession{
		WindowSessionID: wsid,
		WindowNum:       win.ID,
		GlobalSession:   gsess.ID,
		StartTime:       m.now().UTC(),
		State:           win.State,
		Focused:         win.Focused,
		Incognito:       win.Incognito,
		AlwaysOnTop:     win.AlwaysOnTop,
		Top:             win.Top,
		Left:            win.Left,
		Width:           win.Width,
		Height:          win.Height,
		Type:            win.Type,
	}

	created, err := m.api.CreateWindowSession(ctx, payload)
	if err != nil {
		_ = m.journal.Append(journal.Record{
			Time: m.now().UTC(), Op: "open", Scope: "window",
			SessionID: wsid, Outcome: "error", Detail: err.Error(),
		})
		return fmt.Errorf("register window session: %w", err)
	}
	if created.WindowSessionID == "" {
		created.WindowSessionID = wsid
	}
	if created.WindowNum == 0 {
		created.WindowNum = win.ID
	}

	if err := m.store.PutWindow(ctx, created); err != nil {
		return fmt.Errorf("persist window session: %w", err)
	}

	if m.metrics != nil {
		m.metrics.SessionsOpened.WithLabelValues("window").Inc()
		m.metrics.ActiveWindows.Inc()
	}
	_ = m.journal.Append(journal.Record{
		Time: m.now().UTC(), Op: "open", Scope: "window",
		SessionID: created.WindowSessionID, ServerID: created.ID, Outcome: "ok",
	})
	m.logger.Info("window session opened", "window_session_id", created.WindowSessionID, "server_id", created.ID)
	return nil
}

// closeWindow closes the window's session if one is tracked. When the
// collection API cannot be reached the record moves to the retry
// backlog so the close survives a restart.
func (m *WindowEventManager) closeWindow(ctx context.Context, windowID int, reason string) error {
	wsid, err := m.globals.WindowSessionID(windowID)
	if err != nil {
		return fmt.Errorf("compose window session id: %w", err)
	}

	rec, err := m.store.GetWindow(ctx, wsid)
	if errors.Is(err, session.ErrSessionNotFound) {
		m.logger.Debug("no window session to close", "window_session_id", wsid, "reason", reason)
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up window session: %w", err)
	}

	closingTime := m.now().UTC()
	if err := m.api.CloseWindowSession(ctx, rec.ID, closingTime); err != nil {
		rec.ClosingTime = &closingTime
		if putErr := m.store.PutClosedWindow(ctx, rec); putErr != nil {
			m.logger.Error("failed to queue window close for retry", "error", putErr)
		}
		if delErr := m.store.DeleteWindow(ctx, wsid); delErr != nil {
			m.logger.Warn("failed to delete window session record", "error", delErr)
		}
		_ = m.journal.Append(journal.Record{
			Time: closingTime, Op: "close", Scope: "window",
			SessionID: wsid, ServerID: rec.ID, Outcome: "error", Detail: err.Error(),
		})
		return fmt.Errorf("close window session: %w", err)
	}

	if err := m.store.DeleteWindow(ctx, wsid); err != nil {
		return fmt.Errorf("delete window session record: %w", err)
	}

	if m.metrics != nil {
		m.metrics.SessionsClosed.WithLabelValues("window").Inc()
		m.metrics.ActiveWindows.Dec()
	}
	_ = m.journal.Append(journal.Record{
		Time: closingTime, Op: "close", Scope: "window",
		SessionID: wsid, ServerID: rec.ID, Outcome: "ok",
	})
	m.logger.Info("window session closed", "window_session_id", wsid, "reason", reason)
	return nil
}

// ActiveWindow returns the currently focused window id, 0 when none.
func (m *WindowEventManager) ActiveWindow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeWindowID
}
