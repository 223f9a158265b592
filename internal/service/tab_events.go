package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/adapter/outbound/journal"
	"github.com/surftrail/surftrail/internal/domain/event"
	"github.com/surftrail/surftrail/internal/domain/session"
)

// TabEventManager correlates tab lifecycle events into tab sessions
// and feeds visit changes to the domain manager. Tab updates only
// count once the navigation reports terminal status; loading states
// are noise.
type TabEventManager struct {
	globals *GlobalSessionService
	api     CollectAPI
	store   session.Store
	querier BrowserQuerier
	windows *WindowEventManager
	domains *DomainEventManager
	logger  *slog.Logger
	metrics *httpx.Metrics
	journal Journal

	now func() time.Time
}

// NewTabEventManager creates the tab manager.
func NewTabEventManager(
	globals *GlobalSessionService,
	api CollectAPI,
	store session.Store,
	querier BrowserQuerier,
	windows *WindowEventManager,
	domains *DomainEventManager,
	logger *slog.Logger,
	metrics *httpx.Metrics,
	j Journal,
) *TabEventManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TabEventManager{
		globals: globals,
		api:     api,
		store:   store,
		querier: querier,
		windows: windows,
		domains: domains,
		logger:  logger,
		metrics: metrics,
		journal: orNoopJournal(j),
		now:     time.Now,
	}
}

// HandleTabUpdated processes a tab change notification. Only updates
// whose change status is terminal are considered; malformed snapshots
// are dropped without touching any session state.
func (m *TabEventManager) HandleTabUpdated(ctx context.Context, tab *event.TabSnapshot, status string) error {
	if status != event.StatusComplete {
		return nil
	}
	if err := tab.Validate(); err != nil {
		m.logger.Warn("malformed tab snapshot dropped",
			"tab", fmt.Sprintf("%+v", tab), "error", err)
		return nil
	}
	return m.processTab(ctx, tab)
}

// HandleTabActivated processes a tab gaining focus within its window.
// The extension is asked for the tab's current state, which is then
// replayed through the update path.
func (m *TabEventManager) HandleTabActivated(ctx context.Context, tabID, windowID int) error {
	tab, err := m.querier.Tab(ctx, tabID)
	if err != nil {
		return fmt.Errorf("query activated tab %d: %w", tabID, err)
	}
	if tab == nil {
		m.logger.Debug("activated tab no longer exists", "tab_id", tabID)
		return nil
	}
	if tab.WindowID == 0 {
		tab.WindowID = windowID
	}
	return m.HandleTabUpdated(ctx, tab, event.StatusComplete)
}

// HandleTabRemoved closes the removed tab's session. The open domain
// session belonging to the tab is cleaned up before the local record
// is deleted, so the domain close can still resolve its tab.
func (m *TabEventManager) HandleTabRemoved(ctx context.Context, tabID, windowID int) error {
	tsid, err := m.globals.TabSessionID(windowID, tabID)
	if err != nil {
		return fmt.Errorf("compose tab session id: %w", err)
	}

	mapping, err := m.store.GetTab(ctx, tsid)
	if errors.Is(err, session.ErrSessionNotFound) {
		m.logger.Debug("no tab session to close", "tab_session_id", tsid)
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up tab session: %w", err)
	}

	closingTime := m.now().UTC()
	closeErr := m.api.CloseTabSession(ctx, mapping.ID, closingTime)
	if closeErr != nil {
		m.logger.Warn("failed to close tab session remotely", "tab_session_id", tsid, "error", closeErr)
	}

	if err := m.domains.CleanupForTab(ctx, tsid); err != nil {
		m.logger.Warn("domain cleanup on tab removal failed", "tab_session_id", tsid, "error", err)
	}

	if err := m.store.DeleteTab(ctx, tsid); err != nil {
		return fmt.Errorf("delete tab session record: %w", err)
	}

	if m.metrics != nil {
		m.metrics.ActiveTabs.Dec()
	}
	outcome, detail := "ok", ""
	if closeErr != nil {
		outcome, detail = "error", closeErr.Error()
	} else if m.metrics != nil {
		m.metrics.SessionsClosed.WithLabelValues("tab").Inc()
	}
	_ = m.journal.Append(journal.Record{
		Time: closingTime, Op: "close", Scope: "tab",
		SessionID: tsid, ServerID: mapping.ID, Outcome: outcome, Detail: detail,
	})
	m.logger.Info("tab session closed", "tab_session_id", tsid)

	if closeErr != nil {
		return fmt.Errorf("close tab session: %w", closeErr)
	}
	return nil
}

// ActiveTabBlur accounts for the focused tab of a window losing focus:
// its bookkeeping is wound down as if the tab had been removed, though
// the tab itself lives on in the browser.
func (m *TabEventManager) ActiveTabBlur(ctx context.Context, windowID int) {
	tab, err := m.querier.ActiveTab(ctx, windowID)
	if err != nil || tab == nil {
		if err != nil {
			m.logger.Debug("active tab query failed on blur", "window_id", windowID, "error", err)
		}
		if err := m.domains.HandleDomainCleanup(ctx); err != nil {
			m.logger.Warn("domain cleanup on blur failed", "error", err)
		}
		return
	}

	if err := m.HandleTabRemoved(ctx, tab.ID, windowID); err != nil {
		m.logger.Warn("tab accounting on blur failed", "tab_id", tab.ID, "error", err)
	}
	if err := m.domains.HandleDomainCleanup(ctx); err != nil {
		m.logger.Warn("domain cleanup on blur failed", "error", err)
	}
}

// ActiveTabFocus replays the focused window's active tab through the
// update path so its tab and domain sessions reopen.
func (m *TabEventManager) ActiveTabFocus(ctx context.Context, windowID int) {
	tab, err := m.querier.ActiveTab(ctx, windowID)
	if err != nil {
		m.logger.Debug("active tab query failed on focus", "window_id", windowID, "error", err)
		return
	}
	if tab == nil {
		return
	}
	if tab.WindowID == 0 {
		tab.WindowID = windowID
	}
	if err := m.HandleTabUpdated(ctx, tab, event.StatusComplete); err != nil {
		m.logger.Warn("tab accounting on focus failed", "tab_id", tab.ID, "error", err)
	}
}

// processTab ensures the tab has a session and hands the visit to the
// domain manager.
func (m *TabEventManager) processTab(ctx context.Context, tab *event.TabSnapshot) error {
	tsid, err := m.globals.TabSessionID(tab.WindowID, tab.ID)
	if err != nil {
		return fmt.Errorf("compose tab session id: %w", err)
	}

	mapping, err := m.store.GetTab(ctx, tsid)
	if errors.Is(err, session.ErrSessionNotFound) {
		mapping, err = m.openTab(ctx, tab, tsid)
	}
	if err != nil {
		return err
	}

	did, err := m.globals.DomainSessionID(tab.WindowID, tab.ID, tab.URL)
	if err != nil {
		return fmt.Errorf("compose domain session id: %w", err)
	}
	return m.domains.HandleDomainChange(ctx, did, tab, mapping)
}

// openTab registers a tab session, bootstrapping the owning window's
// session first when the tab shows up before its window was observed.
func (m *TabEventManager) openTab(ctx context.Context, tab *event.TabSnapshot, tsid string) (*session.TabSession, error) {
	wsid, err := m.globals.WindowSessionID(tab.WindowID)
	if err != nil {
		return nil, fmt.Errorf("compose window session id: %w", err)
	}

	win, err := m.store.GetWindow(ctx, wsid)
	if errors.Is(err, session.ErrSessionNotFound) {
		m.logger.Info("tab observed before its window, bootstrapping window session",
			"window_id", tab.WindowID)
		if err := m.windows.HandleWindowCreated(ctx, m.windows.snapshotFor(ctx, tab.WindowID)); err != nil {
			return nil, fmt.Errorf("bootstrap window session: %w", err)
		}
		win, err = m.store.GetWindow(ctx, wsid)
		if err != nil {
			return nil, fmt.Errorf("window session missing after bootstrap: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("look up window session: %w", err)
	}

	payload := &session.TabSession{
		TabSessionID: tsid,
		TabNum:       tab.ID,
		WindowNum:    tab.WindowID,
		Window:       win.ID,
		StartTime:    m.now().UTC(),
	}

	created, err := m.api.CreateTabSession(ctx, payload)
	if err != nil {
		_ = m.journal.Append(journal.Record{
			Time: m.now().UTC(), Op: "open", Scope: "tab",
			SessionID: tsid, Outcome: "error", Detail: err.Error(),
		})
		return nil, fmt.Errorf("register tab session: %w", err)
	}
	if created.TabSessionID == "" {
		created.TabSessionID = tsid
	}
	if created.TabNum == 0 {
		created.TabNum = tab.ID
	}

	if err := m.store.PutTab(ctx, created); err != nil {
		return nil, fmt.Errorf("persist tab session: %w", err)
	}

	if m.metrics != nil {
		m.metrics.SessionsOpened.WithLabelValues("tab").Inc()
		m.metrics.ActiveTabs.Inc()
	}
	_ = m.journal.Append(journal.Record{
		Time: m.now().UTC(), Op: "open", Scope: "tab",
		SessionID: created.TabSessionID, ServerID: created.ID, Outcome: "ok",
	})
	m.logger.Info("tab session opened", "tab_session_id", created.TabSessionID, "server_id", created.ID)
	return created, nil
}
