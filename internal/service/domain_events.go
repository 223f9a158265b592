package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/adapter/outbound/journal"
	"github.com/surftrail/surftrail/internal/domain/event"
	"github.com/surftrail/surftrail/internal/domain/policy"
	"github.com/surftrail/surftrail/internal/domain/session"
)

// DomainEventManager tracks site visits. At most one domain session is
// open at a time (the visit in the focused tab); navigating away or
// losing the tab closes it before the next one opens.
type DomainEventManager struct {
	api     CollectAPI
	store   session.Store
	rules   RuleResolver
	private PrivateModeChecker
	logger  *slog.Logger
	metrics *httpx.Metrics
	journal Journal

	mu sync.Mutex
	// current is the composed id of the open domain session, "" when
	// none. It is the single source of truth for what is open.
	current string

	now func() time.Time
}

// NewDomainEventManager creates the domain manager. rules and private
// may be nil, disabling masking.
func NewDomainEventManager(
	api CollectAPI,
	store session.Store,
	rules RuleResolver,
	private PrivateModeChecker,
	logger *slog.Logger,
	metrics *httpx.Metrics,
	j Journal,
) *DomainEventManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainEventManager{
		api:     api,
		store:   store,
		rules:   rules,
		private: private,
		logger:  logger,
		metrics: metrics,
		journal: orNoopJournal(j),
		now:     time.Now,
	}
}

// Active returns the open domain session id, "" when none.
func (m *DomainEventManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HandleDomainChange reconciles an observed visit against the open
// domain session. Equal or empty ids are a no-op; otherwise any open
// session is closed first and the new one is opened, but only once the
// tab's navigation has reached terminal status.
func (m *DomainEventManager) HandleDomainChange(ctx context.Context, newID string, tab *event.TabSnapshot, mapping *session.TabSession) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	switch tr := session.ClassifyTransition(current, newID); tr {
	case session.TransitionNone:
		m.logger.Debug("visit unchanged", "domain_session_id", newID)
		return nil

	case session.TransitionFirstOpen:
		// Nothing to close.

	case session.TransitionNavigate:
		if err := m.closeCurrent(ctx); err != nil {
			// The close failed remotely but the pointer is already
			// reset; the new visit must still be reported.
			m.logger.Warn("failed to close previous domain session", "error", err)
		}

	default:
		return fmt.Errorf("unhandled domain transition %v", tr)
	}

	if tab.Status != event.StatusComplete {
		m.logger.Debug("navigation not complete, domain session deferred",
			"domain_session_id", newID, "status", tab.Status)
		return nil
	}

	return m.open(ctx, newID, tab, mapping)
}

// open applies masking policy and registers the domain session.
func (m *DomainEventManager) open(ctx context.Context, id string, tab *event.TabSnapshot, mapping *session.TabSession) error {
	private := m.private != nil && m.private.Active()

	var rule *policy.HostRule
	if m.rules != nil {
		var err error
		rule, err = m.rules.Resolve(ctx, tab.URL, private)
		if err != nil {
			// An unreadable rule set must not leak the raw visit; the
			// defaults still apply but the failure is worth noting.
			m.logger.Warn("host rule lookup failed", "error", err)
		}
	}

	fields := policy.Apply(policy.DomainFields{
		Title:   tab.Title,
		URL:     tab.URL,
		FavIcon: tab.FavIconURL,
	}, rule, private)

	payload := session.DomainSession{
		DomainSessionID: id,
		Title:           fields.Title,
		URL:             fields.URL,
		FavIcon:         fields.FavIcon,
		StartTime:       m.now().UTC(),
	}
	if tab.LastAccessed > 0 {
		payload.LastAccessed = time.UnixMilli(tab.LastAccessed).UTC().Format(time.RFC3339)
	}

	created, err := m.api.CreateDomainSession(ctx, mapping.ID, payload)
	if err != nil {
		_ = m.journal.Append(journal.Record{
			Time: m.now().UTC(), Op: "open", Scope: "domain",
			SessionID: id, Outcome: "error", Detail: err.Error(),
		})
		// The pointer stays unset so a later event retries the open.
		return fmt.Errorf("register domain session: %w", err)
	}
	if created.DomainSessionID == "" {
		created.DomainSessionID = id
	}

	if err := m.store.PutDomain(ctx, created); err != nil {
		return fmt.Errorf("persist domain session: %w", err)
	}

	m.mu.Lock()
	m.current = id
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionsOpened.WithLabelValues("domain").Inc()
	}
	_ = m.journal.Append(journal.Record{
		Time: m.now().UTC(), Op: "open", Scope: "domain",
		SessionID: id, ServerID: created.ID, Outcome: "ok",
	})
	m.logger.Info("domain session opened", "domain_session_id", id, "server_id", created.ID)
	return nil
}

// closeCurrent closes the open domain session. The pointer is reset
// unconditionally, even when the close fails: a stuck pointer would
// block every later visit.
func (m *DomainEventManager) closeCurrent(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.current = ""
	m.mu.Unlock()

	if current == "" {
		return nil
	}

	rec, err := m.store.GetDomain(ctx, current)
	if errors.Is(err, session.ErrSessionNotFound) {
		// Already closed through another path.
		m.logger.Debug("no domain session record to close", "domain_session_id", current)
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up domain session: %w", err)
	}

	closingTime := m.now().UTC()
	if err := m.api.CloseDomainSession(ctx, rec.ID, closingTime); err != nil {
		_ = m.journal.Append(journal.Record{
			Time: closingTime, Op: "close", Scope: "domain",
			SessionID: current, ServerID: rec.ID, Outcome: "error", Detail: err.Error(),
		})
		return fmt.Errorf("close domain session: %w", err)
	}

	if err := m.store.DeleteDomain(ctx, current); err != nil {
		return fmt.Errorf("delete domain session record: %w", err)
	}

	if m.metrics != nil {
		m.metrics.SessionsClosed.WithLabelValues("domain").Inc()
	}
	_ = m.journal.Append(journal.Record{
		Time: closingTime, Op: "close", Scope: "domain",
		SessionID: current, ServerID: rec.ID, Outcome: "ok",
	})
	m.logger.Info("domain session closed", "domain_session_id", current)
	return nil
}

// HandleDomainCleanup closes whatever domain session is open. Used
// when the focused tab goes away (blur, tab removal) rather than a
// navigation replacing it.
func (m *DomainEventManager) HandleDomainCleanup(ctx context.Context) error {
	return m.closeCurrent(ctx)
}

// CleanupForTab closes the open domain session only if it belongs to
// the given tab.
func (m *DomainEventManager) CleanupForTab(ctx context.Context, tabSessionID string) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if current == "" || !strings.HasPrefix(current, tabSessionID+"-domain-") {
		return nil
	}
	return m.closeCurrent(ctx)
}
