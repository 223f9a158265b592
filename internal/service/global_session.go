package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/surftrail/surftrail/internal/adapter/outbound/journal"
	"github.com/surftrail/surftrail/internal/adapter/outbound/state"
	"github.com/surftrail/surftrail/internal/domain/session"
)

// GlobalSessionService owns the global session lifecycle. Exactly one
// global session is active per daemon run; creating a new one closes
// whatever the persisted state says was active before.
//
// While a supersession is in flight the old session is already
// unusable, so LatestActive hides it: callers composing scoped ids
// must never bind new windows to a session being torn down.
type GlobalSessionService struct {
	api     CollectAPI
	state   StateStore
	logger  *slog.Logger
	journal Journal

	mu sync.Mutex
	// lastCreatedID is the id of the most recent Create call, set
	// before any network traffic so stale persisted entries are
	// recognizable.
	lastCreatedID string
	// closingID is non-empty while that session is being closed.
	closingID string

	now func() time.Time
}

// NewGlobalSessionService creates the global session service.
func NewGlobalSessionService(api CollectAPI, st StateStore, logger *slog.Logger, j Journal) *GlobalSessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GlobalSessionService{
		api:     api,
		state:   st,
		logger:  logger,
		journal: orNoopJournal(j),
		now:     time.Now,
	}
}

// Create generates a fresh global session, closes the previously
// persisted one (best effort), registers the new one with the
// collection API, and persists the server-assigned record.
func (s *GlobalSessionService) Create(ctx context.Context) (*session.GlobalSession, error) {
	newID := session.NewGlobalSessionID()

	s.mu.Lock()
	s.lastCreatedID = newID
	s.mu.Unlock()

	app, err := s.state.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if prev := app.GlobalSession; prev != nil && prev.ClosingTime == nil {
		s.closePrevious(ctx, prev)
	}

	startTime := s.now().UTC()
	created, err := s.api.CreateGlobalSession(ctx, newID, startTime)
	if err != nil {
		_ = s.journal.Append(journal.Record{
			Time: s.now().UTC(), Op: "open", Scope: "global",
			SessionID: newID, Outcome: "error", Detail: err.Error(),
		})
		return nil, fmt.Errorf("register global session: %w", err)
	}
	if created.GlobalSessionID == "" {
		created.GlobalSessionID = newID
	}

	app.GlobalSession = &state.GlobalSessionEntry{
		ID:              created.ID,
		GlobalSessionID: created.GlobalSessionID,
		StartTime:       created.StartTime,
	}
	if err := s.state.Save(app); err != nil {
		return nil, fmt.Errorf("persist global session: %w", err)
	}

	_ = s.journal.Append(journal.Record{
		Time: s.now().UTC(), Op: "open", Scope: "global",
		SessionID: created.GlobalSessionID, ServerID: created.ID, Outcome: "ok",
	})
	s.logger.Info("global session created",
		"global_session_id", created.GlobalSessionID,
		"server_id", created.ID)
	return created, nil
}

// closePrevious closes the superseded session. Failures are logged but
// never block the new session: the server also closes dangling
// sessions on its side.
func (s *GlobalSessionService) closePrevious(ctx context.Context, prev *state.GlobalSessionEntry) {
	s.mu.Lock()
	s.closingID = prev.GlobalSessionID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.closingID = ""
		s.mu.Unlock()
	}()

	closingTime := s.now().UTC()
	if err := s.api.CloseGlobalSession(ctx, prev.ID, closingTime); err != nil {
		s.logger.Warn("failed to close superseded global session",
			"global_session_id", prev.GlobalSessionID,
			"error", err)
		_ = s.journal.Append(journal.Record{
			Time: closingTime, Op: "close", Scope: "global",
			SessionID: prev.GlobalSessionID, ServerID: prev.ID,
			Outcome: "error", Detail: err.Error(),
		})
		return
	}
	_ = s.journal.Append(journal.Record{
		Time: closingTime, Op: "close", Scope: "global",
		SessionID: prev.GlobalSessionID, ServerID: prev.ID, Outcome: "ok",
	})
	s.logger.Info("superseded global session closed",
		"global_session_id", prev.GlobalSessionID)
}

// LatestActive returns the currently active global session. It reports
// session.ErrNoActiveSession when none is active, when the persisted
// one is being closed, or when the persisted entry is stale relative
// to an in-flight Create.
func (s *GlobalSessionService) LatestActive() (*session.GlobalSession, error) {
	app, err := s.state.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	entry := app.GlobalSession
	if entry == nil || entry.ClosingTime != nil {
		return nil, session.ErrNoActiveSession
	}

	s.mu.Lock()
	closing := s.closingID
	lastCreated := s.lastCreatedID
	s.mu.Unlock()

	if entry.GlobalSessionID == closing {
		return nil, session.ErrNoActiveSession
	}
	if lastCreated != "" && entry.GlobalSessionID != lastCreated {
		return nil, session.ErrNoActiveSession
	}

	return &session.GlobalSession{
		ID:              entry.ID,
		GlobalSessionID: entry.GlobalSessionID,
		StartTime:       entry.StartTime,
	}, nil
}

// Close closes the active global session, used at daemon shutdown.
func (s *GlobalSessionService) Close(ctx context.Context) error {
	app, err := s.state.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	entry := app.GlobalSession
	if entry == nil || entry.ClosingTime != nil {
		return nil
	}

	closingTime := s.now().UTC()
	if err := s.api.CloseGlobalSession(ctx, entry.ID, closingTime); err != nil {
		_ = s.journal.Append(journal.Record{
			Time: closingTime, Op: "close", Scope: "global",
			SessionID: entry.GlobalSessionID, ServerID: entry.ID,
			Outcome: "error", Detail: err.Error(),
		})
		return fmt.Errorf("close global session: %w", err)
	}

	entry.ClosingTime = &closingTime
	if err := s.state.Save(app); err != nil {
		return fmt.Errorf("persist global session close: %w", err)
	}
	_ = s.journal.Append(journal.Record{
		Time: closingTime, Op: "close", Scope: "global",
		SessionID: entry.GlobalSessionID, ServerID: entry.ID, Outcome: "ok",
	})
	s.logger.Info("global session closed", "global_session_id", entry.GlobalSessionID)
	return nil
}

// ActiveID returns the composed id of the active global session.
func (s *GlobalSessionService) ActiveID() (string, error) {
	sess, err := s.LatestActive()
	if err != nil {
		return "", err
	}
	return sess.GlobalSessionID, nil
}

// WindowSessionID composes the window session id for a browser window
// under the active global session.
func (s *GlobalSessionService) WindowSessionID(windowID int) (string, error) {
	gid, err := s.ActiveID()
	if err != nil {
		return "", err
	}
	return session.WindowSessionID(gid, windowID)
}

// TabSessionID composes the tab session id under the active global session.
func (s *GlobalSessionService) TabSessionID(windowID, tabID int) (string, error) {
	gid, err := s.ActiveID()
	if err != nil {
		return "", err
	}
	return session.TabSessionID(gid, windowID, tabID)
}

// DomainSessionID composes the domain session id under the active
// global session.
func (s *GlobalSessionService) DomainSessionID(windowID, tabID int, url string) (string, error) {
	gid, err := s.ActiveID()
	if err != nil {
		return "", err
	}
	return session.DomainSessionID(gid, windowID, tabID, url)
}
