package service

import (
	"log/slog"
	"sync"
	"time"

	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/adapter/outbound/state"
)

// PrivateModeService toggles full masking of visit payloads. State is
// persisted so private mode survives a daemon restart; a timed
// activation expires lazily on the next check.
type PrivateModeService struct {
	states StateStore
	logger *slog.Logger

	mu      sync.Mutex
	current state.PrivateModeEntry

	now func() time.Time
}

// NewPrivateModeService restores the persisted private-mode state.
func NewPrivateModeService(states StateStore, logger *slog.Logger) (*PrivateModeService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PrivateModeService{
		states: states,
		logger: logger,
		now:    time.Now,
	}
	st, err := states.Load()
	if err != nil {
		return nil, err
	}
	s.current = st.PrivateMode
	return s, nil
}

var (
	_ PrivateModeChecker          = (*PrivateModeService)(nil)
	_ httpx.PrivateModeController = (*PrivateModeService)(nil)
)

// Active reports whether private mode is on right now. A timed
// activation that ran out is cleared and the cleared state persisted.
func (s *PrivateModeService) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.Enabled {
		return false
	}
	if s.current.ActiveAt(s.now()) {
		return true
	}

	// Expired while nobody was looking.
	s.current = state.PrivateModeEntry{}
	if err := s.persistLocked(); err != nil {
		s.logger.Warn("failed to persist private mode expiry", "error", err)
	}
	s.logger.Info("private mode expired")
	return false
}

// Enable turns private mode on. A positive duration arms an expiry;
// zero means until explicitly disabled.
func (s *PrivateModeService) Enable(duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := state.PrivateModeEntry{Enabled: true}
	if duration > 0 {
		entry.ExpiresAt = s.now().UTC().Add(duration)
	}
	s.current = entry

	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("private mode enabled", "duration", duration)
	return nil
}

// Disable turns private mode off.
func (s *PrivateModeService) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = state.PrivateModeEntry{}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("private mode disabled")
	return nil
}

// Status reports the current toggle and its expiry, a zero time when
// none is armed.
func (s *PrivateModeService) Status() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.Enabled || !s.current.ActiveAt(s.now()) {
		return false, time.Time{}
	}
	return true, s.current.ExpiresAt
}

func (s *PrivateModeService) persistLocked() error {
	st, err := s.states.Load()
	if err != nil {
		return err
	}
	st.PrivateMode = s.current
	st.UpdatedAt = s.now().UTC()
	return s.states.Save(st)
}
