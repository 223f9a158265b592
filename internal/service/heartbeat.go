package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultHeartbeatInterval = 10 * time.Second

// HeartbeatService periodically stamps the state file with the current
// time so a later start can tell how the previous run ended.
type HeartbeatService struct {
	states   StateStore
	logger   *slog.Logger
	interval time.Duration

	mu   sync.RWMutex
	last time.Time

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	now func() time.Time
}

// NewHeartbeatService creates the heartbeat. A non-positive interval
// falls back to the default.
func NewHeartbeatService(states StateStore, logger *slog.Logger, interval time.Duration) *HeartbeatService {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &HeartbeatService{
		states:   states,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start records an immediate beat then launches the ticker loop.
func (s *HeartbeatService) Start(ctx context.Context) error {
	if err := s.beat(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(loopCtx)
	return nil
}

// Stop terminates the ticker loop. Safe to call more than once.
func (s *HeartbeatService) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		} else {
			close(s.done)
		}
	})
}

// Last returns the most recent beat recorded by this process.
func (s *HeartbeatService) Last() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *HeartbeatService) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.beat(); err != nil {
				s.logger.Warn("heartbeat write failed", "error", err)
			}
		}
	}
}

func (s *HeartbeatService) beat() error {
	st, err := s.states.Load()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	st.LastHeartbeat = now
	st.UpdatedAt = now
	if err := s.states.Save(st); err != nil {
		return err
	}
	s.mu.Lock()
	s.last = now
	s.mu.Unlock()
	return nil
}
