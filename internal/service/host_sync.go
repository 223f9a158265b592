package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/adapter/outbound/collect"
	"github.com/surftrail/surftrail/internal/domain/policy"
)

const (
	defaultSyncInterval = time.Hour

	taskPollBase     = time.Second
	taskPollCap      = 30 * time.Second
	taskPollAttempts = 8
)

// HostSyncService keeps the local host-rule cache aligned with the
// server catalogue. It fetches the account's host version on a timer;
// when the version moved (or the cache is empty) it pulls the full
// rule set, swaps the cache and records a fingerprint of the new
// catalogue. It also serves rule lookups from an in-memory copy.
type HostSyncService struct {
	api     HostAPI
	rules   RuleStore
	states  StateStore
	engine  *policy.Engine
	logger  *slog.Logger
	metrics *httpx.Metrics

	interval time.Duration
	pollBase time.Duration

	mu     sync.RWMutex
	cached []policy.HostRule

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// HostSyncOption customizes the sync service.
type HostSyncOption func(*HostSyncService)

// WithSyncInterval sets the periodic catalogue check interval.
func WithSyncInterval(d time.Duration) HostSyncOption {
	return func(s *HostSyncService) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewHostSyncService creates the sync service. The evaluator backs
// conditional rule matching.
func NewHostSyncService(
	api HostAPI,
	rules RuleStore,
	states StateStore,
	evaluator policy.ConditionEvaluator,
	logger *slog.Logger,
	metrics *httpx.Metrics,
	opts ...HostSyncOption,
) *HostSyncService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HostSyncService{
		api:      api,
		rules:    rules,
		states:   states,
		engine:   policy.NewEngine(evaluator, logger),
		logger:   logger,
		metrics:  metrics,
		interval: defaultSyncInterval,
		pollBase: taskPollBase,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ RuleResolver = (*HostSyncService)(nil)

// Start loads the cached rules from disk and launches the periodic
// sync loop. The first sync runs immediately.
func (s *HostSyncService) Start(ctx context.Context) error {
	cached, err := s.rules.HostRules(ctx)
	if err != nil {
		return fmt.Errorf("load cached host rules: %w", err)
	}
	s.setCached(cached)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(loopCtx)
	return nil
}

// Stop terminates the sync loop. Safe to call more than once.
func (s *HostSyncService) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		} else {
			close(s.done)
		}
	})
}

func (s *HostSyncService) loop(ctx context.Context) {
	defer close(s.done)

	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("initial host sync failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("host sync failed", "error", err)
			}
		}
	}
}

// Sync checks the server's host version against the locally recorded
// one and refreshes the rule cache when they differ or the cache is
// empty.
func (s *HostSyncService) Sync(ctx context.Context) error {
	profile, err := s.api.UserProfile(ctx)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}

	st, err := s.states.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	count, err := s.rules.HostRuleCount(ctx)
	if err != nil {
		return fmt.Errorf("count cached rules: %w", err)
	}

	if profile.Extension.HostVersion == st.HostVersion && count > 0 {
		s.logger.Debug("host rules up to date",
			"host_version", st.HostVersion, "rules", count)
		return nil
	}

	rules, err := s.fetchRules(ctx)
	if err != nil {
		return fmt.Errorf("fetch host rules: %w", err)
	}

	if err := s.rules.ReplaceHostRules(ctx, rules); err != nil {
		return fmt.Errorf("replace cached rules: %w", err)
	}
	s.setCached(rules)

	st.HostVersion = profile.Extension.HostVersion
	st.HostRulesFingerprint = fingerprint(rules)
	st.UpdatedAt = time.Now().UTC()
	if err := s.states.Save(st); err != nil {
		return fmt.Errorf("persist host version: %w", err)
	}

	s.logger.Info("host rules synced",
		"host_version", st.HostVersion,
		"rules", len(rules),
		"fingerprint", st.HostRulesFingerprint)
	return nil
}

// fetchRules pulls the catalogue, polling the async task result with
// exponential backoff when the server defers the answer.
func (s *HostSyncService) fetchRules(ctx context.Context) ([]policy.HostRule, error) {
	rules, taskID, err := s.api.FetchHostRules(ctx)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return rules, nil
	}

	delay := s.pollBase
	for attempt := 1; attempt <= taskPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		rules, err = s.api.TaskResult(ctx, taskID)
		if err == nil {
			return rules, nil
		}
		if !errors.Is(err, collect.ErrTaskPending) {
			return nil, err
		}
		s.logger.Debug("host rule task pending",
			"task_id", taskID, "attempt", attempt)

		delay *= 2
		if delay > taskPollCap {
			delay = taskPollCap
		}
	}
	return nil, fmt.Errorf("host rule task %s: gave up after %d attempts: %w",
		taskID, taskPollAttempts, collect.ErrTaskPending)
}

// Resolve finds the rule applying to a visit, nil when no rule
// matches.
func (s *HostSyncService) Resolve(ctx context.Context, rawURL string, private bool) (*policy.HostRule, error) {
	s.mu.RLock()
	rules := s.cached
	s.mu.RUnlock()
	return s.engine.Match(rules, rawURL, private), nil
}

func (s *HostSyncService) setCached(rules []policy.HostRule) {
	s.mu.Lock()
	s.cached = rules
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.HostRules.Set(float64(len(rules)))
	}
}

// fingerprint hashes the catalogue so two syncs of identical content
// are recognizable in logs and state without diffing rule lists.
func fingerprint(rules []policy.HostRule) string {
	h := xxhash.New()
	for _, r := range rules {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		_, _ = h.Write(b)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
