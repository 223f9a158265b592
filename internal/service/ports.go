// Package service implements the session correlation pipeline: the
// global session lifecycle, the per-scope event managers that turn
// unordered browser events into session opens and closes, and the
// background services (host sync, private mode, heartbeat) around them.
package service

import (
	"context"
	"time"

	"github.com/surftrail/surftrail/internal/adapter/outbound/collect"
	"github.com/surftrail/surftrail/internal/adapter/outbound/journal"
	"github.com/surftrail/surftrail/internal/adapter/outbound/state"
	"github.com/surftrail/surftrail/internal/domain/event"
	"github.com/surftrail/surftrail/internal/domain/policy"
	"github.com/surftrail/surftrail/internal/domain/session"
)

// CollectAPI is the slice of the collection client the event managers
// use to open and close sessions.
type CollectAPI interface {
	CreateGlobalSession(ctx context.Context, globalSessionID string, startTime time.Time) (*session.GlobalSession, error)
	CloseGlobalSession(ctx context.Context, id int64, closingTime time.Time) error
	CreateWindowSession(ctx context.Context, ws *session.WindowSession) (*session.WindowSession, error)
	CloseWindowSession(ctx context.Context, id int64, closingTime time.Time) error
	CreateTabSession(ctx context.Context, ts *session.TabSession) (*session.TabSession, error)
	CloseTabSession(ctx context.Context, id int64, closingTime time.Time) error
	CreateDomainSession(ctx context.Context, tabID int64, ds session.DomainSession) (*session.DomainSession, error)
	CloseDomainSession(ctx context.Context, id int64, closingTime time.Time) error
}

// HostAPI is the slice of the collection client host sync uses.
type HostAPI interface {
	UserProfile(ctx context.Context) (*collect.Profile, error)
	FetchHostRules(ctx context.Context) (rules []policy.HostRule, taskID string, err error)
	TaskResult(ctx context.Context, taskID string) ([]policy.HostRule, error)
}

// StateStore persists the daemon's restart-surviving state.
type StateStore interface {
	Load() (*state.AppState, error)
	Save(*state.AppState) error
}

// RuleStore caches the synced host rules locally.
type RuleStore interface {
	ReplaceHostRules(ctx context.Context, rules []policy.HostRule) error
	HostRules(ctx context.Context) ([]policy.HostRule, error)
	HostRuleCount(ctx context.Context) (int, error)
}

// BrowserQuerier asks the connected extension about current browser
// state. Queries fail when no extension is attached.
type BrowserQuerier interface {
	ListWindows(ctx context.Context) ([]event.WindowSnapshot, error)
	ActiveTab(ctx context.Context, windowID int) (*event.TabSnapshot, error)
	Tab(ctx context.Context, tabID int) (*event.TabSnapshot, error)
}

// EventSource delivers browser lifecycle events.
type EventSource interface {
	Events() <-chan event.Event
}

// Journal records session open/close outcomes for local audit.
type Journal interface {
	Append(records ...journal.Record) error
}

// RuleResolver finds the host rule applying to a visit, nil when none.
type RuleResolver interface {
	Resolve(ctx context.Context, rawURL string, private bool) (*policy.HostRule, error)
}

// PrivateModeChecker reports whether all visits are currently masked.
type PrivateModeChecker interface {
	Active() bool
}

// noopJournal swallows records when no journal is configured.
type noopJournal struct{}

func (noopJournal) Append(...journal.Record) error { return nil }

func orNoopJournal(j Journal) Journal {
	if j == nil {
		return noopJournal{}
	}
	return j
}
