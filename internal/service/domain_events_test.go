package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/surftrail/surftrail/internal/domain/event"
	"github.com/surftrail/surftrail/internal/domain/policy"
	"github.com/surftrail/surftrail/internal/domain/session"
)

func newDomainManager(api *fakeCollect, store *memSessionStore, rules RuleResolver, private PrivateModeChecker) *DomainEventManager {
	return NewDomainEventManager(api, store, rules, private, discardLogger(), nil, nil)
}

func completeTab(url string) *event.TabSnapshot {
	return &event.TabSnapshot{
		ID: 7, WindowID: 3, URL: url,
		Title:  "Example",
		Status: event.StatusComplete,
	}
}

func TestDomainChangeFirstOpen(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	mapping := &session.TabSession{ID: 10, TabSessionID: "g-windowId-3-tabId-7"}
	err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://example.com/"), mapping)
	if err != nil {
		t.Fatalf("HandleDomainChange: %v", err)
	}

	if m.Active() != "did-1" {
		t.Fatalf("Active = %q, want did-1", m.Active())
	}
	rec, err := store.GetDomain(context.Background(), "did-1")
	if err != nil {
		t.Fatalf("domain session not tracked: %v", err)
	}
	if rec.Title != "Example" || rec.URL != "https://example.com/" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDomainChangeSameVisitNoOp(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	mapping := &session.TabSession{ID: 10}
	tab := completeTab("https://example.com/")
	if err := m.HandleDomainChange(context.Background(), "did-1", tab, mapping); err != nil {
		t.Fatalf("first: %v", err)
	}
	base := len(api.recorded())

	if err := m.HandleDomainChange(context.Background(), "did-1", tab, mapping); err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if got := len(api.recorded()); got != base {
		t.Fatalf("repeat reached the API: %v", api.recorded()[base:])
	}
}

func TestDomainChangeEmptyIDLeavesOpenSession(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	mapping := &session.TabSession{ID: 10}
	if err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://example.com/"), mapping); err != nil {
		t.Fatalf("first: %v", err)
	}
	base := len(api.recorded())

	loading := completeTab("")
	loading.Status = "loading"
	if err := m.HandleDomainChange(context.Background(), "", loading, mapping); err != nil {
		t.Fatalf("empty id: %v", err)
	}

	if m.Active() != "did-1" {
		t.Fatalf("Active = %q, want did-1 still open", m.Active())
	}
	if got := len(api.recorded()); got != base {
		t.Fatalf("empty id reached the API: %v", api.recorded()[base:])
	}
	if _, err := store.GetDomain(context.Background(), "did-1"); err != nil {
		t.Fatalf("domain record dropped: %v", err)
	}
}

func TestDomainChangeNavigateClosesBeforeOpening(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	mapping := &session.TabSession{ID: 10}
	if err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://a.example/"), mapping); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := m.HandleDomainChange(context.Background(), "did-2", completeTab("https://b.example/"), mapping); err != nil {
		t.Fatalf("navigate: %v", err)
	}

	calls := api.recorded()
	var closeIdx, openIdx = -1, -1
	for i, call := range calls {
		if strings.HasPrefix(call, "close_domain:") && closeIdx == -1 {
			closeIdx = i
		}
		if call == "create_domain:https://b.example/" {
			openIdx = i
		}
	}
	if closeIdx == -1 || openIdx == -1 || closeIdx > openIdx {
		t.Fatalf("close must precede open, calls: %v", calls)
	}

	if m.Active() != "did-2" {
		t.Fatalf("Active = %q, want did-2", m.Active())
	}
	if _, err := store.GetDomain(context.Background(), "did-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("old domain still tracked, err = %v", err)
	}
}

func TestDomainChangeDeferredUntilComplete(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	tab := completeTab("https://example.com/")
	tab.Status = "loading"
	if err := m.HandleDomainChange(context.Background(), "did-1", tab, &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("loading: %v", err)
	}
	if m.Active() != "" {
		t.Fatalf("Active = %q, want empty while loading", m.Active())
	}
	if len(api.recorded()) != 0 {
		t.Fatalf("loading visit reached the API: %v", api.recorded())
	}
}

func TestDomainOpenFailureLeavesPointerUnset(t *testing.T) {
	api := &fakeCollect{}
	api.createDomainFn = func(context.Context, int64, session.DomainSession) (*session.DomainSession, error) {
		return nil, errors.New("server unreachable")
	}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	tab := completeTab("https://example.com/")
	if err := m.HandleDomainChange(context.Background(), "did-1", tab, &session.TabSession{ID: 10}); err == nil {
		t.Fatal("expected open error")
	}
	if m.Active() != "" {
		t.Fatalf("Active = %q, want empty after failed open", m.Active())
	}

	// A later event retries.
	api.createDomainFn = nil
	if err := m.HandleDomainChange(context.Background(), "did-1", tab, &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.Active() != "did-1" {
		t.Fatalf("Active = %q, want did-1 after retry", m.Active())
	}
}

func TestDomainCloseFailureStillResetsPointer(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	if err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://a.example/"), &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("open: %v", err)
	}

	api.closeDomainFn = func(context.Context, int64, time.Time) error {
		return errors.New("server unreachable")
	}
	if err := m.HandleDomainCleanup(context.Background()); err == nil {
		t.Fatal("expected close error")
	}
	if m.Active() != "" {
		t.Fatalf("Active = %q, want empty even on failed close", m.Active())
	}
}

func TestDomainMaskingFullDeny(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	rules := &fakeRules{rule: &policy.HostRule{
		Hostname: "example.com", Classification: policy.ClassificationFullDeny,
	}}
	m := newDomainManager(api, store, rules, nil)

	if err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://example.com/secret"), &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("open: %v", err)
	}

	rec, err := store.GetDomain(context.Background(), "did-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	deny := string(policy.ClassificationFullDeny)
	if rec.Title != deny || rec.URL != deny || rec.FavIcon != deny {
		t.Fatalf("fields not masked: %+v", rec)
	}
}

func TestDomainMaskingPrivateModeWins(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	rules := &fakeRules{rule: &policy.HostRule{
		Hostname: "example.com", Classification: policy.ClassificationFullAllow,
	}}
	m := newDomainManager(api, store, rules, &fakePrivate{active: true})

	if err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://example.com/"), &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("open: %v", err)
	}

	rec, err := store.GetDomain(context.Background(), "did-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.Title != policy.MaskPrivateMode || rec.URL != policy.MaskPrivateMode {
		t.Fatalf("private mode did not mask: %+v", rec)
	}
}

func TestDomainRuleLookupFailureStillReports(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	rules := &fakeRules{err: errors.New("cache unreadable")}
	m := newDomainManager(api, store, rules, nil)

	if err := m.HandleDomainChange(context.Background(), "did-1", completeTab("https://example.com/"), &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("open despite rule failure: %v", err)
	}
	if m.Active() != "did-1" {
		t.Fatalf("Active = %q, want did-1", m.Active())
	}
}

func TestDomainCleanupForTab(t *testing.T) {
	api := &fakeCollect{}
	store := newMemSessionStore()
	m := newDomainManager(api, store, nil, nil)

	tsid := "gid-windowId-3-tabId-7"
	did := tsid + "-domain-https://example.com/"
	if err := m.HandleDomainChange(context.Background(), did, completeTab("https://example.com/"), &session.TabSession{ID: 10}); err != nil {
		t.Fatalf("open: %v", err)
	}

	// A different tab's cleanup leaves the session alone.
	if err := m.CleanupForTab(context.Background(), "gid-windowId-3-tabId-9"); err != nil {
		t.Fatalf("foreign cleanup: %v", err)
	}
	if m.Active() != did {
		t.Fatalf("Active = %q, want %q", m.Active(), did)
	}

	if err := m.CleanupForTab(context.Background(), tsid); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if m.Active() != "" {
		t.Fatalf("Active = %q, want empty after cleanup", m.Active())
	}
}
