package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/surftrail/surftrail/internal/adapter/outbound/collect"
	"github.com/surftrail/surftrail/internal/adapter/outbound/state"
	"github.com/surftrail/surftrail/internal/domain/event"
	"github.com/surftrail/surftrail/internal/domain/policy"
	"github.com/surftrail/surftrail/internal/domain/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCollect implements CollectAPI and HostAPI. Unset func fields
// succeed with server-assigned ids; every call is recorded.
type fakeCollect struct {
	mu    sync.Mutex
	calls []string

	nextID int64

	createGlobalFn func(ctx context.Context, gid string, start time.Time) (*session.GlobalSession, error)
	closeGlobalFn  func(ctx context.Context, id int64, closing time.Time) error
	createWindowFn func(ctx context.Context, ws *session.WindowSession) (*session.WindowSession, error)
	closeWindowFn  func(ctx context.Context, id int64, closing time.Time) error
	createTabFn    func(ctx context.Context, ts *session.TabSession) (*session.TabSession, error)
	closeTabFn     func(ctx context.Context, id int64, closing time.Time) error
	createDomainFn func(ctx context.Context, tabID int64, ds session.DomainSession) (*session.DomainSession, error)
	closeDomainFn  func(ctx context.Context, id int64, closing time.Time) error

	profileFn    func(ctx context.Context) (*collect.Profile, error)
	fetchRulesFn func(ctx context.Context) ([]policy.HostRule, string, error)
	taskResultFn func(ctx context.Context, taskID string) ([]policy.HostRule, error)
}

func (f *fakeCollect) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCollect) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeCollect) assignID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *fakeCollect) CreateGlobalSession(ctx context.Context, gid string, start time.Time) (*session.GlobalSession, error) {
	f.record("create_global")
	if f.createGlobalFn != nil {
		return f.createGlobalFn(ctx, gid, start)
	}
	return &session.GlobalSession{ID: f.assignID(), GlobalSessionID: gid, StartTime: start}, nil
}

func (f *fakeCollect) CloseGlobalSession(ctx context.Context, id int64, closing time.Time) error {
	f.record(fmt.Sprintf("close_global:%d", id))
	if f.closeGlobalFn != nil {
		return f.closeGlobalFn(ctx, id, closing)
	}
	return nil
}

func (f *fakeCollect) CreateWindowSession(ctx context.Context, ws *session.WindowSession) (*session.WindowSession, error) {
	f.record(fmt.Sprintf("create_window:%d", ws.WindowNum))
	if f.createWindowFn != nil {
		return f.createWindowFn(ctx, ws)
	}
	out := *ws
	out.ID = f.assignID()
	return &out, nil
}

func (f *fakeCollect) CloseWindowSession(ctx context.Context, id int64, closing time.Time) error {
	f.record(fmt.Sprintf("close_window:%d", id))
	if f.closeWindowFn != nil {
		return f.closeWindowFn(ctx, id, closing)
	}
	return nil
}

func (f *fakeCollect) CreateTabSession(ctx context.Context, ts *session.TabSession) (*session.TabSession, error) {
	f.record(fmt.Sprintf("create_tab:%d", ts.TabNum))
	if f.createTabFn != nil {
		return f.createTabFn(ctx, ts)
	}
	out := *ts
	out.ID = f.assignID()
	return &out, nil
}

func (f *fakeCollect) CloseTabSession(ctx context.Context, id int64, closing time.Time) error {
	f.record(fmt.Sprintf("close_tab:%d", id))
	if f.closeTabFn != nil {
		return f.closeTabFn(ctx, id, closing)
	}
	return nil
}

func (f *fakeCollect) CreateDomainSession(ctx context.Context, tabID int64, ds session.DomainSession) (*session.DomainSession, error) {
	f.record(fmt.Sprintf("create_domain:%s", ds.URL))
	if f.createDomainFn != nil {
		return f.createDomainFn(ctx, tabID, ds)
	}
	out := ds
	out.ID = f.assignID()
	return &out, nil
}

func (f *fakeCollect) CloseDomainSession(ctx context.Context, id int64, closing time.Time) error {
	f.record(fmt.Sprintf("close_domain:%d", id))
	if f.closeDomainFn != nil {
		return f.closeDomainFn(ctx, id, closing)
	}
	return nil
}

func (f *fakeCollect) UserProfile(ctx context.Context) (*collect.Profile, error) {
	f.record("profile")
	if f.profileFn != nil {
		return f.profileFn(ctx)
	}
	return &collect.Profile{}, nil
}

func (f *fakeCollect) FetchHostRules(ctx context.Context) ([]policy.HostRule, string, error) {
	f.record("fetch_rules")
	if f.fetchRulesFn != nil {
		return f.fetchRulesFn(ctx)
	}
	return nil, "", nil
}

func (f *fakeCollect) TaskResult(ctx context.Context, taskID string) ([]policy.HostRule, error) {
	f.record("task_result")
	if f.taskResultFn != nil {
		return f.taskResultFn(ctx, taskID)
	}
	return nil, nil
}

// memStateStore keeps AppState in memory, round-tripping through JSON
// so callers never share pointers with the store.
type memStateStore struct {
	mu  sync.Mutex
	raw []byte
}

func newMemStateStore(t *testing.T) *memStateStore {
	t.Helper()
	s := &memStateStore{}
	if err := s.Save(&state.AppState{Version: "1", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	return s
}

func (s *memStateStore) Load() (*state.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st state.AppState
	if err := json.Unmarshal(s.raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *memStateStore) Save(st *state.AppState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.raw = b
	s.mu.Unlock()
	return nil
}

// memSessionStore is an in-memory session.Store.
type memSessionStore struct {
	mu      sync.Mutex
	windows map[string]*session.WindowSession
	tabs    map[string]*session.TabSession
	domains map[string]*session.DomainSession
	closed  []*session.WindowSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		windows: make(map[string]*session.WindowSession),
		tabs:    make(map[string]*session.TabSession),
		domains: make(map[string]*session.DomainSession),
	}
}

func (s *memSessionStore) GetWindow(_ context.Context, id string) (*session.WindowSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.windows[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return ws, nil
}

func (s *memSessionStore) PutWindow(_ context.Context, ws *session.WindowSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[ws.WindowSessionID] = ws
	return nil
}

func (s *memSessionStore) DeleteWindow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, id)
	return nil
}

func (s *memSessionStore) GetTab(_ context.Context, id string) (*session.TabSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tabs[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return ts, nil
}

func (s *memSessionStore) PutTab(_ context.Context, ts *session.TabSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[ts.TabSessionID] = ts
	return nil
}

func (s *memSessionStore) DeleteTab(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, id)
	return nil
}

func (s *memSessionStore) GetDomain(_ context.Context, id string) (*session.DomainSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.domains[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return ds, nil
}

func (s *memSessionStore) PutDomain(_ context.Context, ds *session.DomainSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[ds.DomainSessionID] = ds
	return nil
}

func (s *memSessionStore) DeleteDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains, id)
	return nil
}

func (s *memSessionStore) PutClosedWindow(_ context.Context, ws *session.WindowSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, ws)
	return nil
}

func (s *memSessionStore) TakeClosedWindows(_ context.Context) ([]*session.WindowSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.closed
	s.closed = nil
	return out, nil
}

func (s *memSessionStore) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closed)
}

// fakeQuerier answers extension queries from canned data.
type fakeQuerier struct {
	windows   []event.WindowSnapshot
	activeTab map[int]*event.TabSnapshot
	tabs      map[int]*event.TabSnapshot
	err       error
}

func (q *fakeQuerier) ListWindows(context.Context) ([]event.WindowSnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.windows, nil
}

func (q *fakeQuerier) ActiveTab(_ context.Context, windowID int) (*event.TabSnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.activeTab[windowID], nil
}

func (q *fakeQuerier) Tab(_ context.Context, tabID int) (*event.TabSnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.tabs[tabID], nil
}

// fakeRules resolves every URL to a fixed rule.
type fakeRules struct {
	rule *policy.HostRule
	err  error
}

func (r *fakeRules) Resolve(context.Context, string, bool) (*policy.HostRule, error) {
	return r.rule, r.err
}

// fakePrivate is a settable PrivateModeChecker.
type fakePrivate struct{ active bool }

func (p *fakePrivate) Active() bool { return p.active }

// newActiveGlobals builds a GlobalSessionService with a session
// already created, so composed ids resolve.
func newActiveGlobals(t *testing.T, api *fakeCollect) (*GlobalSessionService, *memStateStore, *session.GlobalSession) {
	t.Helper()
	states := newMemStateStore(t)
	globals := NewGlobalSessionService(api, states, discardLogger(), nil)
	sess, err := globals.Create(context.Background())
	if err != nil {
		t.Fatalf("create global session: %v", err)
	}
	return globals, states, sess
}
