package service

import (
	"context"
	"testing"
	"time"

	"github.com/surftrail/surftrail/internal/domain/event"
)

type chanEventSource struct{ ch chan event.Event }

func (s *chanEventSource) Events() <-chan event.Event { return s.ch }

func newEventManagerFixture(t *testing.T) (*EventManager, *tabFixture, *chanEventSource) {
	t.Helper()
	f := newTabFixture(t)
	f.windows.startupAttempts = 1
	f.windows.startupInterval = time.Millisecond
	f.windows.lastKnownSessionID = "" // session created in fixture counts as fresh
	src := &chanEventSource{ch: make(chan event.Event, 16)}
	em := NewEventManager(src, f.windows, f.tabs, discardLogger(), nil)
	return em, f, src
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEventManagerDispatches(t *testing.T) {
	em, f, src := newEventManagerFixture(t)
	if err := em.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer em.Stop()

	src.ch <- event.Event{Type: event.TypeWindowCreated, Window: &event.WindowSnapshot{ID: 3}}
	waitFor(t, func() bool { return f.windows.ActiveWindow() == 3 }, "window event not dispatched")

	src.ch <- event.Event{
		Type:   event.TypeTabUpdated,
		Tab:    &event.TabSnapshot{ID: 7, WindowID: 3, URL: "https://example.com/"},
		Status: event.StatusComplete,
	}
	waitFor(t, func() bool { return f.domains.Active() != "" }, "tab event not dispatched")

	src.ch <- event.Event{Type: event.TypeTabRemoved, TabID: 7, WindowID: 3}
	waitFor(t, func() bool { return f.domains.Active() == "" }, "tab removal not dispatched")

	src.ch <- event.Event{Type: event.TypeWindowRemoved, WindowID: 3}
	waitFor(t, func() bool { return f.windows.ActiveWindow() == 0 }, "window removal not dispatched")
}

func TestEventManagerSurvivesHandlerError(t *testing.T) {
	em, f, src := newEventManagerFixture(t)
	if err := em.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer em.Stop()

	// Payload missing: the dispatcher logs and keeps going.
	src.ch <- event.Event{Type: event.TypeWindowCreated}
	src.ch <- event.Event{Type: "someday_maybe"}
	src.ch <- event.Event{Type: event.TypeWindowCreated, Window: &event.WindowSnapshot{ID: 4}}
	waitFor(t, func() bool { return f.windows.ActiveWindow() == 4 }, "dispatch stopped after bad event")
}

func TestEventManagerStartFailsWithoutFreshSession(t *testing.T) {
	f := newTabFixture(t)
	f.windows.startupAttempts = 2
	f.windows.startupInterval = time.Millisecond
	sess, err := f.globals.LatestActive()
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	f.windows.lastKnownSessionID = sess.GlobalSessionID // looks stale

	src := &chanEventSource{ch: make(chan event.Event)}
	em := NewEventManager(src, f.windows, f.tabs, discardLogger(), nil)
	if err := em.Start(context.Background()); err == nil {
		em.Stop()
		t.Fatal("expected start to fail on stale session")
	}
	em.Stop()
}

func TestEventManagerStopBeforeStart(t *testing.T) {
	f := newTabFixture(t)
	src := &chanEventSource{ch: make(chan event.Event)}
	em := NewEventManager(src, f.windows, f.tabs, discardLogger(), nil)
	em.Stop()
	em.Stop()
}

func TestEventManagerStopsOnClosedSource(t *testing.T) {
	em, _, src := newEventManagerFixture(t)
	if err := em.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	close(src.ch)

	waitFor(t, func() bool {
		select {
		case <-em.done:
			return true
		default:
			return false
		}
	}, "dispatch loop did not exit on closed source")
	em.Stop()
}
