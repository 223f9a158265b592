package service

import (
	"testing"
	"time"
)

func TestPrivateModeEnableDisable(t *testing.T) {
	states := newMemStateStore(t)
	s, err := NewPrivateModeService(states, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if s.Active() {
		t.Fatal("private mode active before enable")
	}

	if err := s.Enable(0); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !s.Active() {
		t.Fatal("private mode not active after enable")
	}
	enabled, expires := s.Status()
	if !enabled || !expires.IsZero() {
		t.Fatalf("Status = (%v, %v), want (true, zero)", enabled, expires)
	}

	if err := s.Disable(); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Active() {
		t.Fatal("private mode still active after disable")
	}
}

func TestPrivateModeTimedExpiry(t *testing.T) {
	states := newMemStateStore(t)
	s, err := NewPrivateModeService(states, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Enable(time.Minute); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !s.Active() {
		t.Fatal("not active inside the window")
	}

	now = now.Add(2 * time.Minute)
	if s.Active() {
		t.Fatal("still active after expiry")
	}

	// The expiry was persisted as a clean disable.
	st, _ := states.Load()
	if st.PrivateMode.Enabled {
		t.Fatalf("persisted entry still enabled: %+v", st.PrivateMode)
	}
}

func TestPrivateModeSurvivesRestart(t *testing.T) {
	states := newMemStateStore(t)
	s, err := NewPrivateModeService(states, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Enable(time.Hour); err != nil {
		t.Fatalf("enable: %v", err)
	}

	restarted, err := NewPrivateModeService(states, discardLogger())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !restarted.Active() {
		t.Fatal("private mode lost across restart")
	}
}
