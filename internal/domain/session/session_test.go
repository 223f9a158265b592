package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewGlobalSessionID(t *testing.T) {
	a := NewGlobalSessionID()
	b := NewGlobalSessionID()

	if !strings.HasPrefix(a, GlobalSessionPrefix) {
		t.Errorf("id %q missing prefix %q", a, GlobalSessionPrefix)
	}
	if a == b {
		t.Errorf("consecutive ids collided: %q", a)
	}
}

func TestComposedIDs(t *testing.T) {
	const gid = "global-session-abc"

	wid, err := WindowSessionID(gid, 7)
	if err != nil {
		t.Fatalf("WindowSessionID: %v", err)
	}
	if wid != "global-session-abc-windowId-7" {
		t.Errorf("window id = %q", wid)
	}

	tid, err := TabSessionID(gid, 7, 42)
	if err != nil {
		t.Fatalf("TabSessionID: %v", err)
	}
	if tid != "global-session-abc-windowId-7-tabId-42" {
		t.Errorf("tab id = %q", tid)
	}

	did, err := DomainSessionID(gid, 7, 42, "https://example.com/a")
	if err != nil {
		t.Fatalf("DomainSessionID: %v", err)
	}
	if did != "global-session-abc-windowId-7-tabId-42-domain-https://example.com/a" {
		t.Errorf("domain id = %q", did)
	}

	// Same inputs must recompute the same id.
	did2, _ := DomainSessionID(gid, 7, 42, "https://example.com/a")
	if did != did2 {
		t.Errorf("domain id not deterministic: %q vs %q", did, did2)
	}
}

func TestComposedIDsRequireActiveSession(t *testing.T) {
	if _, err := WindowSessionID("", 1); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("WindowSessionID error = %v, want ErrNoActiveSession", err)
	}
	if _, err := TabSessionID("", 1, 2); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("TabSessionID error = %v, want ErrNoActiveSession", err)
	}
	if _, err := DomainSessionID("", 1, 2, "https://x"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("DomainSessionID error = %v, want ErrNoActiveSession", err)
	}
}

func TestClassifyTransition(t *testing.T) {
	tests := []struct {
		name    string
		current string
		next    string
		want    Transition
	}{
		{"same id", "d1", "d1", TransitionNone},
		{"both empty", "", "", TransitionNone},
		{"empty observation leaves open session alone", "d1", "", TransitionNone},
		{"nothing open", "", "d1", TransitionFirstOpen},
		{"different id", "d1", "d2", TransitionNavigate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyTransition(tt.current, tt.next); got != tt.want {
				t.Errorf("ClassifyTransition(%q, %q) = %v, want %v", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestGlobalSessionActive(t *testing.T) {
	var nilSession *GlobalSession
	if nilSession.Active() {
		t.Error("nil session reported active")
	}

	open := &GlobalSession{GlobalSessionID: "global-session-x", StartTime: time.Now()}
	if !open.Active() {
		t.Error("open session reported inactive")
	}

	closedAt := time.Now()
	open.ClosingTime = &closedAt
	if open.Active() {
		t.Error("closed session reported active")
	}
}
