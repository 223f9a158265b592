// Package event defines the browser lifecycle events the daemon
// consumes from the extension bridge, plus the snapshot types carried
// inside them.
package event

import "errors"

// Type identifies a browser lifecycle event.
type Type string

const (
	TypeWindowCreated      Type = "window_created"
	TypeWindowRemoved      Type = "window_removed"
	TypeWindowFocusChanged Type = "window_focus_changed"
	TypeTabUpdated         Type = "tab_updated"
	TypeTabActivated       Type = "tab_activated"
	TypeTabRemoved         Type = "tab_removed"
)

// NoWindow is the window id reported on a focus-changed event when the
// browser as a whole lost OS focus.
const NoWindow = -1

// StatusComplete is the tab load status that marks navigation as
// finished. Domain sessions are only opened once a tab reaches it.
const StatusComplete = "complete"

// ErrMalformedTab indicates a tab snapshot is missing the fields the
// pipeline needs (positive ids and a URL).
var ErrMalformedTab = errors.New("malformed tab snapshot")

// WindowSnapshot mirrors the browser's view of a window at event time.
type WindowSnapshot struct {
	ID          int    `json:"id"`
	State       string `json:"state,omitempty"`
	Focused     bool   `json:"focused"`
	Incognito   bool   `json:"incognito"`
	AlwaysOnTop bool   `json:"always_on_top"`
	Top         int    `json:"top"`
	Left        int    `json:"left"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Type        string `json:"type,omitempty"`
}

// TabSnapshot mirrors the browser's view of a tab at event time.
// LastAccessed is milliseconds since the Unix epoch.
type TabSnapshot struct {
	ID           int    `json:"id"`
	WindowID     int    `json:"window_id"`
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	FavIconURL   string `json:"fav_icon_url,omitempty"`
	Status       string `json:"status,omitempty"`
	LastAccessed int64  `json:"last_accessed,omitempty"`
	Active       bool   `json:"active"`
	Pinned       bool   `json:"pinned"`
	Incognito    bool   `json:"incognito"`
	Index        int    `json:"index"`
}

// Validate rejects snapshots that cannot be correlated to a session.
func (t *TabSnapshot) Validate() error {
	if t == nil || t.ID <= 0 || t.WindowID <= 0 || t.URL == "" {
		return ErrMalformedTab
	}
	return nil
}

// Event is one browser lifecycle notification. Which fields are set
// depends on Type: created events carry a full snapshot, removal and
// focus events carry bare ids, and tab updates carry both the snapshot
// and the change status that triggered them.
type Event struct {
	Type     Type            `json:"type"`
	Window   *WindowSnapshot `json:"window,omitempty"`
	Tab      *TabSnapshot    `json:"tab,omitempty"`
	WindowID int             `json:"window_id,omitempty"`
	TabID    int             `json:"tab_id,omitempty"`

	// Status is the changeInfo status on tab_updated events.
	Status string `json:"status,omitempty"`
}
