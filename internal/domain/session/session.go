// Package session defines the hierarchical browsing-session entities
// (global → window → tab → domain) and the deterministic identifier
// scheme that ties a local record to its server-side counterpart.
//
// Every entity carries two identities: a locally composed session id
// string (recomputable from browser-assigned numeric ids) and a
// server-assigned numeric ID returned by the collection API. The
// composed id is the lookup key in the local store; the numeric ID is
// what close (PATCH) calls are addressed to.
package session

import "time"

// GlobalSession is the root of the session hierarchy. Exactly one is
// active at a time; it is created at startup and closed when a new one
// supersedes it or the daemon stops.
type GlobalSession struct {
	// ID is the server-assigned primary key.
	ID int64 `json:"id"`

	// GlobalSessionID is the locally generated "global-session-<uuid>" id.
	GlobalSessionID string `json:"global_session_id"`

	StartTime   time.Time  `json:"start_time"`
	ClosingTime *time.Time `json:"closing_time,omitempty"`
}

// Active reports whether the session exists and has not been closed.
func (s *GlobalSession) Active() bool {
	return s != nil && s.ClosingTime == nil
}

// WindowSession represents one browser window under a global session.
// It is closed when the window is removed or when focus moves to a
// different window.
type WindowSession struct {
	// ID is the server-assigned primary key.
	ID int64 `json:"id"`

	// WindowSessionID is the composed "<global>-windowId-<N>" id.
	WindowSessionID string `json:"window_session_id"`

	// WindowNum is the browser-assigned window id.
	WindowNum int `json:"window_num"`

	// GlobalSession is the server id of the owning global session.
	GlobalSession int64 `json:"global_session"`

	StartTime   time.Time  `json:"start_time"`
	ClosingTime *time.Time `json:"closing_time,omitempty"`

	// Snapshot of window attributes at creation time.
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

// TabSession represents one tab within a window session.
type TabSession struct {
	// ID is the server-assigned primary key.
	ID int64 `json:"id"`

	// TabSessionID is the composed "<window-session>-tabId-<N>" id.
	TabSessionID string `json:"tab_session_id"`

	// TabNum and WindowNum are the browser-assigned numeric ids.
	TabNum    int `json:"tab_num"`
	WindowNum int `json:"window_num"`

	// Window is the server id of the owning window session.
	Window int64 `json:"window"`

	StartTime   time.Time  `json:"start_time"`
	ClosingTime *time.Time `json:"closing_time,omitempty"`
}

// DomainSession represents one visited site within a tab. The title,
// URL and favicon fields hold the values after masking policy was
// applied; the raw values never leave the daemon when a rule or
// private mode masks them.
type DomainSession struct {
	// ID is the server-assigned primary key.
	ID int64 `json:"id"`

	// DomainSessionID is the composed "<tab-session>-domain-<url>" id.
	DomainSessionID string `json:"domain_session_id"`

	Title        string `json:"domain_title"`
	URL          string `json:"domain_url"`
	FavIcon      string `json:"domain_fav_icon"`
	LastAccessed string `json:"domain_last_accessed,omitempty"`

	StartTime   time.Time  `json:"start_time"`
	ClosingTime *time.Time `json:"closing_time,omitempty"`
}
