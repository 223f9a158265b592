// Package state provides file-based persistence for the small runtime
// state that must survive daemon restarts: the active global session,
// the synced host-rule version, private mode, and the last heartbeat.
// Writes are atomic (write-tmp-then-rename) and guarded by both an
// in-process mutex and a cross-process file lock.
package state

import "time"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// GlobalSession is the most recently created global session,
	// including its server-assigned id. Nil before the first startup.
	GlobalSession *GlobalSessionEntry `json:"global_session,omitempty"`

	// HostVersion is the host-rule catalogue version last seen on the
	// server. A mismatch against the server triggers a rule re-sync.
	HostVersion string `json:"host_version,omitempty"`

	// HostRulesFingerprint is the hash of the last synced rule set,
	// used to detect rule changes in logs and diagnostics.
	HostRulesFingerprint string `json:"host_rules_fingerprint,omitempty"`

	// PrivateMode records whether masking of all visits is active and
	// until when.
	PrivateMode PrivateModeEntry `json:"private_mode"`

	// LastHeartbeat is when the daemon last recorded liveness.
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// GlobalSessionEntry is the persisted view of a global session.
type GlobalSessionEntry struct {
	// ID is the server-assigned primary key.
	ID int64 `json:"id"`

	// GlobalSessionID is the locally composed "global-session-<uuid>" id.
	GlobalSessionID string `json:"global_session_id"`

	StartTime   time.Time  `json:"start_time"`
	ClosingTime *time.Time `json:"closing_time,omitempty"`
}

// PrivateModeEntry is the persisted private mode toggle. A zero
// ExpiresAt with Enabled set means private mode holds until disabled.
type PrivateModeEntry struct {
	Enabled   bool      `json:"enabled"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// ActiveAt reports whether private mode is in force at the given time.
func (p PrivateModeEntry) ActiveAt(now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if p.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(p.ExpiresAt)
}
