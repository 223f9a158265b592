package session

import (
	"fmt"

	"github.com/google/uuid"
)

// GlobalSessionPrefix prefixes every generated global session id.
const GlobalSessionPrefix = "global-session-"

// NewGlobalSessionID generates a fresh globally unique session id.
func NewGlobalSessionID() string {
	return GlobalSessionPrefix + uuid.NewString()
}

// WindowSessionID composes the deterministic id for a browser window
// under the given global session. The same inputs always produce the
// same id, so the id can be recomputed from any later event instead of
// being carried in shared state.
func WindowSessionID(globalSessionID string, windowID int) (string, error) {
	if globalSessionID == "" {
		return "", ErrNoActiveSession
	}
	return fmt.Sprintf("%s-windowId-%d", globalSessionID, windowID), nil
}

// TabSessionID composes the deterministic id for a tab within a window.
func TabSessionID(globalSessionID string, windowID, tabID int) (string, error) {
	wid, err := WindowSessionID(globalSessionID, windowID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-tabId-%d", wid, tabID), nil
}

// DomainSessionID composes the deterministic id for a site visit within
// a tab. The raw URL is embedded verbatim; two tabs on the same URL
// still get distinct ids because the tab segment differs.
func DomainSessionID(globalSessionID string, windowID, tabID int, url string) (string, error) {
	tid, err := TabSessionID(globalSessionID, windowID, tabID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-domain-%s", tid, url), nil
}
