package session

import "context"

// Store persists the window/tab/domain records that survive daemon
// restarts. Lookups by composed session id return ErrSessionNotFound
// when no record exists; deletes of absent records are no-ops.
type Store interface {
	GetWindow(ctx context.Context, windowSessionID string) (*WindowSession, error)
	PutWindow(ctx context.Context, ws *WindowSession) error
	DeleteWindow(ctx context.Context, windowSessionID string) error

	GetTab(ctx context.Context, tabSessionID string) (*TabSession, error)
	PutTab(ctx context.Context, ts *TabSession) error
	DeleteTab(ctx context.Context, tabSessionID string) error

	GetDomain(ctx context.Context, domainSessionID string) (*DomainSession, error)
	PutDomain(ctx context.Context, ds *DomainSession) error
	DeleteDomain(ctx context.Context, domainSessionID string) error

	// PutClosedWindow records a window session whose remote close
	// failed, so the close can be retried on a later startup.
	PutClosedWindow(ctx context.Context, ws *WindowSession) error

	// TakeClosedWindows drains and returns the retry backlog.
	TakeClosedWindows(ctx context.Context) ([]*WindowSession, error)
}
