package bridge

import (
	"encoding/json"

	"github.com/surftrail/surftrail/internal/domain/event"
)

// Frame types exchanged with the extension. Event frames reuse the
// event.Type values; the rest are bridge bookkeeping and queries.
const (
	frameHello    = "hello"
	frameHelloAck = "hello_ack"

	frameQuery       = "query"
	frameQueryResult = "query_result"
)

// Query names the daemon can send to the extension.
const (
	QueryListWindows = "list_windows"
	QueryActiveTab   = "active_tab"
	QueryGetTab      = "get_tab"
)

// inboundFrame is a message received from the extension. Event frames
// carry the snapshot fields directly; query_result frames carry the
// correlation id and a raw payload decoded per query.
type inboundFrame struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`

	// Event payloads.
	Window   *event.WindowSnapshot `json:"window,omitempty"`
	Tab      *event.TabSnapshot    `json:"tab,omitempty"`
	WindowID *int                  `json:"window_id,omitempty"`
	TabID    int                   `json:"tab_id,omitempty"`
	Status   string                `json:"status,omitempty"`

	// Query correlation.
	QueryID string          `json:"query_id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// outboundFrame is a message sent to the extension.
type outboundFrame struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`

	QueryID  string `json:"query_id,omitempty"`
	Query    string `json:"query,omitempty"`
	WindowID int    `json:"window_id,omitempty"`
	TabID    int    `json:"tab_id,omitempty"`
}
