// Package bridge hosts the WebSocket endpoint the browser extension
// connects to. The extension pushes window and tab lifecycle events;
// the daemon can query it back (open windows, active tab) with
// correlated request/response frames.
//
// At most one extension connection is active; a new connection
// supersedes the previous one.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/surftrail/surftrail/internal/domain/event"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 512 * 1024

	defaultQueryTimeout = 5 * time.Second
	defaultEventBuffer  = 256
)

// ErrNotConnected indicates no extension is currently connected, so
// queries cannot be answered.
var ErrNotConnected = errors.New("no extension connected")

// Server accepts the extension connection and fans its events into a
// channel the event manager drains.
type Server struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	events       chan event.Event
	queryTimeout time.Duration

	mu      sync.Mutex
	conn    *connection
	pending map[string]chan inboundFrame
}

// connection is one accepted extension socket with its write queue.
type connection struct {
	ws   *websocket.Conn
	send chan outboundFrame
	done chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithQueryTimeout sets how long queries wait for the extension.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) { s.queryTimeout = d }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(s *Server) { s.events = make(chan event.Event, n) }
}

// NewServer creates a bridge server.
func NewServer(logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge binds to loopback; the extension connects
			// without a browser origin the daemon could verify.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:       logger,
		events:       make(chan event.Event, defaultEventBuffer),
		queryTimeout: defaultQueryTimeout,
		pending:      make(map[string]chan inboundFrame),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the channel browser events are delivered on.
func (s *Server) Events() <-chan event.Event {
	return s.events
}

// Connected reports whether an extension is currently attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Handler returns the HTTP handler performing the WebSocket upgrade.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("bridge upgrade failed", "error", err)
			return
		}

		conn := &connection{
			ws:   ws,
			send: make(chan outboundFrame, 32),
			done: make(chan struct{}),
		}
		s.attach(conn)

		ws.SetReadLimit(maxMessageSize)

		go s.writePump(conn)
		s.readPump(conn)
	})
}

// attach makes conn the active connection, superseding any previous one.
func (s *Server) attach(conn *connection) {
	s.mu.Lock()
	prev := s.conn
	s.conn = conn
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("new extension connection supersedes previous one")
		prev.close()
	}
	s.logger.Info("extension connected")
}

// detach clears conn if it is still the active connection and fails
// any queries waiting on it.
func (s *Server) detach(conn *connection) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	conn.close()
}

func (c *connection) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (s *Server) readPump(conn *connection) {
	defer s.detach(conn)

	_ = conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("bridge read failed", "error", err)
			} else {
				s.logger.Info("extension disconnected")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Warn("bridge frame is not valid JSON, dropped", "error", err)
			continue
		}
		s.handleFrame(conn, frame)
	}
}

func (s *Server) writePump(conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()

	for {
		select {
		case <-conn.done:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteJSON(frame); err != nil {
				s.logger.Warn("bridge write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one inbound frame: hello handshake, query result
// correlation, or a browser event pushed onto the event channel.
func (s *Server) handleFrame(conn *connection, frame inboundFrame) {
	switch frame.Type {
	case frameHello:
		s.logger.Info("extension hello", "version", frame.Version)
		select {
		case conn.send <- outboundFrame{Type: frameHelloAck}:
		case <-conn.done:
		}

	case frameQueryResult:
		s.mu.Lock()
		ch, ok := s.pending[frame.QueryID]
		if ok {
			delete(s.pending, frame.QueryID)
		}
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("query result for unknown query, dropped", "query_id", frame.QueryID)
			return
		}
		ch <- frame
		close(ch)

	case string(event.TypeWindowCreated), string(event.TypeWindowRemoved),
		string(event.TypeWindowFocusChanged), string(event.TypeTabUpdated),
		string(event.TypeTabActivated), string(event.TypeTabRemoved):
		s.deliver(toEvent(frame))

	default:
		s.logger.Warn("unknown bridge frame type, dropped", "type", frame.Type)
	}
}

// toEvent converts an event frame into the domain event.
func toEvent(frame inboundFrame) event.Event {
	ev := event.Event{
		Type:   event.Type(frame.Type),
		Window: frame.Window,
		Tab:    frame.Tab,
		TabID:  frame.TabID,
		Status: frame.Status,
	}
	if frame.WindowID != nil {
		ev.WindowID = *frame.WindowID
	}
	return ev
}

// deliver pushes an event onto the channel, dropping the oldest when
// the consumer has fallen badly behind.
func (s *Server) deliver(ev event.Event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	select {
	case dropped := <-s.events:
		s.logger.Warn("event buffer full, oldest event dropped", "dropped_type", dropped.Type)
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, event dropped", "type", ev.Type)
	}
}

// query sends one query frame and waits for the correlated result.
func (s *Server) query(ctx context.Context, frame outboundFrame) (inboundFrame, error) {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return inboundFrame{}, ErrNotConnected
	}
	frame.Type = frameQuery
	frame.QueryID = uuid.NewString()
	ch := make(chan inboundFrame, 1)
	s.pending[frame.QueryID] = ch
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, frame.QueryID)
		s.mu.Unlock()
	}

	select {
	case conn.send <- frame:
	case <-conn.done:
		cleanup()
		return inboundFrame{}, ErrNotConnected
	case <-ctx.Done():
		cleanup()
		return inboundFrame{}, ctx.Err()
	}

	timer := time.NewTimer(s.queryTimeout)
	defer timer.Stop()

	select {
	case result, ok := <-ch:
		if !ok {
			return inboundFrame{}, ErrNotConnected
		}
		if result.Error != "" {
			return inboundFrame{}, fmt.Errorf("extension query %s: %s", frame.Query, result.Error)
		}
		return result, nil
	case <-timer.C:
		cleanup()
		return inboundFrame{}, fmt.Errorf("extension query %s: timed out", frame.Query)
	case <-ctx.Done():
		cleanup()
		return inboundFrame{}, ctx.Err()
	}
}

// ListWindows asks the extension for all open windows.
func (s *Server) ListWindows(ctx context.Context) ([]event.WindowSnapshot, error) {
	result, err := s.query(ctx, outboundFrame{Query: QueryListWindows})
	if err != nil {
		return nil, err
	}
	var windows []event.WindowSnapshot
	if err := json.Unmarshal(result.Result, &windows); err != nil {
		return nil, fmt.Errorf("decode list_windows result: %w", err)
	}
	return windows, nil
}

// ActiveTab asks the extension for the active tab of a window. It
// returns (nil, nil) when the window has no active tab.
func (s *Server) ActiveTab(ctx context.Context, windowID int) (*event.TabSnapshot, error) {
	result, err := s.query(ctx, outboundFrame{Query: QueryActiveTab, WindowID: windowID})
	if err != nil {
		return nil, err
	}
	if len(result.Result) == 0 || string(result.Result) == "null" {
		return nil, nil
	}
	var tab event.TabSnapshot
	if err := json.Unmarshal(result.Result, &tab); err != nil {
		return nil, fmt.Errorf("decode active_tab result: %w", err)
	}
	return &tab, nil
}

// Tab asks the extension for one tab by id.
func (s *Server) Tab(ctx context.Context, tabID int) (*event.TabSnapshot, error) {
	result, err := s.query(ctx, outboundFrame{Query: QueryGetTab, TabID: tabID})
	if err != nil {
		return nil, err
	}
	if len(result.Result) == 0 || string(result.Result) == "null" {
		return nil, nil
	}
	var tab event.TabSnapshot
	if err := json.Unmarshal(result.Result, &tab); err != nil {
		return nil, fmt.Errorf("decode get_tab result: %w", err)
	}
	return &tab, nil
}
