package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	httpx "github.com/surftrail/surftrail/internal/adapter/inbound/http"
	"github.com/surftrail/surftrail/internal/domain/event"
)

// EventManager drains the bridge event stream and dispatches each
// event to the manager responsible for its scope. Events are handled
// one at a time in arrival order; a handler error is logged and the
// loop moves on.
type EventManager struct {
	source  EventSource
	windows *WindowEventManager
	tabs    *TabEventManager
	logger  *slog.Logger
	metrics *httpx.Metrics

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEventManager creates the dispatcher.
func NewEventManager(
	source EventSource,
	windows *WindowEventManager,
	tabs *TabEventManager,
	logger *slog.Logger,
	metrics *httpx.Metrics,
) *EventManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventManager{
		source:  source,
		windows: windows,
		tabs:    tabs,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start runs the windows startup reconciliation, then launches the
// dispatch loop. It returns once the loop is running.
func (m *EventManager) Start(ctx context.Context) error {
	if err := m.windows.Startup(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.dispatchLoop(loopCtx)
	m.logger.Info("event dispatch started")
	return nil
}

// Stop terminates the dispatch loop and waits for it to drain. Safe to
// call more than once.
func (m *EventManager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		} else {
			close(m.done)
		}
		m.logger.Info("event dispatch stopped")
	})
}

func (m *EventManager) dispatchLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.source.Events():
			if !ok {
				m.logger.Info("event source closed")
				return
			}
			m.dispatch(ctx, ev)
		}
	}
}

func (m *EventManager) dispatch(ctx context.Context, ev event.Event) {
	var err error
	switch ev.Type {
	case event.TypeWindowCreated:
		if ev.Window == nil {
			err = fmt.Errorf("window_created without window payload")
			break
		}
		err = m.windows.HandleWindowCreated(ctx, *ev.Window)
	case event.TypeWindowRemoved:
		err = m.windows.HandleWindowRemoved(ctx, ev.WindowID)
	case event.TypeWindowFocusChanged:
		err = m.windows.HandleFocusChanged(ctx, ev.WindowID)
	case event.TypeTabUpdated:
		err = m.tabs.HandleTabUpdated(ctx, ev.Tab, ev.Status)
	case event.TypeTabActivated:
		err = m.tabs.HandleTabActivated(ctx, ev.TabID, ev.WindowID)
	case event.TypeTabRemoved:
		err = m.tabs.HandleTabRemoved(ctx, ev.TabID, ev.WindowID)
	default:
		m.logger.Warn("unknown event type", "type", ev.Type)
		if m.metrics != nil {
			m.metrics.EventsTotal.WithLabelValues(string(ev.Type), "unknown").Inc()
		}
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.logger.Error("event handling failed", "type", ev.Type, "error", err)
	}
	if m.metrics != nil {
		m.metrics.EventsTotal.WithLabelValues(string(ev.Type), outcome).Inc()
	}
}
