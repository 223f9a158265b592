package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrivateModeController toggles masking of all visits.
type PrivateModeController interface {
	Enable(duration time.Duration) error
	Disable() error
	Status() (enabled bool, expiresAt time.Time)
}

// Status describes the daemon for the /health endpoint. The callbacks
// are read at request time, so nil funcs mean "not configured".
type Status struct {
	Version         string
	BridgeConnected func() bool
	LastHeartbeat   func() time.Time
	GlobalSessionID func() string
}

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status          string    `json:"status"` // "healthy" or "degraded"
	Version         string    `json:"version,omitempty"`
	BridgeConnected bool      `json:"bridge_connected"`
	GlobalSessionID string    `json:"global_session_id,omitempty"`
	LastHeartbeat   time.Time `json:"last_heartbeat,omitzero"`
	Goroutines      int       `json:"goroutines"`
}

// Server is the daemon's local HTTP listener. It binds to loopback and
// serves the extension bridge, health, metrics, and private mode.
type Server struct {
	addr   string
	logger *slog.Logger
	srv    *http.Server
}

// NewServer assembles the listener. bridgeHandler serves the WebSocket
// upgrade at /bridge; privateMode may be nil to disable the endpoint.
func NewServer(
	addr string,
	bridgeHandler http.Handler,
	registry *prometheus.Registry,
	status Status,
	privateMode PrivateModeController,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/bridge", bridgeHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/health", healthHandler(status))
	if privateMode != nil {
		mux.Handle("/private-mode", privateModeHandler(privateMode, logger))
	}

	return &Server{
		addr:   addr,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listener started", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http listener shutdown: %w", err)
	}
	s.logger.Info("http listener stopped")
	return nil
}

func healthHandler(status Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:     "healthy",
			Version:    status.Version,
			Goroutines: runtime.NumGoroutine(),
		}
		if status.BridgeConnected != nil {
			resp.BridgeConnected = status.BridgeConnected()
		}
		if status.LastHeartbeat != nil {
			resp.LastHeartbeat = status.LastHeartbeat()
		}
		if status.GlobalSessionID != nil {
			resp.GlobalSessionID = status.GlobalSessionID()
		}

		// No extension attached means no events are flowing.
		if !resp.BridgeConnected {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// privateModeRequest is the POST /private-mode body.
type privateModeRequest struct {
	Enabled bool `json:"enabled"`

	// DurationSeconds limits how long private mode stays on; zero
	// means until explicitly disabled.
	DurationSeconds int `json:"duration_seconds,omitempty"`
}

type privateModeResponse struct {
	Enabled   bool      `json:"enabled"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func privateModeHandler(ctrl PrivateModeController, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			enabled, expiresAt := ctrl.Status()
			writeJSON(w, privateModeResponse{Enabled: enabled, ExpiresAt: expiresAt})

		case http.MethodPost:
			var req privateModeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid JSON body", http.StatusBadRequest)
				return
			}

			var err error
			if req.Enabled {
				err = ctrl.Enable(time.Duration(req.DurationSeconds) * time.Second)
			} else {
				err = ctrl.Disable()
			}
			if err != nil {
				logger.Error("private mode toggle failed", "error", err)
				http.Error(w, "private mode toggle failed", http.StatusInternalServerError)
				return
			}

			enabled, expiresAt := ctrl.Status()
			writeJSON(w, privateModeResponse{Enabled: enabled, ExpiresAt: expiresAt})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
