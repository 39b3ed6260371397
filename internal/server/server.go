// Package server exposes the relay's liveness surface: a /ping endpoint
// reporting whether the platform socket is connected, and a /health endpoint
// running registered subsystem probes. It carries no relay logic.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zudduz/cscratch-dg/internal/types"
)

// healthCheckTimeout is the maximum time allowed for all probes to complete.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is a subsystem health check.
type HealthProbe interface {
	// Name identifies the probe in the health response (e.g. "gateway").
	Name() string

	// Check returns an error if the subsystem is unhealthy. It must respect
	// the context deadline.
	Check(ctx context.Context) error
}

// Server is the liveness HTTP surface.
type Server struct {
	logger    types.Logger
	connected func() bool
	probes    []HealthProbe
	router    *chi.Mux
}

// New builds the server. connected reports the platform socket state and
// feeds /ping; probes feed /health.
func New(logger types.Logger, connected func() bool, probes ...HealthProbe) *Server {
	s := &Server{
		logger:    logger,
		connected: connected,
		probes:    probes,
		router:    chi.NewRouter(),
	}

	s.router.Use(s.requestID, s.recoverer)
	s.router.Get("/ping", s.handlePing)
	s.router.Get("/health", s.handleHealth)

	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handlePing reports process liveness plus gateway connectivity.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"bot_connected": s.connected(),
	})
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// handleHealth runs all probes concurrently under a short timeout. 200 when
// everything reports healthy, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.probes) == 0 {
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make([]probeResult, 0, len(s.probes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			var err error
			func() {
				defer func() {
					if rvr := recover(); rvr != nil {
						err = fmt.Errorf("probe panicked: %v", rvr)
					}
				}()
				err = p.Check(ctx)
			}()
			mu.Lock()
			results = append(results, probeResult{name: p.Name(), err: err})
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	resp := healthResponse{
		Status:     "healthy",
		Components: make(map[string]componentStatus, len(results)),
	}
	status := http.StatusOK

	for _, res := range results {
		if res.err != nil {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			resp.Components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
			continue
		}
		resp.Components[res.name] = componentStatus{Status: "healthy"}
	}

	writeJSON(w, status, resp)
}

// requestID attaches a correlation ID to each request for log grouping.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 8)
		_, _ = rand.Read(buf)
		id := hex.EncodeToString(buf)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// recoverer catches panics in the handler chain so a broken probe cannot
// take down the liveness surface with it.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic recovered in http handler",
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"status": "error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// GatewayProbe adapts the platform session's connectivity flag to a
// HealthProbe.
type GatewayProbe struct {
	Connected func() bool
}

// Name implements HealthProbe.
func (GatewayProbe) Name() string { return "gateway" }

// Check implements HealthProbe.
func (p GatewayProbe) Check(context.Context) error {
	if !p.Connected() {
		return fmt.Errorf("gateway socket not connected")
	}
	return nil
}
