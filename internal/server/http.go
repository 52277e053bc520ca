package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// newStatsServer builds the HTTP server exposing health and runtime
// counters. Returns nil when no stats port is configured.
func (s *Server) newStatsServer() *http.Server {
	if s.cfg.StatsPort == 0 {
		return nil
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"active_connections": s.activeSessions(),
			"max_workers":        s.cfg.Workers,
			"served":             s.served.Load(),
			"backend":            s.svc.Backend(),
			"known_faces":        s.svc.Count(),
			"connected_clients":  s.connectedClients(),
		})
	})

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.StatsPort))
	return &http.Server{Addr: addr, Handler: r}
}

// serveStats starts the stats endpoint built by newStatsServer, if any.
func (s *Server) serveStats() {
	stats := s.stats
	if stats == nil {
		return
	}
	go func() {
		s.logger.Info("stats endpoint listening", "addr", stats.Addr)
		if err := stats.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("stats endpoint failed", "error", err)
		}
	}()
}
