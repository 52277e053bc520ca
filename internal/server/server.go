// Package server implements the TCP recognition service: it accepts
// newline-delimited JSON requests, runs them against the recognition
// backend, and answers each with exactly one response message.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facegate/facegate/internal/camera"
	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/dataset"
	"github.com/facegate/facegate/internal/protocol"
	"github.com/facegate/facegate/internal/recognize"
)

const welcomeMessage = "Connected to Face Recognition Server"

// Server owns the listener, the session table and the worker pool. One
// Server serves one listener for its whole lifetime.
type Server struct {
	cfg       config.ServerConfig
	svc       recognize.Service
	cam       camera.Camera
	camMu     sync.Mutex // the camera is a single device, captures are serialized
	collector *dataset.Collector
	logger    *slog.Logger

	// startMu guards the fields published by ListenAndServe so a signal
	// handler calling Shutdown never observes them half-initialized.
	startMu    sync.Mutex
	ln         net.Listener
	pool       *pool
	stats      *http.Server
	acceptDone chan struct{}

	stop         atomic.Bool
	shutdownOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*session

	served atomic.Int64

	handlers map[string]handlerFunc
}

func New(cfg config.ServerConfig, svc recognize.Service, cam camera.Camera, collector *dataset.Collector, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		cam:       cam,
		collector: collector,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
	s.handlers = map[string]handlerFunc{
		protocol.TypeRecognizeFace:  s.handleRecognizeFace,
		protocol.TypePredict:        s.handleRecognizeFace,
		protocol.TypeCaptureImage:   s.handleCaptureImage,
		protocol.TypeAddKnownFace:   s.handleAddKnownFace,
		protocol.TypeListKnownFaces: s.handleListKnownFaces,
		protocol.TypePing:           s.handlePing,
		protocol.TypeCollectDataset: s.handleCollectDataset,
		protocol.TypeTrainModel:     s.handleTrainModel,
		protocol.TypeClearModel:     s.handleClearModel,
	}
	return s
}

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	acceptDone := make(chan struct{})
	defer close(acceptDone)

	s.startMu.Lock()
	if s.stop.Load() {
		s.startMu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.ln = ln
	s.pool = newPool(s.cfg.Workers, s.cfg.QueueSize)
	s.stats = s.newStatsServer()
	s.acceptDone = acceptDone
	s.startMu.Unlock()
	s.serveStats()

	s.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"workers", s.cfg.Workers,
		"backend", s.svc.Backend(),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stop.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		sess := newSession(conn, s)
		if !s.pool.trySubmit(sess.run) {
			s.logger.Warn("rejecting connection, worker pool saturated", "remote", conn.RemoteAddr())
			s.rejectBusy(conn)
			continue
		}
	}
}

// rejectBusy tells an over-capacity client why it is being dropped.
func (s *Server) rejectBusy(conn net.Conn) {
	enc := protocol.NewEncoder(conn)
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := enc.Encode(protocol.NewError("server busy, try again later")); err != nil {
		s.logger.Debug("busy rejection write failed", "error", err)
	}
	_ = conn.Close()
}

// Addr returns the bound listener address, for tests that listen on port 0.
func (s *Server) Addr() net.Addr {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting, closes every live session and waits for the
// worker pool up to the configured timeout. Safe to call more than once and
// from any goroutine: it waits for the accept loop to exit before closing
// the task channel, so a connection accepted during the shutdown window can
// never be submitted to a closed pool.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.stop.Store(true)

		s.startMu.Lock()
		ln, pool, stats, acceptDone := s.ln, s.pool, s.stats, s.acceptDone
		s.startMu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}
		if acceptDone != nil {
			<-acceptDone
		}

		s.mu.Lock()
		open := make([]*session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			open = append(open, sess)
		}
		s.mu.Unlock()
		for _, sess := range open {
			sess.close()
		}

		if pool != nil && !pool.shutdown(s.cfg.ShutdownTimeout) {
			s.logger.Warn("worker pool did not drain before timeout")
		}

		if stats != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := stats.Shutdown(ctx); err != nil {
				s.logger.Warn("stats endpoint shutdown failed", "error", err)
			}
		}

		if err := s.cam.Close(); err != nil {
			s.logger.Warn("camera close failed", "error", err)
		}
		s.logger.Info("server stopped", "served", s.served.Load())
	})
}

func (s *Server) register(sess *session) {
	s.mu.Lock()
	s.sessions[sess.remote] = sess
	s.mu.Unlock()
	s.served.Add(1)
	s.logger.Info("client connected", "remote", sess.remote, "active", s.activeSessions())
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.remote)
	s.mu.Unlock()
	s.logger.Info("client disconnected", "remote", sess.remote, "active", s.activeSessions())
}

func (s *Server) activeSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) connectedClients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]string, 0, len(s.sessions))
	for remote := range s.sessions {
		clients = append(clients, remote)
	}
	return clients
}

// capture serializes camera access across sessions.
func (s *Server) capture(ctx context.Context) ([]byte, error) {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	return s.cam.Capture(ctx)
}
