package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arenaroyale/arenaserver/internal/game/battle"
	"github.com/arenaroyale/arenaserver/internal/game/matchmaking"
)

// Server exposes the websocket endpoint plus health and metrics over HTTP.
type Server struct {
	addr       string
	hub        *Hub
	matchmaker *matchmaking.Matchmaker
	battles    *battle.Coordinator
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates the HTTP front for the hub.
func NewServer(addr string, hub *Hub, matchmaker *matchmaking.Matchmaker, battles *battle.Coordinator, log *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		hub:        hub,
		matchmaker: matchmaker,
		battles:    battles,
		log:        log,
	}
}

// Addr returns the bound address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"online":         s.hub.OnlineCount(),
		"queues":         s.matchmaker.QueueSizes(),
		"active_battles": s.battles.ActiveCount(),
	})
}

// Run binds the listener and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info("arena server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	}
}
