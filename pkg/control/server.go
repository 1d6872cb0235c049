// Package control exposes the local operational surface of a running
// panelcore instance: a snapshot of durable panel instances, the remote
// mirror websocket endpoint and the recent interaction audit trail.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/small-frappuccino/panelcore/pkg/log"
	"github.com/small-frappuccino/panelcore/pkg/panel"
	"github.com/small-frappuccino/panelcore/pkg/panel/instance"
	"github.com/small-frappuccino/panelcore/pkg/panel/remote"
	"github.com/small-frappuccino/panelcore/pkg/storage"
)

// Server exposes operational controls for a running panelcore instance.
type Server struct {
	addr       string
	instances  *instance.Store
	hub        *remote.Hub
	audit      *storage.AuditStore
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty. hub and audit may be nil; their
// endpoints then answer 404 and 503 respectively.
func NewServer(addr string, instances *instance.Store, hub *remote.Hub, audit *storage.AuditStore) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || instances == nil {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		addr:      addr,
		instances: instances,
		hub:       hub,
		audit:     audit,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	mux.HandleFunc("/v1/panels", s.handlePanels)
	mux.HandleFunc("/v1/audit/recent", s.handleAuditRecent)
	if hub != nil {
		mux.HandleFunc("/v1/panels/ws", hub.HandleWS)
	}

	return s
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

// panelsSnapshot is the /v1/panels payload.
type panelsSnapshot struct {
	Scopes      map[string][]*panel.InstanceRecord `json:"scopes"`
	Subscribers int                                `json:"subscribers"`
}

func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all, err := s.instances.All()
	if err != nil {
		http.Error(w, fmt.Sprintf("read instances: %v", err), http.StatusInternalServerError)
		return
	}

	snap := panelsSnapshot{Scopes: all}
	if s.hub != nil {
		snap.Subscribers = s.hub.SubscriberCount()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.ApplicationLogger().Warn("Failed to encode panels snapshot", "err", err)
	}
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.audit == nil {
		http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("read audit trail: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		log.ApplicationLogger().Warn("Failed to encode audit trail", "err", err)
	}
}
