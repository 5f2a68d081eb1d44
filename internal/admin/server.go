// Package admin exposes a node's runtime state over HTTP for local
// inspection and scripted control, grounded on the same
// gorilla/mux-router-plus-stdlib-http.Server shape used elsewhere in the
// retrieved corpus for small debug surfaces.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flximg/meshnode/internal/mesh"
)

// Server is the admin HTTP surface over a running Node. It never touches
// Node's internal fields directly -- reads go through Node.Snapshot and
// Node.Routes, and the single write operation (discover) goes through
// Node.RequestDiscovery.
type Server struct {
	addr   string
	node   *mesh.Node
	logger *slog.Logger

	router     *mux.Router
	httpServer *http.Server
}

// New creates an admin Server bound to addr, serving state from node.
func New(addr string, node *mesh.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		node:   node,
		logger: logger.With(slog.String("component", "admin")),
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet)
	api.HandleFunc("/ota", s.handleOTA).Methods(http.MethodGet)
	api.HandleFunc("/signing", s.handleSigning).Methods(http.MethodGet)
	api.HandleFunc("/discover", s.handleDiscover).Methods(http.MethodPost)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", slog.Any("error", err))
	}
}

// statusResponse is the /v1/status payload.
type statusResponse struct {
	NodeID              int    `json:"node_id"`
	ParentID            int    `json:"parent_id"`
	Distance            int    `json:"distance"`
	FailedTransmissions int    `json:"failed_transmissions"`
	DiscoveryRunning    bool   `json:"discovery_running"`
	SigningState        string `json:"signing_state"`
	FirmwareActive      bool   `json:"firmware_active"`
	FirmwareProgress    int    `json:"firmware_progress_blocks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	s.writeJSON(w, http.StatusOK, statusResponse{
		NodeID:              int(snap.Context.NodeID),
		ParentID:            int(snap.Context.ParentID),
		Distance:            int(snap.Context.Distance),
		FailedTransmissions: snap.FailedTransmissions,
		DiscoveryRunning:    snap.DiscoveryRunning,
		SigningState:        snap.SigningState.String(),
		FirmwareActive:      snap.FirmwareActive,
		FirmwareProgress:    snap.FirmwareProgress,
	})
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	routes := make(map[string]int)
	for child, hop := range s.node.Routes() {
		routes[fmt.Sprintf("%d", uint8(child))] = int(hop)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"parent_id": int(snap.Context.ParentID),
		"distance":  int(snap.Context.Distance),
		"routes":    routes,
	})
}

func (s *Server) handleOTA(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"active":          snap.FirmwareActive,
		"progress_blocks": snap.FirmwareProgress,
	})
}

func (s *Server) handleSigning(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state": snap.SigningState.String(),
	})
}

// handleDiscover asks the poll loop to run parent discovery on its next
// Process call. It never calls Node.FindParent itself: Node is owned by
// the poll-loop goroutine and is not safe to drive from an HTTP handler.
func (s *Server) handleDiscover(w http.ResponseWriter, _ *http.Request) {
	s.node.RequestDiscovery()
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "discovery run requested"})
}

// Handler returns the server's HTTP handler, for tests that want to drive
// requests directly without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the admin HTTP API until ctx is cancelled, then shuts down
// gracefully. Suitable as an errgroup.Group member.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		_ = s.httpServer.Shutdown(context.Background())
	}()

	s.logger.Info("admin server listening", slog.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}
