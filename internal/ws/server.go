package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/specstream/specstream/internal/auth"
	"github.com/specstream/specstream/internal/config"
	"github.com/specstream/specstream/internal/consts"
	"github.com/specstream/specstream/internal/logger"
)

// Server exposes the real-time layer over HTTP: the WebSocket upgrade
// endpoint plus read-only introspection and the manual cleanup hook.
type Server struct {
	cfg    *config.Config
	auth   auth.Validator
	broker *Broker
	conns  *ConnectionRegistry
	ops    *OperationRegistry

	router     *httprouter.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer wires the HTTP surface to the delivery engine
func NewServer(cfg *config.Config, validator auth.Validator, broker *Broker, conns *ConnectionRegistry, ops *OperationRegistry) *Server {
	s := &Server{
		cfg:    cfg,
		auth:   validator,
		broker: broker,
		conns:  conns,
		ops:    ops,
		router: httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.ReadBufferSize,
			WriteBufferSize: consts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // same-host web client; auth is the session check
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/connect", s.handleConnect)
	s.router.GET("/ws/stats", s.handleStats)
	s.router.POST("/ws/cleanup", s.handleCleanup)
	s.router.GET("/operations", s.handleListOperations)
	s.router.GET("/operations/:id", s.handleGetOperation)
}

// Handler exposes the route table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains connections and shuts
// the HTTP server down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Listening on %s", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	logger.Info("Shutting down...")

	// Drain live connections before stopping the listener so clients
	// observe a clean close frame.
	s.conns.CloseAll()
	s.broker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), consts.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleConnect upgrades the HTTP request and admits the connection.
// The session_id query parameter must name a valid auth session.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sessionID := r.URL.Query().Get("session_id")
	userID, ok := s.auth.Validate(sessionID)
	if !ok {
		logger.Warn("WebSocket connection rejected: invalid session")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(conn, s.broker, s.cfg.SendQueueSize)
	admitted := s.conns.Admit(client, sessionID, userID)
	client.ID = admitted.ConnectionID

	go client.WritePump()
	go client.ReadPump()

	// Connection confirmation carries the assigned connection ID so
	// the client can resume after a drop.
	confirm := NewMessage(systemOperationID, 0, MessageTypeConnection, "Connected successfully")
	confirm.Priority = PriorityHigh
	confirm.Data = map[string]interface{}{
		"connection_id": admitted.ConnectionID,
		"user_id":       userID,
	}
	if err := client.Enqueue(confirm); err != nil {
		logger.Warn("Failed to send connection confirmation to %s: %v", admitted.ConnectionID, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.broker.Stats())
}

func (s *Server) handleCleanup(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	removed := s.broker.CleanupNow()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "success",
		"removed_messages": removed,
	})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	op, ok := s.ops.Get(ps.ByName("id"))
	if !ok {
		http.Error(w, "operation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	filter := ListFilter{FeatureID: r.URL.Query().Get("feature_id")}

	if connectionID := r.URL.Query().Get("connection_id"); connectionID != "" {
		snapshot, ok := s.conns.Snapshot(connectionID)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"operations": []Operation{}})
			return
		}
		filter.IDs = snapshot.Subscriptions
	}

	ops := s.ops.List(filter)
	if ops == nil {
		ops = []Operation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
