package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"conchat/internal/config"
	"conchat/internal/metrics"
)

// Server is the relay's HTTP surface
type Server struct {
	manager  *Manager
	config   config.RelayConfig
	upgrader websocket.Upgrader
}

// NewServer creates a server for manager
func NewServer(cfg config.RelayConfig, manager *Manager) *Server {
	return &Server{
		manager: manager,
		config:  cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routes: /ws, /healthz, /health/connections and
// /metrics when enabled.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/ws", s.handleWebSocket)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/health/connections", s.handleConnections)
	if s.config.EnableMetrics {
		router.Handle("/metrics", metrics.Handler())
	}
	return h2c.NewHandler(router, &http2.Server{})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("Failed to upgrade connection: %v", err)
		return
	}

	conn, err := s.manager.AddConnection(ws)
	if err != nil {
		glog.Warningf("❌ Rejecting %s: %v", ws.RemoteAddr(), err)
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		ws.Close()
		return
	}
	glog.Infof("🔗 New relay connection: %s (ID: %s)", ws.RemoteAddr(), conn.ID)

	go conn.writeLoop(s.config.HeartbeatInterval, s.config.WriteTimeout)
	go s.manager.readLoop(conn)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"connections": s.manager.GetConnectionCount(),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.manager.GetAllConnectionsHealth())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("Failed to write response: %v", err)
	}
}
