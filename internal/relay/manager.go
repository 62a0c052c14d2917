package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"conchat/internal/backend"
	"conchat/internal/config"
	"conchat/internal/metrics"
)

// ErrFull is returned when the relay holds MaxConnections sockets
var ErrFull = errors.New("relay is full")

// Manager owns the relay connections and answers their requests against
// one backend.
type Manager struct {
	connections map[string]*Connection
	mutex       sync.RWMutex
	unregister  chan *Connection
	config      config.RelayConfig
	store       backend.Backend
	timeout     time.Duration
}

// NewManager creates a manager serving store
func NewManager(cfg config.RelayConfig, store backend.Backend, timeout time.Duration) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		unregister:  make(chan *Connection, 64),
		config:      cfg,
		store:       store,
		timeout:     timeout,
	}
}

// Run removes closed and unhealthy connections until ctx is done, then
// closes every connection.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	glog.Infof("💓 Starting connection health monitor (interval: %v)", m.config.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case conn := <-m.unregister:
			m.removeConnection(conn)
		case <-ticker.C:
			m.performHealthCheck()
		}
	}
}

// AddConnection registers a new socket
func (m *Manager) AddConnection(ws *websocket.Conn) (*Connection, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.connections) >= m.config.MaxConnections {
		return nil, ErrFull
	}

	conn := NewConnection(ws, m.config.SendBuffer)
	m.connections[conn.ID] = conn
	metrics.RelayConnections.Inc()
	glog.Infof("📝 Connection registered: %s (Total: %d/%d)", conn.ID, len(m.connections), m.config.MaxConnections)
	return conn, nil
}

// RemoveConnection schedules conn for removal
func (m *Manager) RemoveConnection(conn *Connection) {
	select {
	case m.unregister <- conn:
	default:
		go m.removeConnection(conn)
	}
}

func (m *Manager) removeConnection(conn *Connection) {
	m.mutex.Lock()
	_, exists := m.connections[conn.ID]
	delete(m.connections, conn.ID)
	total := len(m.connections)
	m.mutex.Unlock()

	conn.close()
	if exists {
		metrics.RelayConnections.Dec()
		glog.Infof("🗑️ Connection unregistered: %s (Total: %d/%d)", conn.ID, total, m.config.MaxConnections)
	}
}

func (m *Manager) closeAll() {
	m.mutex.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mutex.RUnlock()

	for _, conn := range conns {
		m.removeConnection(conn)
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.connections)
}

// GetAllConnectionsHealth returns health statistics for all connections
func (m *Manager) GetAllConnectionsHealth() map[string]*Health {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := make(map[string]*Health, len(m.connections))
	for id, conn := range m.connections {
		stats[id] = conn.Health.Stats()
	}
	return stats
}

// performHealthCheck drops connections that stopped answering pings
func (m *Manager) performHealthCheck() {
	m.mutex.RLock()
	var unhealthy []*Connection
	for _, conn := range m.connections {
		if !conn.Health.Check(m.config.PongTimeout) {
			unhealthy = append(unhealthy, conn)
		}
	}
	m.mutex.RUnlock()

	for _, conn := range unhealthy {
		glog.Warningf("💔 Removing unhealthy connection: %s (missed pongs: %d)", conn.ID, conn.Health.Stats().MissedPongs)
		m.removeConnection(conn)
	}
}

// readLoop decodes request frames from conn and answers them in order
func (m *Manager) readLoop(conn *Connection) {
	defer m.RemoveConnection(conn)

	ws := conn.Conn
	ws.SetReadDeadline(time.Now().Add(m.config.PongTimeout))
	ws.SetPongHandler(func(string) error {
		conn.Health.RecordPong()
		return ws.SetReadDeadline(time.Now().Add(m.config.PongTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Warningf("❌ Read error from %s: %v", conn.ID, err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(m.config.PongTimeout))
		conn.Health.RecordRequest()

		var req Frame
		if err := json.Unmarshal(data, &req); err != nil {
			conn.SendFrame(&Frame{Op: "unknown", Code: CodeBadFrame, Error: err.Error()})
			metrics.RelayRequests.WithLabelValues("unknown", CodeBadFrame).Inc()
			continue
		}

		resp := m.handle(conn, &req)
		outcome := "ok"
		if resp.Code != "" {
			outcome = resp.Code
		}
		metrics.RelayRequests.WithLabelValues(req.Op, outcome).Inc()
		glog.V(2).Infof("📨 %s %s %s -> %s", conn.ID, req.Op, req.Path, outcome)

		if !conn.SendFrame(resp) {
			glog.Warningf("🔌 Dropping unresponsive connection: %s", conn.ID)
			return
		}
	}
}

// handle runs one request against the store and builds its response
func (m *Manager) handle(conn *Connection, req *Frame) *Frame {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	resp := &Frame{ID: req.ID, Op: req.Op}
	var err error

	switch req.Op {
	case OpWrite:
		err = m.store.Write(ctx, req.Path, req.Data)
	case OpRead:
		resp.Data, err = m.store.Read(ctx, req.Path)
	case OpPush:
		resp.Key, err = m.store.Push(ctx, req.Path, req.Data)
	case OpChildren:
		resp.Children, err = m.store.Children(ctx, req.Path)
	case OpDelete:
		err = m.store.Delete(ctx, req.Path)
	case OpFind:
		resp.Children, err = m.store.FindWhere(ctx, req.Path, req.Field, req.Value)
	case OpSubscribe:
		err = m.subscribe(ctx, conn, req)
	case OpUnsubscribe:
		conn.removeSubscription(req.Sub)
	default:
		return &Frame{ID: req.ID, Op: req.Op, Code: CodeBadFrame, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}

	if err != nil {
		return errorFrame(req, err)
	}
	return resp
}

// subscribe forwards snapshots of req.Path to conn under the client's
// subscription id.
func (m *Manager) subscribe(ctx context.Context, conn *Connection, req *Frame) error {
	if req.Sub == 0 {
		return fmt.Errorf("subscribe needs a subscription id")
	}

	id, path := req.Sub, req.Path
	sub, err := m.store.Subscribe(ctx, path, func(children map[string][]byte) {
		if !conn.SendFrame(&Frame{Op: OpSnapshot, Sub: id, Path: path, Children: children}) {
			glog.Warningf("🔌 Snapshot for %s dropped, removing %s", path, conn.ID)
			m.RemoveConnection(conn)
		}
	})
	if err != nil {
		return err
	}
	conn.addSubscription(id, sub)
	return nil
}
