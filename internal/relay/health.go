package relay

import (
	"sync"
	"time"
)

// Health tracks ping/pong activity of one connection
type Health struct {
	IsHealthy       bool      `json:"is_healthy"`
	LastPingTime    time.Time `json:"last_ping_time"`
	LastPongTime    time.Time `json:"last_pong_time"`
	PingsSent       int64     `json:"pings_sent"`
	PongsReceived   int64     `json:"pongs_received"`
	MissedPongs     int64     `json:"missed_pongs"`
	Requests        int64     `json:"requests"`
	ConnectionStart time.Time `json:"connection_start"`
	LastActivity    time.Time `json:"last_activity"`
	mutex           sync.RWMutex
}

// NewHealth creates a tracker for a connection opened now
func NewHealth() *Health {
	now := time.Now()
	return &Health{
		IsHealthy:       true,
		ConnectionStart: now,
		LastActivity:    now,
	}
}

func (h *Health) RecordPing() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.LastPingTime = time.Now()
	h.PingsSent++
}

func (h *Health) RecordPong() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.LastPongTime = time.Now()
	h.PongsReceived++
	h.IsHealthy = true
	h.MissedPongs = 0
}

// RecordRequest counts a request frame as activity
func (h *Health) RecordRequest() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.LastActivity = time.Now()
	h.Requests++
}

// Check reports whether a pong arrived within pongTimeout of the last
// ping. A connection that was never pinged is healthy.
func (h *Health) Check(pongTimeout time.Duration) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.LastPingTime.IsZero() {
		return true
	}

	last := h.LastPongTime
	if last.IsZero() {
		last = h.LastPingTime
	}
	if time.Since(last) > pongTimeout {
		h.IsHealthy = false
		h.MissedPongs++
		return false
	}
	return h.IsHealthy
}

// Stats returns a copy safe to encode
func (h *Health) Stats() *Health {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return &Health{
		IsHealthy:       h.IsHealthy,
		LastPingTime:    h.LastPingTime,
		LastPongTime:    h.LastPongTime,
		PingsSent:       h.PingsSent,
		PongsReceived:   h.PongsReceived,
		MissedPongs:     h.MissedPongs,
		Requests:        h.Requests,
		ConnectionStart: h.ConnectionStart,
		LastActivity:    h.LastActivity,
	}
}
