package posoffline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// MonitorConfig configures a WebSocketMonitor.
type MonitorConfig struct {
	// URL of the heartbeat socket; http(s) schemes are rewritten to ws(s).
	URL                string
	Token              string
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Logger             *slog.Logger
}

func (c *MonitorConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// WebSocketMonitor
// ============================================================================

// WebSocketMonitor is a Signal backed by a long-lived WebSocket to the POS
// backend. It is online while the socket is open and answering pings; it
// reconnects with backoff forever until stopped.
type WebSocketMonitor struct {
	config MonitorConfig
	hub    signalHub
	recon  *reconnector

	mu       sync.Mutex
	online   bool
	cancelFn context.CancelFunc
	done     chan struct{}
}

// NewWebSocketMonitor creates a monitor. Call Start to begin connecting.
func NewWebSocketMonitor(config MonitorConfig) *WebSocketMonitor {
	config.defaults()
	return &WebSocketMonitor{
		config: config,
		recon:  &reconnector{baseDelay: config.ReconnectBaseDelay, maxDelay: config.ReconnectMaxDelay},
	}
}

func (m *WebSocketMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *WebSocketMonitor) Subscribe(fn func(bool)) func() {
	return m.hub.subscribe(fn)
}

// Start runs the connect loop in the background until Stop or ctx is done.
func (m *WebSocketMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancelFn != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.loop(runCtx)
	}()
}

// Stop closes the socket and waits for the loop to exit.
func (m *WebSocketMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancelFn, m.done
	m.cancelFn = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.setOnline(false)
}

func (m *WebSocketMonitor) loop(ctx context.Context) {
	for {
		err := m.session(ctx)
		m.setOnline(false)
		if ctx.Err() != nil {
			return
		}
		delay := m.recon.nextDelay()
		m.config.Logger.Debug("monitor: reconnecting", "error", err, "delay", delay, "attempt", m.recon.attempt)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session dials, then pings on every heartbeat until a ping fails.
func (m *WebSocketMonitor) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, m.socketURL(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "monitor stop")

	// Pings need a reader to receive the pongs.
	connCtx := conn.CloseRead(ctx)

	m.recon.markConnected()
	m.setOnline(true)

	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-connCtx.Done():
			return connCtx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(connCtx, m.config.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (m *WebSocketMonitor) socketURL() string {
	u := strings.Replace(m.config.URL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	if m.config.Token != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "token=" + m.config.Token
	}
	return u
}

func (m *WebSocketMonitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()
	m.config.Logger.Info("monitor: connectivity changed", "online", online)
	m.hub.publish(online)
}
