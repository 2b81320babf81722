package posoffline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// heartbeatServer accepts sockets while accept is set.
type heartbeatServer struct {
	*httptest.Server
	accept atomic.Bool
	token  atomic.Value

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newHeartbeatServer(t *testing.T) *heartbeatServer {
	t.Helper()
	s := &heartbeatServer{conns: make(map[*websocket.Conn]struct{})}
	s.accept.Store(true)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.token.Store(r.URL.Query().Get("token"))
		if !s.accept.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
		// Reading answers the client's pings.
		<-conn.CloseRead(r.Context()).Done()
	}))
	t.Cleanup(s.Close)
	return s
}

// kick drops every open socket.
func (s *heartbeatServer) kick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close(websocket.StatusGoingAway, "restart")
	}
}

func TestWebSocketMonitorTracksConnection(t *testing.T) {
	srv := newHeartbeatServer(t)
	m := NewWebSocketMonitor(MonitorConfig{
		URL:                srv.URL + "/ws",
		Token:              "pos_test_key",
		HeartbeatInterval:  20 * time.Millisecond,
		HeartbeatTimeout:   time.Second,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	})

	var mu sync.Mutex
	var seen []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})

	assert.False(t, m.Online())
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, m.Online, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "pos_test_key", srv.token.Load())

	// Heartbeats keep the socket up.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, m.Online())

	srv.accept.Store(false)
	srv.kick()
	require.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 5*time.Millisecond)

	srv.accept.Store(true)
	require.Eventually(t, m.Online, 2*time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Online())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 4
	}, time.Second, 5*time.Millisecond)
}

func TestWebSocketMonitorDrivesManager(t *testing.T) {
	srv := newHeartbeatServer(t)
	srv.accept.Store(false)
	mon := NewWebSocketMonitor(MonitorConfig{
		URL:                srv.URL,
		HeartbeatInterval:  20 * time.Millisecond,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	})
	mon.Start(context.Background())
	defer mon.Stop()

	api := &fakeAPI{respond: func(n int, req *Request) (*Response, error) {
		return &Response{StatusCode: 201}, nil
	}}
	m := newTestManager(t, api, &ManagerOptions{Signal: mon})
	res, err := m.Dispatch(context.Background(), "/drafts", "POST", Draft{Notes: "while down"})
	require.NoError(t, err)
	require.True(t, res.Queued)

	srv.accept.Store(true)
	require.Eventually(t, func() bool { return m.Queue().PendingCount() == 0 }, 3*time.Second, 5*time.Millisecond)
	assert.Len(t, api.writes(), 1)
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		url, token, want string
	}{
		{"https://pos.example.com/ws", "", "wss://pos.example.com/ws"},
		{"http://localhost:8080/ws", "k", "ws://localhost:8080/ws?token=k"},
		{"ws://localhost/ws?station=s1", "k", "ws://localhost/ws?station=s1&token=k"},
	}
	for _, tt := range tests {
		m := NewWebSocketMonitor(MonitorConfig{URL: tt.url, Token: tt.token})
		assert.Equal(t, tt.want, m.socketURL())
	}
}

func TestReconnectorBackoff(t *testing.T) {
	r := &reconnector{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}
	prev := time.Duration(0)
	for i := 0; i < 4; i++ {
		d := r.nextDelay()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, time.Second)
		prev = d
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Second, r.nextDelay())
	}

	r.connectedAt = time.Now().Add(-2 * time.Minute)
	assert.Less(t, r.nextDelay(), 200*time.Millisecond, "long-lived connection resets the backoff")
}
