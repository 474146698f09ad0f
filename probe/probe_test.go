package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

var upgrader = websocket.Upgrader{}

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAliveWebsocketRelay(t *testing.T) {
	srv := newRelayServer(t)
	p := New(2 * time.Second)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	assert.True(t, p.Alive(context.Background(), wsURL))

	// http endpoints are rewritten to websocket
	assert.True(t, p.Alive(context.Background(), srv.URL))
}

func TestAliveTCPFallback(t *testing.T) {
	srv := newRelayServer(t)
	p := New(2 * time.Second)

	hostport := strings.TrimPrefix(srv.URL, "http://")
	assert.True(t, p.Alive(context.Background(), hostport))
}

func TestDeadEndpoints(t *testing.T) {
	p := New(500 * time.Millisecond)
	ctx := context.Background()

	// nothing listens here (reserved port 0 never dials)
	assert.False(t, p.Alive(ctx, "ws://127.0.0.1:1"))
	assert.False(t, p.Alive(ctx, "127.0.0.1:1"))
	assert.False(t, p.Alive(ctx, ""))
	assert.False(t, p.Alive(ctx, "ftp://relay.example.com"))
	assert.False(t, p.Alive(ctx, "not a url at all"))
}

func TestProbeHonorsCancelledContext(t *testing.T) {
	srv := newRelayServer(t)
	p := New(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	assert.False(t, p.Alive(ctx, wsURL))
}

func TestProbeBoundedTime(t *testing.T) {
	p := New(300 * time.Millisecond)

	start := time.Now()
	// non-routable address: dial hangs until the deadline
	alive := p.Alive(context.Background(), "ws://10.255.255.1:9000")
	elapsed := time.Since(start)

	assert.False(t, alive)
	assert.Less(t, elapsed, 2*time.Second, "probe must settle near its timeout")
}
