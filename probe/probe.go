// Package probe performs single bounded-time liveness checks against relay
// endpoints. Relays speak websocket, so a completed handshake counts as
// alive; plain host:port endpoints fall back to a TCP dial.
package probe

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaypulse/relaypulse/log"
)

// DefaultTimeout bounds a single probe when the caller supplies none.
const DefaultTimeout = 5 * time.Second

// Prober runs liveness checks. The zero value is not usable; construct
// with New.
type Prober struct {
	timeout   time.Duration
	wsDialer  *websocket.Dialer
	netDialer *net.Dialer
}

func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		timeout: timeout,
		wsDialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: timeout,
		},
		netDialer: &net.Dialer{Timeout: timeout},
	}
}

// Timeout returns the per-probe deadline.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Alive attempts one connectivity check against endpoint and reports the
// outcome. It never returns an error: any dial, DNS, or handshake failure,
// and any timeout, is alive=false. The probe itself never retries.
func (p *Prober) Alive(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	target, tcpOnly := normalize(endpoint)
	if target == "" {
		log.Trace(log.ProbeMonitoring, "unusable endpoint", "endpoint", endpoint)
		return false
	}

	if tcpOnly {
		conn, err := p.netDialer.DialContext(ctx, "tcp", target)
		if err != nil {
			log.Trace(log.ProbeMonitoring, "tcp dial failed", "endpoint", endpoint, "err", err)
			return false
		}
		conn.Close()
		return true
	}

	conn, resp, err := p.wsDialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Trace(log.ProbeMonitoring, "handshake failed", "endpoint", endpoint, "err", err)
		return false
	}
	conn.Close()
	return true
}

// normalize maps an endpoint identifier to a dialable target. Relay
// directories carry ws://, wss://, http(s):// (rewritten to websocket)
// or bare host:port entries.
func normalize(endpoint string) (target string, tcpOnly bool) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		if _, _, splitErr := net.SplitHostPort(endpoint); splitErr == nil {
			return endpoint, true
		}
		return "", false
	}
	switch u.Scheme {
	case "ws", "wss":
		return u.String(), false
	case "http":
		u.Scheme = "ws"
		return u.String(), false
	case "https":
		u.Scheme = "wss"
		return u.String(), false
	default:
		return "", false
	}
}
