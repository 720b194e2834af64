package stream

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/kgassist/core"
)

// ErrClientGone is returned by Send after the client closed the connection.
var ErrClientGone = errors.New("client closed connection")

const (
	defaultWriteTimeout = 10 * time.Second
	maxRequestBytes     = 64 << 10
)

// NewUpgrader returns an upgrader accepting same-host origins and the
// explicitly allowed ones.
func NewUpgrader(allowedOrigins ...string) *websocket.Upgrader {
	allowed := map[string]bool{}
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = true
	}
	return &websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" || allowed["*"] || allowed[strings.ToLower(origin)] {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Host == "" {
			return false
		}
		return strings.EqualFold(parsed.Host, r.Host)
	}}
}

// WebSocketTransport writes events as JSON text frames.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	done         chan struct{}
	doneOnce     sync.Once
}

// NewWebSocketTransport wraps an upgraded connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	conn.SetReadLimit(maxRequestBytes)
	return &WebSocketTransport{conn: conn, writeTimeout: defaultWriteTimeout, done: make(chan struct{})}
}

// ReadRequest decodes the first client frame into v. Call before StartReadPump.
func (t *WebSocketTransport) ReadRequest(v any) error {
	return t.conn.ReadJSON(v)
}

// StartReadPump consumes client frames in the background. Done is closed
// once the client goes away; onGone runs at that point.
func (t *WebSocketTransport) StartReadPump(onGone func()) {
	go func() {
		for {
			if _, _, err := t.conn.ReadMessage(); err != nil {
				t.markDone()
				if onGone != nil {
					onGone()
				}
				return
			}
		}
	}()
}

// Done is closed when the client is gone.
func (t *WebSocketTransport) Done() <-chan struct{} { return t.done }

// Send implements Transport.
func (t *WebSocketTransport) Send(ev core.StreamEvent) error {
	select {
	case <-t.done:
		return ErrClientGone
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteJSON(ev)
}

// Close implements Transport. It sends a normal close frame first.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.mu.Unlock()
	t.markDone()
	return t.conn.Close()
}

func (t *WebSocketTransport) markDone() {
	t.doneOnce.Do(func() { close(t.done) })
}
