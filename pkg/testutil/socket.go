package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// SocketClient wraps a websocket connection with JSON helpers for tests.
type SocketClient struct {
	Conn *websocket.Conn
	t    *testing.T
}

// DialSocket connects to a websocket path on an httptest server.
func DialSocket(t *testing.T, server *httptest.Server, path string) *SocketClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &SocketClient{Conn: conn, t: t}
}

// SendJSON writes v as one text message.
func (c *SocketClient) SendJSON(v interface{}) {
	c.t.Helper()
	if err := c.Conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// ReadJSON reads the next message into a generic map, failing the test on
// timeout.
func (c *SocketClient) ReadJSON(timeout time.Duration) map[string]interface{} {
	c.t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := c.Conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		c.t.Fatalf("decode %q: %v", payload, err)
	}
	return out
}

// ExpectClose asserts the next read fails with the given close code.
func (c *SocketClient) ExpectClose(code int, timeout time.Duration) {
	c.t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.Conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			c.t.Fatalf("expected close code %d, got %v", code, err)
		}
		return
	}
}
