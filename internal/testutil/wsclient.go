package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/twentytwenty/mud/internal/ansi"
	"github.com/twentytwenty/mud/internal/game/protocol"
)

// WSClient is a websocket test client speaking the JSON frame protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// DialWS connects to a websocket URL ("ws://host/path") presenting token as
// a bearer credential.
//
// Postcondition: Returns a connected client or fails the test.
func DialWS(t *testing.T, url, token string) *WSClient {
	t.Helper()
	start := time.Now()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// DialWSExpectingStatus attempts a handshake that the server must refuse and
// returns the HTTP status it answered with.
func DialWSExpectingStatus(t *testing.T, url string, header http.Header) int {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatalf("dialing %s: expected the handshake to be refused", url)
	}
	if resp == nil {
		t.Fatalf("dialing %s: no handshake response: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

// Send writes a command frame.
func (c *WSClient) Send(command string, words ...string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(protocol.Inbound{Command: command, Message: words}); err != nil {
		c.t.Fatalf("sending %q: %v", command, err)
	}
}

// SendRaw writes an arbitrary text frame.
func (c *WSClient) SendRaw(data string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.t.Fatalf("sending raw frame: %v", err)
	}
}

// Next reads one frame, failing the test after timeout.
func (c *WSClient) Next(timeout time.Duration) protocol.Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.t.Fatalf("decoding frame %q: %v", data, err)
	}
	return f
}

// ReadUntil reads frames until one satisfies match, returning it.
//
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(match func(protocol.Frame) bool, timeout time.Duration) protocol.Frame {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no matching frame within %s", timeout)
		}
		f := c.Next(remaining)
		if match(f) {
			return f
		}
	}
}

// MessageContaining matches text frames whose uncolored message contains substr.
func MessageContaining(substr string) func(protocol.Frame) bool {
	return func(f protocol.Frame) bool {
		return strings.Contains(ansi.Strip(f.Message), substr)
	}
}

// ExpectClosed reads until the server sends a close frame and returns its code.
func (c *WSClient) ExpectClosed(timeout time.Duration) int {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			c.t.Fatalf("connection ended without a close frame: %v", err)
		}
		return ce.Code
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
