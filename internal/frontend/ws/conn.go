package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/twentytwenty/mud/internal/config"
	"github.com/twentytwenty/mud/internal/game/protocol"
	"github.com/twentytwenty/mud/internal/game/session"
)

// handleUpgrade authenticates the request, upgrades it and runs the session
// until either side hangs up. Unauthenticated requests get 401 before any
// upgrade.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	identity, err := s.tokens.Authenticate(r)
	if err != nil {
		s.logger.Info("rejecting websocket upgrade",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &connection{
		ws:     ws,
		cfg:    s.cfg,
		logger: s.logger.With(zap.String("remote_addr", r.RemoteAddr), zap.String("identity", identity)),
	}
	c.serve(s.quit, s.sessions, identity)
}

// connection owns one websocket. The writer goroutine is the only writer of
// data frames; the serving goroutine is the only reader.
type connection struct {
	ws     *websocket.Conn
	cfg    config.WebsocketConfig
	logger *zap.Logger
}

func (c *connection) serve(quit <-chan struct{}, sessions Sessions, identity string) {
	start := time.Now()
	defer c.ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := sessions.Open(ctx, identity)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(sess)
	}()

	if err != nil {
		c.logger.Info("session rejected", zap.Error(err))
		<-writerDone
		return
	}

	go func() {
		select {
		case <-quit:
			// Unblock an in-flight command before Disconnect waits for it.
			cancel()
			sessions.Close(sess, session.CloseGoingAway)
		case <-ctx.Done():
		}
	}()

	code := c.readLoop(ctx, sess)
	sessions.Close(sess, code)
	<-writerDone

	c.logger.Info("connection closed",
		zap.String("session_id", sess.ID()),
		zap.Int("code", sess.CloseCode()),
		zap.Duration("duration", time.Since(start)),
	)
}

// readLoop decodes frames and dispatches them one at a time.
//
// Postcondition: Returns the close code to disconnect the session with.
func (c *connection) readLoop(ctx context.Context, sess *session.Session) int {
	if c.cfg.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return websocket.CloseMessageTooBig
			}
			return session.CloseNormal
		}
		c.extendReadDeadline()

		in, err := protocol.DecodeInbound(data)
		if err != nil {
			if err := sess.Notify(protocol.Error("malformed command frame")); err != nil {
				return session.CloseNormal
			}
			continue
		}
		if err := sess.Dispatch(ctx, in); err != nil {
			return session.CloseNormal
		}
	}
}

func (c *connection) extendReadDeadline() {
	if c.cfg.ReadTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

// writeLoop drains the session outbox, pinging while idle. When the outbox
// is closed it sends a close frame carrying the session's close code.
func (c *connection) writeLoop(sess *session.Session) {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	frames := sess.Outbox().Frames()
	for {
		select {
		case data, ok := <-frames:
			c.extendWriteDeadline()
			if !ok {
				msg := websocket.FormatCloseMessage(closeCode(sess), "")
				_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
				// Give the peer a moment to answer the close handshake.
				_ = c.ws.SetReadDeadline(time.Now().Add(closeGrace))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-ping:
			c.extendWriteDeadline()
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

const closeGrace = 2 * time.Second

func closeCode(sess *session.Session) int {
	if code := sess.CloseCode(); code != 0 {
		return code
	}
	return session.CloseNormal
}

func (c *connection) extendWriteDeadline() {
	if c.cfg.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
}
