package server

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
)

// Client pumps frames between a websocket connection and its session.
type Client struct {
	conn    *websocket.Conn
	session *Session
	log     *zap.SugaredLogger
	limiter *rate.Limiter
}

func NewClient(conn *websocket.Conn, s *Session, l *zap.SugaredLogger) *Client {
	limit, burst := rate.Inf, 0
	if opts := s.cs.opts; opts.RateLimit > 0 {
		limit, burst = rate.Limit(opts.RateLimit), opts.RateBurst
	}

	return &Client{
		conn:    conn,
		session: s,
		log:     l.With("session_id", s.id),
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.session.send:
			if !c.writeServerMessage(msg) {
				return
			}
		case <-c.session.Done():
			c.flush()
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flush writes whatever was queued before the session closed.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.session.send:
			if !c.writeServerMessage(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeServerMessage(msg *ServerMessage) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		c.log.Errorw("failed to serialize message", "error", err)
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.session.Close()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Infow("ws: read", "error", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debugw("error parsing message", "error", err)
			c.session.queueMessage(ErrResponse(0, ErrInvalidMessage))
			continue
		}

		if !c.limiter.Allow() {
			c.session.queueMessage(ErrResponse(msg.Id, ErrRateLimited))
			continue
		}

		msg.Timestamp = Now()
		c.session.Enqueue(&msg)
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Infow("write message", "error", err)
		}
		return false
	}

	return true
}
