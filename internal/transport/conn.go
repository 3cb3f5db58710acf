// Package transport hosts the WebSocket edge: connection upgrade,
// the read/write pump goroutines per connection, the {type,payload}
// JSON envelope codec, and the per-room hub that implements
// room.Sender by fanning frames out to live connections.
package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// envelope is the wire shape of every inbound and outbound frame.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn wraps one upgraded WebSocket connection. Network I/O runs on the
// read and write pump goroutines; the room tick loop and dispatch path
// only ever call Send and Close.
type Conn struct {
	id   string
	ws   *websocket.Conn
	log  *zap.Logger
	out  chan []byte

	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(id string, ws *websocket.Conn, outboundBuffer int, writeTimeout time.Duration, log *zap.Logger) *Conn {
	return &Conn{
		id:           id,
		ws:           ws,
		log:          log.With(zap.String("conn", id)),
		out:          make(chan []byte, outboundBuffer),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// sendRaw queues an already-encoded frame for the write pump.
// Non-blocking: a full queue means a slow consumer, and the connection
// is dropped rather than let the backlog grow unbounded.
func (c *Conn) sendRaw(data []byte) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.out <- data:
	default:
		c.log.Warn("outbound queue full, dropping slow connection")
		c.Close(1011, "slow consumer")
	}
}

// sendEnvelope marshals and queues a {type,payload} frame.
func (c *Conn) sendEnvelope(msgType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("failed to marshal outbound payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	frame, err := json.Marshal(envelope{Type: msgType, Payload: body})
	if err != nil {
		c.log.Error("failed to marshal outbound envelope", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.sendRaw(frame)
}

// Close implements session.Conn. It sends a WebSocket close frame
// carrying code/reason and tears down the connection; safe to call more
// than once or concurrently with the pumps.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
}

// readPump blocks reading frames off the socket and handing their
// decoded envelopes to onFrame until the connection closes. Runs on its
// own goroutine, one per connection, matching the reader/writer split a
// raw-socket session uses for the same reason: game logic must never
// block on network I/O.
func (c *Conn) readPump(onFrame func(msgType string, payload json.RawMessage), readTimeout time.Duration) {
	defer c.Close(1000, "read loop exited")
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		onFrame(env.Type, env.Payload)
	}
}

// writePump drains the outbound queue to the socket and pings on an
// idle cadence so intermediaries don't recycle the connection.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close(1000, "write loop exited")
	for {
		select {
		case data := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
