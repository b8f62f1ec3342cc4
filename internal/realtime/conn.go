/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package realtime

import (
	"chatsync/internal/nlog"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4096
	sendBufferSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrConnClosed   = errors.New("connection is closed")
	ErrSlowConsumer = errors.New("send buffer is full")
)

// Conn is a websocket connection seen as a Handle.
// Pushes are queued and written by a single goroutine, so one connection
// receives its events in the order they were pushed.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger nlog.Logger
}

func NewConn(ws *websocket.Conn, logger nlog.Logger) *Conn {
	return &Conn{
		id:     uuid.New().String(),
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Push queues the event. A full buffer drops it: the client will see the data on its next poll.
func (c *Conn) Push(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Serve attaches the connection to the hub and pumps it until the client goes away.
// It blocks, and detaches the connection before returning.
func (c *Conn) Serve(h *Hub, userUUID, username string) {
	h.Attach(c, userUUID, username)
	defer h.Detach(c)
	defer c.Close()

	go c.writeLoop()
	c.readLoop(h)
}

// readLoop handles the signals coming from the client
func (c *Conn) readLoop(h *Hub) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Logf("Unexpected close on %s {%v}", c.id, err)
			}
			return
		}

		var sig Signal
		if err := json.Unmarshal(payload, &sig); err != nil {
			c.logger.Logf("Can not deserialize signal on %s {%s}", c.id, string(payload))
			continue
		}

		if err := h.HandleSignal(c, sig); err != nil {
			c.logger.Logf("Signal %s refused on %s {%v}", sig.Type, c.id, err)
			if ev, encErr := NewEvent(EventError, ErrorPayload{Signal: sig.Type, Error: err.Error()}); encErr == nil {
				c.Push(ev)
			}
		}
	}
}

// writeLoop is the only writer of the socket
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Logf("Write on %s failed {%v}", c.id, err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
