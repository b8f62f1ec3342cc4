/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package handler

import (
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// SocketHandler upgrades authenticated requests to the push connection
type SocketHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   nlog.Logger
}

// NewSocketHandler accepts upgrades from the node's own origin, from the allowed origins,
// and from clients that send no Origin at all (chatwatch, native apps)
func NewSocketHandler(hub *realtime.Hub, allowedOrigins []string, logger nlog.Logger) *SocketHandler {
	return &SocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimRight(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// Connect serves the connection until the client goes away
func (s *SocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Logf("Upgrade failed for %s {%v}", me.UUID, err)
		return
	}

	conn := realtime.NewConn(ws, s.logger)
	s.logger.Logf("Connection %s opened by %s", conn.ID(), me.UUID)
	conn.Serve(s.hub, me.UUID, me.Username)
	s.logger.Logf("Connection %s closed", conn.ID())
}
