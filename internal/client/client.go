/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package client

import (
	"bytes"
	"chatsync/internal/entity"
	"chatsync/internal/realtime"
	"chatsync/internal/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStatus is returned when the server answers with a non 2xx status
var ErrStatus = errors.New("unexpected status")

// Client talks to one chat node over HTTP and websocket, authenticated by a session cookie
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
}

// New builds a client for the node at baseURL, presenting the given session cookie value
func New(baseURL, sessionName, sessionValue string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if sessionValue != "" {
		jar.SetCookies(u, []*http.Cookie{{Name: sessionName, Value: sessionValue, Path: "/"}})
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Jar: jar, Timeout: 15 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		},
	}, nil
}

type snapshotResponse struct {
	Messages []*entity.Message `json:"messages"`
	Epoch    uint64            `json:"epoch"`
}

// DirectSnapshot pulls the chat with peer
func (c *Client) DirectSnapshot(ctx context.Context, peer string) ([]*entity.Message, uint64, error) {
	var resp snapshotResponse
	err := c.do(ctx, http.MethodGet, "/messages/direct/"+url.PathEscape(peer), nil, &resp)
	return resp.Messages, resp.Epoch, err
}

// GroupSnapshot pulls the chat of a group
func (c *Client) GroupSnapshot(ctx context.Context, group string) ([]*entity.Message, uint64, error) {
	var resp snapshotResponse
	err := c.do(ctx, http.MethodGet, "/messages/group/"+url.PathEscape(group), nil, &resp)
	return resp.Messages, resp.Epoch, err
}

// Send posts a text or image message to target
func (c *Client) Send(ctx context.Context, target realtime.Target, content, imageURL string) (*entity.Message, error) {
	body := map[string]string{
		"receiver-id": target.ReceiverID,
		"group-id":    target.GroupID,
		"content":     content,
		"image-url":   imageURL,
	}
	var resp struct {
		Message *entity.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/messages", body, &resp)
	return resp.Message, err
}

// Unsend deletes one of the caller's messages
func (c *Client) Unsend(ctx context.Context, messageUUID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageUUID), nil, nil)
}

// MarkRead acknowledges the selected messages, returning how many were marked
func (c *Client) MarkRead(ctx context.Context, selector service.MessageSelector) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	err := c.do(ctx, http.MethodPost, "/messages/read", selector, &resp)
	return resp.Marked, err
}

// UnreadCounts returns the caller's unread counters
func (c *Client) UnreadCounts(ctx context.Context) (*service.UnreadCounts, error) {
	var resp struct {
		Unread *service.UnreadCounts `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "/messages/unread", nil, &resp)
	return resp.Unread, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&failure)
		return fmt.Errorf("%w %d on %s %s: %s", ErrStatus, resp.StatusCode, method, path, failure.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Socket is the client side of the push connection
type Socket struct {
	ws        *websocket.Conn
	writeLock sync.Mutex
}

// Dial opens the push connection
func (c *Client) Dial(ctx context.Context) (*Socket, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws"

	ws, _, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Socket{ws: ws}, nil
}

// Signal sends a signal to the server
func (s *Socket) Signal(sig realtime.Signal) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return s.ws.WriteJSON(sig)
}

// Next blocks until the next push event arrives
func (s *Socket) Next() (realtime.Event, error) {
	var ev realtime.Event
	err := s.ws.ReadJSON(&ev)
	return ev, err
}

// Events reads push events into a channel until the connection fails, then closes it
func (s *Socket) Events() <-chan realtime.Event {
	out := make(chan realtime.Event, 16)
	go func() {
		defer close(out)
		for {
			ev, err := s.Next()
			if err != nil {
				return
			}
			out <- ev
		}
	}()
	return out
}

func (s *Socket) Close() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.ws.Close()
}
