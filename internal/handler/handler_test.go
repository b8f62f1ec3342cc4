/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package handler

import (
	"chatsync/internal/service"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty message", service.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: not a member", service.ErrForbidden), http.StatusForbidden},
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrWindowExpired, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusOf(c.err); got != c.want {
			t.Errorf("statusOf(%v) = %d, expected %d", c.err, got, c.want)
		}
	}
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/messages", strings.NewReader(`{"content":"hi","color":"red"}`))
	rr := httptest.NewRecorder()

	var body sendMessageRequest
	err := decodeBody(rr, req, &body)
	if !errors.Is(err, service.ErrValidation) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}

type staticPresence map[string]bool

func (s staticPresence) Count() int                    { return len(s) }
func (s staticPresence) IsOnline(userUUID string) bool { return s[userUUID] }

func TestPresenceHandler(t *testing.T) {
	p := NewPresenceHandler(staticPresence{"alice": true, "bob": true})

	r := mux.NewRouter()
	r.HandleFunc("/presence/online", p.Online)
	r.HandleFunc("/presence/{user}", p.User)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/presence/online", nil))
	var online struct {
		Online int `json:"online"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&online); err != nil || online.Online != 2 {
		t.Errorf("Expected 2 online users, got %d (%v)", online.Online, err)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/presence/carol", nil))
	var user struct {
		UserID string `json:"user-id"`
		Online bool   `json:"online"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&user); err != nil || user.UserID != "carol" || user.Online {
		t.Errorf("Carol should be offline, got %+v (%v)", user, err)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.org/"})

	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://node.local:8080", true},
		{"https://chat.example.org", true},
		{"https://evil.example.org", false},
		{"http://node.local:9090", false},
		{"not a url", false},
	}
	for _, c := range cases {
		req := httptest.NewRequest("GET", "http://node.local:8080/ws", nil)
		if c.origin != "" {
			req.Header.Set("Origin", c.origin)
		}
		if got := check(req); got != c.want {
			t.Errorf("Origin %q: got %v, expected %v", c.origin, got, c.want)
		}
	}
}
