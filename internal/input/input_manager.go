/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package input

import (
	"chatsync/internal/handler"
	"chatsync/internal/middleware"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"chatsync/internal/service"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

type IptConfig struct {
	ServerPort   uint16
	ReadTimeout  int64
	WriteTimeout int64
	SecretKey    string
}

// NewSessionStore returns the cookie store shared with the authentication collaborator
func NewSessionStore(secretKey string) *sessions.CookieStore {
	cookieStore := sessions.NewCookieStore([]byte(secretKey))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(7 * 24 * time.Hour.Seconds()),
	}
	return cookieStore
}

type InputManager struct { // Manages HTTP and websocket input
	running atomic.Bool
	paused  atomic.Bool

	logger nlog.Logger
	server *http.Server

	stopFromOutsideChan chan struct{}
	doneFromInsideChan  chan struct{}

	store          sessions.Store
	allowedOrigins []string // Cross-origin pages allowed to open the push connection

	messageService service.MessageService
	groupService   service.GroupService
	userService    service.UserService
	hub            *realtime.Hub
}

func NewInputManager() *InputManager {
	return &InputManager{
		running:             atomic.Bool{},
		paused:              atomic.Bool{},
		stopFromOutsideChan: make(chan struct{}),
		doneFromInsideChan:  make(chan struct{}),
	}
}

func (i *InputManager) IsReady() bool {
	return i.logger != nil && i.messageService != nil && i.groupService != nil && i.userService != nil && i.hub != nil
}

func (i *InputManager) IsRunning() bool {
	return i.running.Load()
}

func (i *InputManager) SetLogger(l nlog.Logger) {
	i.logger = l
}

func (i *InputManager) SetSessionStore(store sessions.Store) {
	i.store = store
}

func (i *InputManager) SetAllowedOrigins(origins []string) {
	i.allowedOrigins = origins
}

func (i *InputManager) SetMessageService(ms service.MessageService) {
	i.messageService = ms
}

func (i *InputManager) SetGroupService(gs service.GroupService) {
	i.groupService = gs
}

func (i *InputManager) SetUserService(us service.UserService) {
	i.userService = us
}

func (i *InputManager) SetHub(h *realtime.Hub) {
	i.hub = h
}

func (i *InputManager) Logf(format string, a ...any) {
	i.logger.Logf(format, a...)
}

func (i *InputManager) SetPause(paused bool) {
	i.paused.Store(paused)
}

func (i *InputManager) IsPaused() bool {
	return i.paused.Load()
}

// PauseMiddleware answers 503 to every request while the manager is paused
func (i *InputManager) PauseMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i.IsPaused() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "Service temporarily paused"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router builds every route of the node. Components must be set.
func (i *InputManager) Router() *mux.Router {
	messageHandler := handler.NewMessageHandler(i.messageService)
	groupHandler := handler.NewGroupHandler(i.groupService)
	userHandler := handler.NewUserHandler(i.userService)
	presenceHandler := handler.NewPresenceHandler(i.hub.Presence())
	socketHandler := handler.NewSocketHandler(i.hub, i.allowedOrigins, i.logger)

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.AuthMiddleware(i.store, next)
	}

	r := mux.NewRouter()
	r.Use(i.PauseMiddleware)

	// Push channel
	r.HandleFunc("/ws", auth(socketHandler.Connect)).Methods("GET")

	// Messages
	r.HandleFunc("/messages", auth(messageHandler.Send)).Methods("POST")
	r.HandleFunc("/messages/read", auth(messageHandler.MarkRead)).Methods("POST")
	r.HandleFunc("/messages/unread", auth(messageHandler.UnreadCounts)).Methods("GET")
	r.HandleFunc("/messages/direct/{peer}", auth(messageHandler.GetDMMessages)).Methods("GET")
	r.HandleFunc("/messages/group/{uuid}", auth(messageHandler.GetGroupMessages)).Methods("GET")
	r.HandleFunc("/messages/{uuid}", auth(messageHandler.Unsend)).Methods("DELETE")

	// Groups
	r.HandleFunc("/groups", auth(groupHandler.CreateGroup)).Methods("POST")
	r.HandleFunc("/groups", auth(groupHandler.GetGroups)).Methods("GET")
	r.HandleFunc("/groups/{uuid}", auth(groupHandler.GetGroup)).Methods("GET")
	r.HandleFunc("/groups/{uuid}", auth(groupHandler.DeleteGroup)).Methods("DELETE")
	r.HandleFunc("/groups/{uuid}/members", auth(groupHandler.GetMembers)).Methods("GET")
	r.HandleFunc("/groups/{uuid}/members", auth(groupHandler.AddMember)).Methods("POST")
	r.HandleFunc("/groups/{uuid}/members/{user}", auth(groupHandler.RemoveMember)).Methods("DELETE")

	// Users and friends
	r.HandleFunc("/users/me", auth(userHandler.Me)).Methods("GET")
	r.HandleFunc("/friends/requests", auth(userHandler.SendRequest)).Methods("POST")
	r.HandleFunc("/friends/requests/seen", auth(userHandler.MarkRequestsSeen)).Methods("POST")
	r.HandleFunc("/friends/requests/{user}/accept", auth(userHandler.AcceptRequest)).Methods("POST")
	r.HandleFunc("/friends/requests/{user}/reject", auth(userHandler.RejectRequest)).Methods("POST")
	r.HandleFunc("/friends/{user}", auth(userHandler.RemoveFriend)).Methods("DELETE")

	// Presence
	r.HandleFunc("/presence/online", auth(presenceHandler.Online)).Methods("GET")
	r.HandleFunc("/presence/{user}", auth(presenceHandler.User)).Methods("GET")

	return r
}

// Run serves HTTP on cfg.ServerPort until ctx is done or Stop is called
func (i *InputManager) Run(ctx context.Context, cfg *IptConfig) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ServerPort))
	if err != nil {
		return err
	}
	return i.Serve(ctx, lis, cfg)
}

// Serve is Run over an existing listener
func (i *InputManager) Serve(ctx context.Context, lis net.Listener, cfg *IptConfig) error {
	i.Logf("Input service started...")

	if !i.IsReady() {
		lis.Close()
		return fmt.Errorf("The Input manager is not ready... Missing components")
	}
	if i.store == nil {
		i.store = NewSessionStore(cfg.SecretKey)
	}

	i.server = &http.Server{
		Handler:        i.Router(),
		ReadTimeout:    time.Duration(cfg.ReadTimeout * int64(time.Second)),
		WriteTimeout:   time.Duration(cfg.WriteTimeout * int64(time.Second)),
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		select {
		case <-ctx.Done():
			i.Logf("Received stop signal. Shutting down...")
		case <-i.stopFromOutsideChan:
			i.Logf("Server was asked to stop. Shutting down...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := i.server.Shutdown(shutdownCtx); err != nil {
			i.Logf("Error during shutdown... %v\n", err)
		}
		close(i.doneFromInsideChan)
	}()

	i.Logf("Http server started on {%s}", lis.Addr())
	i.running.Store(true)
	defer i.running.Store(false)

	if err := i.server.Serve(lis); err != http.ErrServerClosed {
		i.Logf("FATAL: HTTP Server error{%v}\n", err)
		return err
	}
	<-i.doneFromInsideChan
	return nil
}

// Stop shuts the server down and waits for it
func (i *InputManager) Stop() {
	close(i.stopFromOutsideChan)
	<-i.doneFromInsideChan
	i.running.Store(false)
}
