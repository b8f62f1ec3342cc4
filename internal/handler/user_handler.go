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
	"net/http"

	"github.com/gorilla/mux"
)

type friendRequest struct {
	UserID string `json:"user-id"`
}

// UserHandler is used to handle the caller's profile and its friend graph
type UserHandler struct {
	userService service.UserService
}

func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService}
}

// Me returns the caller, with friends and pending requests
func (u *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	user, epoch, err := u.userService.GetUserByUUID(me.UUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "user": user, "epoch": epoch})
}

// SendRequest asks another user to be friends
func (u *UserHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	var req friendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	u.respond(w, func() (uint64, error) { return u.userService.SendFriendRequest(me.UUID, req.UserID) })
}

// AcceptRequest accepts the request sent by the user in the path
func (u *UserHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}
	sender := mux.Vars(r)["user"]
	u.respond(w, func() (uint64, error) { return u.userService.AcceptFriendRequest(me.UUID, sender) })
}

// RejectRequest drops the request sent by the user in the path
func (u *UserHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}
	sender := mux.Vars(r)["user"]
	u.respond(w, func() (uint64, error) { return u.userService.RejectFriendRequest(me.UUID, sender) })
}

// RemoveFriend ends the friendship with the user in the path
func (u *UserHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}
	friend := mux.Vars(r)["user"]
	u.respond(w, func() (uint64, error) { return u.userService.RemoveFriend(me.UUID, friend) })
}

// MarkRequestsSeen lowers the unseen requests flag of the caller
func (u *UserHandler) MarkRequestsSeen(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}
	u.respond(w, func() (uint64, error) { return u.userService.MarkRequestsSeen(me.UUID) })
}

func (u *UserHandler) respond(w http.ResponseWriter, op func() (uint64, error)) {
	epoch, err := op()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "epoch": epoch})
}
