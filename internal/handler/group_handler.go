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

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type memberRequest struct {
	UserID string `json:"user-id"`
}

// GroupHandler is used to handle group routes and group membership
type GroupHandler struct {
	groupService service.GroupService
}

func NewGroupHandler(groupService service.GroupService) *GroupHandler {
	return &GroupHandler{groupService}
}

// Creates a group, the caller becomes its creator
func (g *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	group, epoch, err := g.groupService.CreateGroup(req.Name, me.UUID, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "group": group, "epoch": epoch})
}

// Lists the groups of the caller
func (g *GroupHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	groups, epoch, err := g.groupService.GetGroupsForUser(me.UUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "groups": groups, "epoch": epoch})
}

// Searches for a specific group
func (g *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	group, epoch, err := g.groupService.GetGroupByUUID(me.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "group": group, "epoch": epoch})
}

// Deletes a group, with its messages. Only the creator can.
func (g *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	epoch, err := g.groupService.DeleteGroup(me.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "epoch": epoch})
}

// Retrieves the members of a group
func (g *GroupHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	members, epoch, err := g.groupService.GetGroupMembers(me.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "members": members, "epoch": epoch})
}

// Adds a user to the group
func (g *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	var req memberRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	epoch, err := g.groupService.AddGroupUser(me.UUID, mux.Vars(r)["uuid"], req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "epoch": epoch})
}

// Removes a user from the group, leaving it when the user is the caller
func (g *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	epoch, err := g.groupService.RemoveGroupUser(me.UUID, vars["uuid"], vars["user"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "epoch": epoch})
}
