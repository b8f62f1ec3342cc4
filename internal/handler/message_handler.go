/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package handler

import (
	"chatsync/internal/realtime"
	"chatsync/internal/service"
	"net/http"

	"github.com/gorilla/mux"
)

type sendMessageRequest struct {
	ReceiverID string `json:"receiver-id"`
	GroupID    string `json:"group-id"`
	Content    string `json:"content"`
	ImageURL   string `json:"image-url"`
}

// MessageHandler is used to handle all message-related routes
// Both private chat and group messages
type MessageHandler struct {
	messageService service.MessageService
}

func NewMessageHandler(messageService service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// Send creates a direct or group message, depending on the target in the body
func (m *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	target := realtime.Target{ReceiverID: req.ReceiverID, GroupID: req.GroupID}
	message, epoch, err := m.messageService.Send(me.UUID, target, req.Content, req.ImageURL)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":  "success",
		"message": message,
		"epoch":   epoch,
	})
}

// Retrieves the messages in a private chat
func (m *MessageHandler) GetDMMessages(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	messages, epoch, err := m.messageService.GetDM(me.UUID, mux.Vars(r)["peer"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSnapshot(w, messages, epoch)
}

// Retrieves the messages in a group chat
func (m *MessageHandler) GetGroupMessages(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	messages, epoch, err := m.messageService.GetGroup(me.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSnapshot(w, messages, epoch)
}

// Unsend deletes one of the caller's messages, if it is still young enough
func (m *MessageHandler) Unsend(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	epoch, err := m.messageService.Unsend(me.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "epoch": epoch})
}

// MarkRead acknowledges a message, a direct chat or a group chat
func (m *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	var selector service.MessageSelector
	if err := decodeBody(w, r, &selector); err != nil {
		writeError(w, err)
		return
	}

	marked, epoch, err := m.messageService.MarkRead(me.UUID, selector)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "marked": marked, "epoch": epoch})
}

// UnreadCounts returns the unread counters of the caller
func (m *MessageHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	me, ok := identity(w, r)
	if !ok {
		return
	}

	counts, err := m.messageService.UnreadCounts(me.UUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "unread": counts})
}

func writeSnapshot(w http.ResponseWriter, messages any, epoch uint64) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"messages": messages,
		"epoch":    epoch,
	})
}
