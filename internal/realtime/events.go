/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package realtime

import (
	"encoding/json"
	"errors"
)

// EventType names a server to client push
type EventType string

const (
	EventNewMessage        EventType = "newMessage"
	EventNewGroupMessage   EventType = "newGroupMessage"
	EventUserTyping        EventType = "userTyping"
	EventUserStoppedTyping EventType = "userStoppedTyping"
	EventError             EventType = "error"
)

// Event is a push notification. The payload is encoded once, when the event is built,
// so fanning it out to many connections (or to other nodes) never re-encodes it.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent encodes payload into an event of the given type
func NewEvent(typ EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Payload: raw}, nil
}

// TypingPayload is the payload of userTyping and userStoppedTyping
type TypingPayload struct {
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

// ErrorPayload is sent back to a connection whose signal was refused
type ErrorPayload struct {
	Signal SignalType `json:"signal"`
	Error  string     `json:"error"`
}

// SignalType names a client to server signal
type SignalType string

const (
	SignalRegister   SignalType = "register"
	SignalTyping     SignalType = "typing"
	SignalStopTyping SignalType = "stopTyping"
	SignalJoinGroup  SignalType = "joinGroup"
	SignalLeaveGroup SignalType = "leaveGroup"
)

// Signal is what a client sends on its connection
type Signal struct {
	Type       SignalType `json:"type"`
	UserID     string     `json:"userId,omitempty"`
	ReceiverID string     `json:"receiverId,omitempty"`
	GroupID    string     `json:"groupId,omitempty"`
}

// Target of a message or of a typing indicator: a peer or a group, never both
type Target struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

var ErrInvalidTarget = errors.New("target needs exactly one of receiverId and groupId")

// Validate checks that exactly one side of the target is set
func (t Target) Validate() error {
	if (t.ReceiverID == "") == (t.GroupID == "") {
		return ErrInvalidTarget
	}
	return nil
}

// IsGroup tells whether the target is a group
func (t Target) IsGroup() bool {
	return t.GroupID != ""
}

// Target extracts the target carried by the signal
func (s Signal) Target() Target {
	return Target{ReceiverID: s.ReceiverID, GroupID: s.GroupID}
}

// Decode unmarshals the payload of the event into v
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
