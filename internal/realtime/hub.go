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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotAttached   = errors.New("connection is not attached")
	ErrNotRegistered = errors.New("connection did not register")
	ErrWrongUser     = errors.New("signal names a different user than the session")
	ErrNotInRoom     = errors.New("connection did not join the group")
	ErrNotMember     = errors.New("user is not a member of the group")
	ErrUnknownSignal = errors.New("unknown signal")
)

// MembershipChecker tells whether a user belongs to a group. Backed by the persistence store.
type MembershipChecker interface {
	IsMember(groupUUID, userUUID string) (bool, error)
}

// Relay carries fan-out emissions to the other server processes
type Relay interface {
	Publish(env Envelope) error
}

// Envelope is a fan-out emission as seen by the other nodes
type Envelope struct {
	NodeID      string       `json:"node-id"`
	Kind        EnvelopeKind `json:"kind"`
	Target      string       `json:"target"`                 // user uuid or group uuid, by kind
	ExcludeUser string       `json:"exclude-user,omitempty"` // Connections of this user are skipped (room only)
	User        string       `json:"user,omitempty"`         // User losing the room (evict only)
	Event       Event        `json:"event"`
}

type EnvelopeKind string

const (
	EnvelopeUser  EnvelopeKind = "user"
	EnvelopeRoom  EnvelopeKind = "room"
	EnvelopeEvict EnvelopeKind = "evict" // A member left the group, its connections leave the room
	EnvelopeClose EnvelopeKind = "close" // The group is gone, every connection leaves the room
)

// connState is the transient Connection record: owner and joined rooms
type connState struct {
	handle     Handle
	userUUID   string
	username   string
	registered bool
	rooms      map[string]struct{}
}

// Hub owns the process-local realtime state (presence, rooms, typing) and
// is the single place pushes go out from. Pushes are best-effort: a failed
// push is logged and forgotten, the recipient catches up on its next poll.
type Hub struct {
	nodeID string

	presence *Registry
	rooms    *RoomManager
	typing   *TypingMachine

	mu    sync.RWMutex
	conns map[string]*connState // connection id => state

	members MembershipChecker
	relay   Relay // nil when running alone
	logger  nlog.Logger
}

func NewHub(nodeID string, members MembershipChecker, logger nlog.Logger) *Hub {
	h := &Hub{
		nodeID:   nodeID,
		presence: NewRegistry(),
		rooms:    NewRoomManager(),
		conns:    make(map[string]*connState),
		members:  members,
		logger:   logger,
	}
	h.typing = NewTypingMachine(h, TypingCeiling, nil)
	return h
}

// SetRelay enables cross-process fan-out
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

// SetTypingMachine replaces the typing machine, the new one must emit to h
func (h *Hub) SetTypingMachine(t *TypingMachine) {
	h.typing = t
}

func (h *Hub) Logf(format string, v ...any) {
	h.logger.Logf(format, v...)
}

func (h *Hub) NodeID() string         { return h.nodeID }
func (h *Hub) Presence() *Registry    { return h.presence }
func (h *Hub) Rooms() *RoomManager    { return h.rooms }
func (h *Hub) Typing() *TypingMachine { return h.typing }

// Run drives the typing sweep until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.typing.Run(ctx, TypingSweepInterval)
}

//============================================================================//
//  Connection lifecycle                                                      //
//============================================================================//

// Attach records a new connection, authenticated as userUUID
func (h *Hub) Attach(c Handle, userUUID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID()] = &connState{
		handle:   c,
		userUUID: userUUID,
		username: username,
		rooms:    make(map[string]struct{}),
	}
	h.Logf("Connection %s attached for user %s", c.ID(), userUUID)
}

// Detach forgets a connection: presence is released if still ours and every joined room is left
func (h *Hub) Detach(c Handle) {
	h.mu.Lock()
	state, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	h.mu.Unlock()

	if !ok {
		return
	}
	if state.registered {
		if h.presence.Unregister(state.userUUID, c) {
			h.Logf("User %s went offline", state.userUUID)
		}
	}
	for group := range state.rooms {
		h.rooms.Leave(c, group)
	}
	h.Logf("Connection %s detached, left %d rooms", c.ID(), len(state.rooms))
}

func (h *Hub) state(c Handle) (*connState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.conns[c.ID()]
	if !ok {
		return nil, ErrNotAttached
	}
	return state, nil
}

// userOf returns the owner of the connection with the given id
func (h *Hub) userOf(connID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if state, ok := h.conns[connID]; ok {
		return state.userUUID
	}
	return ""
}

//============================================================================//
//  Signals                                                                   //
//============================================================================//

// HandleSignal applies a client signal received on c
func (h *Hub) HandleSignal(c Handle, sig Signal) error {
	state, err := h.state(c)
	if err != nil {
		return err
	}
	if sig.UserID != "" && sig.UserID != state.userUUID {
		return ErrWrongUser
	}

	switch sig.Type {
	case SignalRegister:
		return h.register(c, state)
	case SignalTyping, SignalStopTyping:
		return h.typingSignal(c, state, sig)
	case SignalJoinGroup:
		return h.joinGroup(c, state, sig.GroupID)
	case SignalLeaveGroup:
		return h.leaveGroup(c, state, sig.GroupID)
	}
	return fmt.Errorf("%w {%s}", ErrUnknownSignal, sig.Type)
}

func (h *Hub) register(c Handle, state *connState) error {
	h.mu.Lock()
	state.registered = true
	h.mu.Unlock()

	if previous := h.presence.Register(state.userUUID, c); previous != nil {
		h.Logf("User %s reconnected, connection %s replaces %s", state.userUUID, c.ID(), previous.ID())
	}
	return nil
}

func (h *Hub) typingSignal(c Handle, state *connState, sig Signal) error {
	if !h.isRegistered(state) {
		return ErrNotRegistered
	}
	target := sig.Target()
	if err := target.Validate(); err != nil {
		return err
	}
	if target.ReceiverID == state.userUUID {
		return ErrInvalidTarget
	}
	if target.IsGroup() && !h.inRoom(state, target.GroupID) {
		return ErrNotInRoom
	}

	key := TypingKey{TypistUUID: state.userUUID, Target: target}
	if sig.Type == SignalTyping {
		h.typing.Signal(key, state.username)
	} else {
		h.typing.Stop(key)
	}
	return nil
}

func (h *Hub) joinGroup(c Handle, state *connState, groupUUID string) error {
	if groupUUID == "" {
		return ErrInvalidTarget
	}
	ok, err := h.members.IsMember(groupUUID, state.userUUID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	h.mu.Lock()
	state.rooms[groupUUID] = struct{}{}
	h.mu.Unlock()

	h.rooms.Join(c, groupUUID)
	return nil
}

func (h *Hub) leaveGroup(c Handle, state *connState, groupUUID string) error {
	h.mu.Lock()
	delete(state.rooms, groupUUID)
	h.mu.Unlock()

	h.rooms.Leave(c, groupUUID)
	return nil
}

func (h *Hub) isRegistered(state *connState) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return state.registered
}

func (h *Hub) inRoom(state *connState, groupUUID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := state.rooms[groupUUID]
	return ok
}

//============================================================================//
//  Fan-out                                                                   //
//============================================================================//

// NotifyUser pushes ev to the registered connection of userUUID, here and on the other nodes.
// It returns the number of local deliveries.
func (h *Hub) NotifyUser(userUUID string, ev Event) int {
	h.publish(Envelope{NodeID: h.nodeID, Kind: EnvelopeUser, Target: userUUID, Event: ev})
	return h.deliverUser(userUUID, ev)
}

// NotifyRoom pushes ev to every connection in the room of groupUUID, skipping those owned by excludeUser (if set).
// It returns the number of local deliveries.
func (h *Hub) NotifyRoom(groupUUID, excludeUser string, ev Event) int {
	h.publish(Envelope{NodeID: h.nodeID, Kind: EnvelopeRoom, Target: groupUUID, ExcludeUser: excludeUser, Event: ev})
	return h.deliverRoom(groupUUID, excludeUser, ev)
}

// DeliverRemote hands an envelope published by another node to the local connections
func (h *Hub) DeliverRemote(env Envelope) int {
	if env.NodeID == h.nodeID {
		return 0
	}
	switch env.Kind {
	case EnvelopeUser:
		return h.deliverUser(env.Target, env.Event)
	case EnvelopeRoom:
		return h.deliverRoom(env.Target, env.ExcludeUser, env.Event)
	case EnvelopeEvict:
		return h.evict(env.Target, env.User)
	case EnvelopeClose:
		return h.evict(env.Target, "")
	}
	h.Logf("Dropping envelope of unknown kind {%s} from node %s", env.Kind, env.NodeID)
	return 0
}

func (h *Hub) publish(env Envelope) {
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(env); err != nil {
		h.Logf("Relay publish of %s failed {%v}", env.Event.Type, err)
	}
}

func (h *Hub) deliverUser(userUUID string, ev Event) int {
	c, ok := h.presence.Lookup(userUUID)
	if !ok {
		return 0
	}
	if err := c.Push(ev); err != nil {
		h.Logf("Push of %s to %s failed {%v}", ev.Type, userUUID, err)
		return 0
	}
	return 1
}

func (h *Hub) deliverRoom(groupUUID, excludeUser string, ev Event) int {
	delivered := 0
	for _, c := range h.rooms.MembersOf(groupUUID) {
		if excludeUser != "" && h.userOf(c.ID()) == excludeUser {
			continue
		}
		if err := c.Push(ev); err != nil {
			h.Logf("Push of %s to connection %s failed {%v}", ev.Type, c.ID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

//============================================================================//
//  Membership changes                                                        //
//============================================================================//

// EvictUser makes every connection of userUUID leave the room of groupUUID, here and on the other nodes.
// Called once the user is no longer a member, so it stops receiving the group's pushes.
// It returns the number of local connections evicted.
func (h *Hub) EvictUser(groupUUID, userUUID string) int {
	h.publish(Envelope{NodeID: h.nodeID, Kind: EnvelopeEvict, Target: groupUUID, User: userUUID})
	return h.evict(groupUUID, userUUID)
}

// CloseRoom empties the room of a deleted group, here and on the other nodes
func (h *Hub) CloseRoom(groupUUID string) int {
	h.publish(Envelope{NodeID: h.nodeID, Kind: EnvelopeClose, Target: groupUUID})
	return h.evict(groupUUID, "")
}

// evict removes from the room the connections owned by userUUID, or all of them when userUUID is empty
func (h *Hub) evict(groupUUID, userUUID string) int {
	var leaving []Handle
	h.mu.Lock()
	for _, state := range h.conns {
		if userUUID != "" && state.userUUID != userUUID {
			continue
		}
		if _, ok := state.rooms[groupUUID]; ok {
			delete(state.rooms, groupUUID)
			leaving = append(leaving, state.handle)
		}
	}
	h.mu.Unlock()

	for _, c := range leaving {
		h.rooms.Leave(c, groupUUID)
	}
	if len(leaving) > 0 {
		h.Logf("%d connections left the room of group %s", len(leaving), groupUUID)
	}
	return len(leaving)
}

// closer is a Handle that can be shut down from the server side
type closer interface {
	Close()
}

// CloseAll closes every attached connection and waits, up to timeout, for them to detach.
// It returns false when some connection was still attached at the deadline.
func (h *Hub) CloseAll(timeout time.Duration) bool {
	h.mu.RLock()
	handles := make([]Handle, 0, len(h.conns))
	for _, state := range h.conns {
		handles = append(handles, state.handle)
	}
	h.mu.RUnlock()

	for _, c := range handles {
		if cl, ok := c.(closer); ok {
			cl.Close()
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		h.mu.RLock()
		left := len(h.conns)
		h.mu.RUnlock()
		if left == 0 {
			return true
		}
		if time.Now().After(deadline) {
			h.Logf("%d connections still attached after %v", left, timeout)
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

//============================================================================//
//  TypingEmitter                                                             //
//============================================================================//

func (h *Hub) TypingStarted(key TypingKey, username string) {
	h.emitTyping(EventUserTyping, key, username)
}

func (h *Hub) TypingStopped(key TypingKey) {
	h.emitTyping(EventUserStoppedTyping, key, "")
}

func (h *Hub) emitTyping(typ EventType, key TypingKey, username string) {
	ev, err := NewEvent(typ, TypingPayload{
		UserID:     key.TypistUUID,
		Username:   username,
		ReceiverID: key.Target.ReceiverID,
		GroupID:    key.Target.GroupID,
	})
	if err != nil {
		h.Logf("Could not encode %s {%v}", typ, err)
		return
	}
	if key.Target.IsGroup() {
		h.NotifyRoom(key.Target.GroupID, key.TypistUUID, ev)
	} else {
		h.NotifyUser(key.Target.ReceiverID, ev)
	}
}
