/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package realtime

import "sync"

// RoomManager tracks which connections are subscribed to which group chat.
// It does not know when a connection goes away: whoever owns the connection
// must Leave every room it joined.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Handle // group uuid => connection id => handle
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[string]map[string]Handle)}
}

// Join adds h to the delivery set of groupUUID. It returns false if it was already there.
func (m *RoomManager) Join(h Handle, groupUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[groupUUID]
	if !ok {
		room = make(map[string]Handle)
		m.rooms[groupUUID] = room
	}
	if _, ok := room[h.ID()]; ok {
		return false
	}
	room[h.ID()] = h
	return true
}

// Leave removes h from the delivery set of groupUUID. It returns false if it was not there.
func (m *RoomManager) Leave(h Handle, groupUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[groupUUID]
	if !ok {
		return false
	}
	if _, ok := room[h.ID()]; !ok {
		return false
	}
	delete(room, h.ID())
	if len(room) == 0 {
		delete(m.rooms, groupUUID)
	}
	return true
}

// MembersOf returns a copy of the delivery set of groupUUID
func (m *RoomManager) MembersOf(groupUUID string) []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.rooms[groupUUID]
	members := make([]Handle, 0, len(room))
	for _, h := range room {
		members = append(members, h)
	}
	return members
}

// Size returns how many connections are in groupUUID
func (m *RoomManager) Size(groupUUID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[groupUUID])
}
