/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package realtime

import "sync"

// Handle is a live connection that can receive pushes
type Handle interface {
	ID() string             // Unique for the lifetime of the process
	Push(event Event) error // Queues the event, never blocks
}

// Registry maps each online user to the connection direct messages are pushed to.
// The last registration wins: a reconnecting user replaces its previous handle.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]Handle)}
}

// Register associates userUUID with h and returns the handle it replaced, if any
func (r *Registry) Register(userUUID string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.byUser[userUUID]
	r.byUser[userUUID] = h
	if previous != nil && previous.ID() == h.ID() {
		return nil
	}
	return previous
}

// Unregister removes the mapping of userUUID only if it still points at h.
// A stale disconnect racing a fresh reconnect leaves the fresh handle in place.
func (r *Registry) Unregister(userUUID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byUser[userUUID]
	if !ok || current.ID() != h.ID() {
		return false
	}
	delete(r.byUser, userUUID)
	return true
}

// Lookup returns the handle registered for userUUID
func (r *Registry) Lookup(userUUID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byUser[userUUID]
	return h, ok
}

// IsOnline tells whether userUUID has a registered handle
func (r *Registry) IsOnline(userUUID string) bool {
	_, ok := r.Lookup(userUUID)
	return ok
}

// Count is the number of online users
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Online returns the uuids of the online users
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for user := range r.byUser {
		users = append(users, user)
	}
	return users
}
