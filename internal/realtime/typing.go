/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	TypingRefreshWindow = 2 * time.Second // Clients repeat the typing signal at most this often while input continues
	TypingCeiling       = 3 * time.Second // An entry with no signal for this long is forced back to idle
	TypingSweepInterval = 1 * time.Second
)

// TypingKey identifies an indicator: who types, and where
type TypingKey struct {
	TypistUUID string
	Target     Target
}

// TypingEmitter receives the transitions of the machine.
// It is called with the machine locked, so it must not block nor call back into the machine.
type TypingEmitter interface {
	TypingStarted(key TypingKey, username string)
	TypingStopped(key TypingKey)
}

type typingEntry struct {
	username     string
	lastActivity time.Time
}

// TypingMachine holds the Idle/Typing state of every (typist, target) pair.
// Absent means Idle. Entries leave the Typing state on an explicit stop or when
// the sweep finds them older than the ceiling.
type TypingMachine struct {
	mu      sync.Mutex
	entries map[TypingKey]*typingEntry

	ceiling time.Duration
	now     func() time.Time
	emitter TypingEmitter
}

func NewTypingMachine(emitter TypingEmitter, ceiling time.Duration, now func() time.Time) *TypingMachine {
	if ceiling <= 0 {
		ceiling = TypingCeiling
	}
	if now == nil {
		now = time.Now
	}
	return &TypingMachine{
		entries: make(map[TypingKey]*typingEntry),
		ceiling: ceiling,
		now:     now,
		emitter: emitter,
	}
}

// Signal records typing activity. The first signal of a pair emits the start,
// the following ones only refresh the entry. It returns true on Idle->Typing.
func (t *TypingMachine) Signal(key TypingKey, username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[key]; ok {
		entry.lastActivity = t.now()
		return false
	}
	t.entries[key] = &typingEntry{username: username, lastActivity: t.now()}
	t.emitter.TypingStarted(key, username)
	return true
}

// Stop moves the pair back to Idle. It returns false if the pair was already Idle.
func (t *TypingMachine) Stop(key TypingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	t.emitter.TypingStopped(key)
	return true
}

// Sweep forces to Idle every entry older than the ceiling and returns their keys
func (t *TypingMachine) Sweep() []TypingKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var expired []TypingKey
	for key, entry := range t.entries {
		if now.Sub(entry.lastActivity) >= t.ceiling {
			delete(t.entries, key)
			t.emitter.TypingStopped(key)
			expired = append(expired, key)
		}
	}
	return expired
}

// IsTyping tells whether the pair is in the Typing state
func (t *TypingMachine) IsTyping(key TypingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Len returns the number of pairs in the Typing state
func (t *TypingMachine) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run sweeps every interval until ctx is done
func (t *TypingMachine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = TypingSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
