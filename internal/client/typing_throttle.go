/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package client

import (
	"chatsync/internal/realtime"
	"sync"
	"time"
)

// TypingThrottle turns keystrokes into typing signals: at most one typing signal per
// refresh window for each target, and a single stopTyping once input is cleared.
type TypingThrottle struct {
	lock   sync.Mutex
	userID string
	window time.Duration
	now    func() time.Time
	send   func(realtime.Signal) error
	last   map[realtime.Target]time.Time
}

func NewTypingThrottle(userID string, send func(realtime.Signal) error, now func() time.Time) *TypingThrottle {
	return &TypingThrottle{
		userID: userID,
		window: realtime.TypingRefreshWindow,
		now:    now,
		send:   send,
		last:   make(map[realtime.Target]time.Time),
	}
}

// Keystroke reports input activity towards target
func (t *TypingThrottle) Keystroke(target realtime.Target) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.now()
	if last, ok := t.last[target]; ok && now.Sub(last) < t.window {
		return nil
	}
	t.last[target] = now
	return t.send(t.signal(realtime.SignalTyping, target))
}

// Clear reports that input towards target was cleared or sent
func (t *TypingThrottle) Clear(target realtime.Target) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.last[target]; !ok {
		return nil
	}
	delete(t.last, target)
	return t.send(t.signal(realtime.SignalStopTyping, target))
}

func (t *TypingThrottle) signal(typ realtime.SignalType, target realtime.Target) realtime.Signal {
	return realtime.Signal{Type: typ, UserID: t.userID, ReceiverID: target.ReceiverID, GroupID: target.GroupID}
}
