/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package reconcile

import (
	"chatsync/internal/entity"
	"cmp"
	"slices"
	"sync"
)

// Merge returns the union of existing and incoming, one message per identifier,
// sorted by creation time. A message present in both is taken from incoming.
// Ties on the timestamp fall back to the creation epoch, then to the identifier.
func Merge(existing, incoming []*entity.Message) []*entity.Message {
	byID := make(map[string]*entity.Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.UUID] = m
	}
	for _, m := range incoming {
		byID[m.UUID] = m
	}

	out := make([]*entity.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	slices.SortFunc(out, compare)
	return out
}

func compare(a, b *entity.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	return cmp.Compare(a.UUID, b.UUID)
}

// Conversation is the local view of one chat, fed by snapshot pulls and push events.
// Snapshots are the truth: a message they no longer contain is dropped, unless it was
// pushed after the snapshot was taken. Pushes only add.
type Conversation struct {
	lock     sync.Mutex
	messages []*entity.Message
	epoch    uint64 // Epoch of the last applied snapshot
}

func NewConversation() *Conversation {
	return &Conversation{}
}

// ApplySnapshot replaces the view with a pulled snapshot taken at epoch.
// A snapshot older than the last applied one is ignored and false is returned.
func (c *Conversation) ApplySnapshot(snapshot []*entity.Message, epoch uint64) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if epoch < c.epoch {
		return false
	}

	var newer []*entity.Message
	for _, m := range c.messages {
		if m.Epoch > epoch {
			newer = append(newer, m)
		}
	}
	c.messages = Merge(newer, snapshot)
	c.epoch = epoch
	return true
}

// ApplyPush adds a pushed message. A push the last snapshot should already have
// contained, but did not, was unsent in the meantime and is ignored.
func (c *Conversation) ApplyPush(m *entity.Message) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if m.Epoch != 0 && m.Epoch <= c.epoch && !c.has(m.UUID) {
		return false
	}
	c.messages = Merge(c.messages, []*entity.Message{m})
	return true
}

func (c *Conversation) has(uuid string) bool {
	for _, m := range c.messages {
		if m.UUID == uuid {
			return true
		}
	}
	return false
}

// Messages returns the current view, oldest first
func (c *Conversation) Messages() []*entity.Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	return slices.Clone(c.messages)
}

// Epoch returns the epoch of the last applied snapshot
func (c *Conversation) Epoch() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.epoch
}

// Len returns how many messages are in view
func (c *Conversation) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.messages)
}
