/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package client

import (
	"chatsync/internal/entity"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"chatsync/internal/reconcile"
	"context"
	"time"
)

// PullFunc fetches a snapshot of one conversation
type PullFunc func(ctx context.Context) ([]*entity.Message, uint64, error)

// Syncer keeps a Conversation converged: it pulls a snapshot every interval and
// applies the push events of the same chat in between.
type Syncer struct {
	chatID   string
	conv     *reconcile.Conversation
	pull     PullFunc
	interval time.Duration
	onChange func([]*entity.Message)
	logger   nlog.Logger
}

func NewSyncer(chatID string, pull PullFunc, interval time.Duration, logger nlog.Logger) *Syncer {
	return &Syncer{
		chatID:   chatID,
		conv:     reconcile.NewConversation(),
		pull:     pull,
		interval: interval,
		onChange: func([]*entity.Message) {},
		logger:   logger,
	}
}

// OnChange sets the callback receiving the view after every applied update
func (s *Syncer) OnChange(f func([]*entity.Message)) {
	s.onChange = f
}

func (s *Syncer) Conversation() *reconcile.Conversation {
	return s.conv
}

// Pull applies one snapshot
func (s *Syncer) Pull(ctx context.Context) error {
	messages, epoch, err := s.pull(ctx)
	if err != nil {
		return err
	}
	if s.conv.ApplySnapshot(messages, epoch) {
		s.onChange(s.conv.Messages())
	}
	return nil
}

// Push applies a push event, ignoring events of other chats
func (s *Syncer) Push(ev realtime.Event) {
	if ev.Type != realtime.EventNewMessage && ev.Type != realtime.EventNewGroupMessage {
		return
	}
	var m entity.Message
	if err := ev.Decode(&m); err != nil {
		s.logger.Logf("Discarding undecodable push {%v}", err)
		return
	}
	if m.ChatID != s.chatID {
		return
	}
	if s.conv.ApplyPush(&m) {
		s.onChange(s.conv.Messages())
	}
}

// Run pulls on every tick and applies events until ctx is done.
// events may be nil, or closed when the push connection drops: pulls go on regardless.
func (s *Syncer) Run(ctx context.Context, events <-chan realtime.Event) {
	if err := s.Pull(ctx); err != nil {
		s.logger.Logf("Snapshot pull failed {%v}", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Pull(ctx); err != nil {
				s.logger.Logf("Snapshot pull failed {%v}", err)
			}
		case ev, ok := <-events:
			if !ok {
				s.logger.Logf("Push connection lost, polling only")
				events = nil
				continue
			}
			s.Push(ev)
		}
	}
}
