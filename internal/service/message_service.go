/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package service

import (
	"chatsync/internal/entity"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"chatsync/internal/repository"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// A message can be unsent by its sender for this long after its creation
const UnsendWindow = 60 * time.Second

// Notifier pushes events to live connections. Delivery is best-effort.
type Notifier interface {
	NotifyUser(userUUID string, ev realtime.Event) int
	NotifyRoom(groupUUID, excludeUser string, ev realtime.Event) int
}

// MessageSelector picks what MarkRead acknowledges. Exactly one field is set:
// a single message, every direct message from a peer, or every message of a group.
type MessageSelector struct {
	MessageUUID string `json:"message-id,omitempty"`
	PeerUUID    string `json:"peer-id,omitempty"`
	GroupUUID   string `json:"group-id,omitempty"`
}

func (s MessageSelector) validate() error {
	set := 0
	for _, v := range []string{s.MessageUUID, s.PeerUUID, s.GroupUUID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: selector needs exactly one of message-id, peer-id and group-id", ErrValidation)
	}
	return nil
}

// UnreadCounts of one user, recomputed from the store on every call
type UnreadCounts struct {
	ByPeer  map[string]int64 `json:"by-peer"`
	ByGroup map[string]int64 `json:"by-group"`
}

// Service used to handle messages, both for DM and group chats
type MessageService interface {
	Send(senderUUID string, target realtime.Target, content, imageURL string) (*entity.Message, uint64, error) // Validates, persists and fans out a message. Push failures never fail the send.

	GetDM(userUUID, peerUUID string) ([]*entity.Message, uint64, error)     // Snapshot of the chat between two users, oldest first, with the epoch it was taken at
	GetGroup(userUUID, groupUUID string) ([]*entity.Message, uint64, error) // Snapshot of a group chat. The user must be a member.

	Unsend(requesterUUID, messageUUID string) (uint64, error) // Deletes a message of the requester younger than UnsendWindow

	MarkRead(readerUUID string, selector MessageSelector) (int64, uint64, error) // Idempotently acknowledges the selected messages, returns how many receipts were added
	UnreadCounts(userUUID string) (*UnreadCounts, error)                         // Unread direct messages by peer and unread group messages by group
}

type localMessageService struct {
	logger            nlog.Logger                  // Logs a format string
	messageRepository repository.MessageRepository // Repository for messages
	groupRepository   repository.GroupRepository   // Repository for groups
	userRepository    repository.UserRepository    // Repository for users
	globalRepository  repository.GlobalRepository  // Repository for a global state
	notifier          Notifier                     // Live connections
	now               func() time.Time             // Wall clock
}

func NewMessageService(messageRepo repository.MessageRepository, groupRepo repository.GroupRepository, userRepo repository.UserRepository, globalRepo repository.GlobalRepository, notifier Notifier, logger nlog.Logger) *localMessageService {
	return &localMessageService{
		logger:            logger,
		messageRepository: messageRepo,
		groupRepository:   groupRepo,
		userRepository:    userRepo,
		globalRepository:  globalRepo,
		notifier:          notifier,
		now:               time.Now,
	}
}

// SetClock replaces the wall clock, used by the unsend window and receipts
func (m *localMessageService) SetClock(now func() time.Time) {
	m.now = now
}

func (m *localMessageService) Logf(format string, v ...any) {
	m.logger.Logf(format, v...)
}

func (m *localMessageService) Send(senderUUID string, target realtime.Target, content, imageURL string) (*entity.Message, uint64, error) {
	if err := target.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if target.ReceiverID == senderUUID {
		return nil, 0, fmt.Errorf("%w: cannot send a message to yourself", ErrValidation)
	}

	message := &entity.Message{
		UUID:         uuid.New().String(),
		Content:      content,
		ImageURL:     imageURL,
		CreatedAt:    m.now(),
		SenderUUID:   senderUUID,
		ReceiverUUID: target.ReceiverID,
		GroupUUID:    target.GroupID,
	}
	if err := message.Validate(); err != nil {
		return nil, 0, translate(err)
	}

	if target.IsGroup() {
		message.ChatID = target.GroupID
		if err := m.requireMember(target.GroupID, senderUUID); err != nil {
			return nil, 0, err
		}
	} else {
		message.ChatID = entity.DirectChatID(senderUUID, target.ReceiverID)
		if _, err := m.userRepository.GetByUUID(target.ReceiverID); err != nil {
			return nil, 0, translate(err)
		}
	}

	newEpoch, err := m.messageRepository.Create(message)
	if err != nil {
		return nil, 0, translate(err)
	}
	message.ReadBy = []entity.ReadReceipt{}
	m.Logf("Message creation outcome {%s, %d}", message.UUID, newEpoch)

	if err := m.messageRepository.Hydrate(message); err != nil {
		m.Logf("Message %s persisted but could not be hydrated {%v}", message.UUID, err)
	}

	m.fanOut(message)
	return message, newEpoch, nil
}

// fanOut pushes the new message to whoever is online. Nothing here can fail the send.
func (m *localMessageService) fanOut(message *entity.Message) {
	if message.IsForGroup() {
		ev, err := realtime.NewEvent(realtime.EventNewGroupMessage, message)
		if err != nil {
			m.Logf("Could not encode message %s {%v}", message.UUID, err)
			return
		}
		// The sender's own connections get it too, other devices echo the message
		delivered := m.notifier.NotifyRoom(message.GroupUUID, "", ev)
		m.Logf("Group message %s pushed to %d local connections", message.UUID, delivered)
		return
	}

	ev, err := realtime.NewEvent(realtime.EventNewMessage, message)
	if err != nil {
		m.Logf("Could not encode message %s {%v}", message.UUID, err)
		return
	}
	if m.notifier.NotifyUser(message.ReceiverUUID, ev) == 0 {
		m.Logf("Receiver %s is not connected here, it will poll message %s", message.ReceiverUUID, message.UUID)
	}
}

func (m *localMessageService) GetDM(userUUID, peerUUID string) ([]*entity.Message, uint64, error) {
	if peerUUID == "" || peerUUID == userUUID {
		return nil, 0, fmt.Errorf("%w: invalid peer", ErrValidation)
	}
	epoch := m.currentEpoch()
	messages, err := m.messageRepository.GetChat(entity.DirectChatID(userUUID, peerUUID))
	if err != nil {
		return nil, 0, fmt.Errorf("Could not read the chat between %s and %s {%w}", userUUID, peerUUID, err)
	}
	m.Logf("Found %d messages between %s and %s", len(messages), userUUID, peerUUID)
	return messages, epoch, nil
}

func (m *localMessageService) GetGroup(userUUID, groupUUID string) ([]*entity.Message, uint64, error) {
	if err := m.requireMember(groupUUID, userUUID); err != nil {
		return nil, 0, err
	}
	epoch := m.currentEpoch()
	messages, err := m.messageRepository.GetChat(groupUUID)
	if err != nil {
		return nil, 0, fmt.Errorf("Could not read the chat of group %s {%w}", groupUUID, err)
	}
	m.Logf("Found %d messages in group %s", len(messages), groupUUID)
	return messages, epoch, nil
}

func (m *localMessageService) Unsend(requesterUUID, messageUUID string) (uint64, error) {
	now := m.now()
	newEpoch, err := m.messageRepository.Delete(messageUUID, func(message *entity.Message) error {
		if message.SenderUUID != requesterUUID {
			return fmt.Errorf("%w: only the sender can unsend a message", ErrForbidden)
		}
		if now.Sub(message.CreatedAt) >= UnsendWindow {
			return fmt.Errorf("%w: message is older than %v", ErrWindowExpired, UnsendWindow)
		}
		return nil
	})
	if err != nil {
		m.Logf("Unsend of %s by %s refused {%v}", messageUUID, requesterUUID, err)
		return 0, translate(err)
	}
	m.Logf("Message %s unsent by %s", messageUUID, requesterUUID)
	return newEpoch, nil
}

func (m *localMessageService) MarkRead(readerUUID string, selector MessageSelector) (int64, uint64, error) {
	if err := selector.validate(); err != nil {
		return 0, 0, err
	}
	now := m.now()

	switch {
	case selector.MessageUUID != "":
		message, err := m.messageRepository.GetByUUID(selector.MessageUUID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Unsent before the receipt arrived
				return 0, m.currentEpoch(), nil
			}
			return 0, 0, err
		}
		if err := m.requireReader(message, readerUUID); err != nil {
			return 0, 0, err
		}
		added, newEpoch, err := m.messageRepository.AddReadReceipt(message.UUID, readerUUID, now)
		if err != nil {
			return 0, 0, err
		}
		if !added {
			return 0, m.currentEpoch(), nil
		}
		return 1, newEpoch, nil

	case selector.PeerUUID != "":
		return m.markChat(entity.DirectChatID(readerUUID, selector.PeerUUID), readerUUID, now)

	default:
		if err := m.requireMember(selector.GroupUUID, readerUUID); err != nil {
			return 0, 0, err
		}
		return m.markChat(selector.GroupUUID, readerUUID, now)
	}
}

func (m *localMessageService) markChat(chatID, readerUUID string, now time.Time) (int64, uint64, error) {
	marked, newEpoch, err := m.messageRepository.MarkChatRead(chatID, readerUUID, now)
	if err != nil {
		return 0, 0, err
	}
	if marked == 0 {
		return 0, m.currentEpoch(), nil
	}
	m.Logf("%d messages of chat %s marked read by %s", marked, chatID, readerUUID)
	return marked, newEpoch, nil
}

func (m *localMessageService) UnreadCounts(userUUID string) (*UnreadCounts, error) {
	byPeer, err := m.messageRepository.UnreadByPeer(userUUID)
	if err != nil {
		return nil, err
	}
	byGroup, err := m.messageRepository.UnreadByGroup(userUUID)
	if err != nil {
		return nil, err
	}
	return &UnreadCounts{ByPeer: byPeer, ByGroup: byGroup}, nil
}

// requireMember fails with NotFound if the group is gone and Forbidden if the user is not in it
func (m *localMessageService) requireMember(groupUUID, userUUID string) error {
	if _, err := m.groupRepository.GetByUUID(groupUUID); err != nil {
		return translate(err)
	}
	ok, err := m.groupRepository.IsMember(groupUUID, userUUID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %s is not a member of group %s", ErrForbidden, userUUID, groupUUID)
	}
	return nil
}

// requireReader checks that the message was addressed to the reader
func (m *localMessageService) requireReader(message *entity.Message, readerUUID string) error {
	if message.IsForGroup() {
		return m.requireMember(message.GroupUUID, readerUUID)
	}
	if message.ReceiverUUID != readerUUID && message.SenderUUID != readerUUID {
		return fmt.Errorf("%w: message was not addressed to %s", ErrForbidden, readerUUID)
	}
	return nil
}

func (m *localMessageService) currentEpoch() uint64 {
	epoch, err := m.globalRepository.GetCurrentEpoch()
	if err != nil {
		return 0
	}
	return epoch
}
