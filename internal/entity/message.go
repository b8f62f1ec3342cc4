/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package entity

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrMessageTarget  = errors.New("a message needs exactly one of receiver and group")
	ErrMessageContent = errors.New("a message needs exactly one of content and image")
	ErrMessageSender  = errors.New("a message needs a sender")
)

// Represents a message sent between two users or in a group chat.
type Message struct {
	UUID      string    `gorm:"primaryKey" json:"uuid"`           // Unique identifier
	ChatID    string    `gorm:"not null;index" json:"chat-id"`    // Identifier of the Chat. It's <user1-uuid>:<user2-uuid> for DMs and <group-uuid> for group messages.
	Content   string    `json:"content,omitempty"`                // Text content of the message
	ImageURL  string    `json:"image-url,omitempty"`              // Reference to an image stored elsewhere
	Epoch     uint64    `gorm:"not null;default:0" json:"epoch"`  // Epoch of the creation of the message
	CreatedAt time.Time `gorm:"not null;index" json:"created-at"` // Time of creation.

	SenderUUID   string `gorm:"not null;index" json:"sender"`    // UUID of the user that sent the message
	ReceiverUUID string `gorm:"index" json:"receiver,omitempty"` // UUID of the user that received it, empty for group messages
	GroupUUID    string `gorm:"index" json:"group-id,omitempty"` // UUID of the group it was posted in, empty for DMs

	ReadBy []ReadReceipt `gorm:"foreignKey:MessageUUID;references:UUID" json:"read-by"` // At most one receipt per reader

	Sender   *User      `gorm:"foreignKey:SenderUUID;references:UUID" json:"sender-info,omitempty"`
	Receiver *User      `gorm:"foreignKey:ReceiverUUID;references:UUID" json:"receiver-info,omitempty"`
	Group    *ChatGroup `gorm:"foreignKey:GroupUUID;references:UUID" json:"group-info,omitempty"`
}

// Acknowledgement that ReaderUUID has seen MessageUUID. Unique per (message, reader).
type ReadReceipt struct {
	MessageUUID string    `gorm:"primaryKey" json:"-"`
	ReaderUUID  string    `gorm:"primaryKey;index" json:"reader"`
	ReadAt      time.Time `gorm:"not null" json:"read-at"`
}

// IsForGroup tells if the message was posted in a group chat
func (m *Message) IsForGroup() bool {
	return m.GroupUUID != ""
}

// Validate checks the target and content invariants
func (m *Message) Validate() error {
	if m.SenderUUID == "" {
		return ErrMessageSender
	}
	if (m.ReceiverUUID == "") == (m.GroupUUID == "") {
		return ErrMessageTarget
	}
	if (m.Content == "") == (m.ImageURL == "") {
		return ErrMessageContent
	}
	return nil
}

// ReadByUser tells if userUUID has a read receipt on this message
func (m *Message) ReadByUser(userUUID string) bool {
	for _, r := range m.ReadBy {
		if r.ReaderUUID == userUUID {
			return true
		}
	}
	return false
}

// BeforeCreate refuses to persist a message that breaks the invariants
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	return m.Validate()
}

// DirectChatID returns the chat id shared by the two users, regardless of who sends
func DirectChatID(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}
