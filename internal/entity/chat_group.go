/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package entity

import (
	"time"
)

// Group entity for the chat system
type ChatGroup struct {
	UUID        string    `gorm:"primaryKey" json:"uuid"`           // Unique identifier
	Name        string    `gorm:"not null;index" json:"name"`       // Name of the group chat
	CreatorUUID string    `gorm:"not null;index" json:"creator"`    // UUID of the user that created the group, always a member
	CreatedAt   time.Time `gorm:"not null;index" json:"created-at"` // Time of creation
	Epoch       uint64    `gorm:"index;default:0" json:"epoch"`     // Epoch of last modification of the group

	Members []*User `gorm:"many2many:group_members;" json:"members,omitempty"` // List of users inside the group
}

// HasMember tells whether the user with the given uuid is among the loaded members
func (g *ChatGroup) HasMember(userUUID string) bool {
	for _, m := range g.Members {
		if m.UUID == userUUID {
			return true
		}
	}
	return false
}

// MemberUUIDs returns the uuids of the loaded members
func (g *ChatGroup) MemberUUIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UUID)
	}
	return ids
}
