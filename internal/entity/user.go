/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package entity

import "time"

// User of the chat system. Registration and profile data are owned elsewhere,
// this record carries what the realtime core needs: a display name and the friend graph.
type User struct {
	UUID              string    `gorm:"primaryKey" json:"uuid"`
	Username          string    `gorm:"not null;index" json:"username"`
	CreatedAt         time.Time `gorm:"not null;index" json:"created-at"`
	HasUnseenRequests bool      `gorm:"not null;default:false" json:"has-unseen-requests"` // Sticky, cleared only when the user looks at the requests
	Epoch             uint64    `gorm:"index;default:0" json:"epoch"`

	Friends         []string `gorm:"-" json:"friends,omitempty"`          // Hydrated from the friendships table
	PendingRequests []string `gorm:"-" json:"pending-requests,omitempty"` // Hydrated from the friend_requests table (incoming only)
}

// One direction of a friendship. Accepting a request writes both directions.
type Friendship struct {
	UserUUID   string    `gorm:"primaryKey"`
	FriendUUID string    `gorm:"primaryKey;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

// A pending friend request, addressed to ReceiverUUID
type FriendRequest struct {
	ReceiverUUID string    `gorm:"primaryKey"`
	SenderUUID   string    `gorm:"primaryKey;index"`
	CreatedAt    time.Time `gorm:"not null"`
}
