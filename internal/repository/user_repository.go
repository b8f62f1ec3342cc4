/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package repository

import (
	"chatsync/internal/entity"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// This repository is used to read users and to edit the friend graph.
// Friend sets are join rows: adding is an insert ON CONFLICT DO NOTHING, removing is a delete of the row.
type UserRepository interface {
	Create(user *entity.User) (uint64, error) // Inserts a user (normally done by the registration collaborator)

	GetByUUID(uuid string) (*entity.User, error)       // Retrieves the user with its friends and pending requests
	GetByUUIDs(uuids []string) ([]*entity.User, error) // Retrieves the users with the given uuids, without the friend graph
	GetFriends(uuid string) ([]string, error)          // Retrieves the uuids of the user's friends
	GetPendingRequests(uuid string) ([]string, error)  // Retrieves the uuids of the users that asked the user to be friends
	AreFriends(a, b string) (bool, error)              // Tells whether a lists b as a friend

	AddFriendRequest(receiver, sender string) (uint64, error)    // Adds sender to the receiver's pending set and raises the unseen flag
	AcceptFriendRequest(receiver, sender string) (uint64, error) // Pulls the request and adds the friendship both ways
	RejectFriendRequest(receiver, sender string) (uint64, error) // Pulls the request
	RemoveFriend(a, b string) (uint64, error)                    // Pulls the friendship both ways
	ClearUnseenRequests(uuid string) (uint64, error)             // Lowers the unseen flag
}

// Implementation of the repository using a SQLite DB
type SQLiteUserRepository struct {
	db *gorm.DB
}

func NewSQLiteUserRepository(db *gorm.DB) UserRepository {
	return &SQLiteUserRepository{db}
}

func (repo *SQLiteUserRepository) Create(user *entity.User) (uint64, error) {

	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		user.Epoch = newEpoch
		epoch = newEpoch

		return tx.Create(user).Error
	})

	return epoch, err
}

func (repo *SQLiteUserRepository) GetByUUID(uuid string) (*entity.User, error) {
	var user entity.User
	if err := repo.db.Where("uuid = ?", uuid).First(&user).Error; err != nil {
		return nil, notFound(err)
	}

	friends, err := repo.GetFriends(uuid)
	if err != nil {
		return nil, err
	}
	pending, err := repo.GetPendingRequests(uuid)
	if err != nil {
		return nil, err
	}
	user.Friends = friends
	user.PendingRequests = pending
	return &user, nil
}

func (repo *SQLiteUserRepository) GetByUUIDs(uuids []string) ([]*entity.User, error) {
	var users []*entity.User
	if len(uuids) == 0 {
		return users, nil
	}
	err := repo.db.Where("uuid IN ?", uuids).Find(&users).Error
	return users, err
}

func (repo *SQLiteUserRepository) GetFriends(uuid string) ([]string, error) {
	var friends []string
	err := repo.db.Model(&entity.Friendship{}).
		Where("user_uuid = ?", uuid).
		Order("created_at ASC").
		Pluck("friend_uuid", &friends).Error
	return friends, err
}

func (repo *SQLiteUserRepository) GetPendingRequests(uuid string) ([]string, error) {
	var senders []string
	err := repo.db.Model(&entity.FriendRequest{}).
		Where("receiver_uuid = ?", uuid).
		Order("created_at ASC").
		Pluck("sender_uuid", &senders).Error
	return senders, err
}

func (repo *SQLiteUserRepository) AreFriends(a, b string) (bool, error) {
	var count int64
	err := repo.db.Model(&entity.Friendship{}).Where("user_uuid = ? AND friend_uuid = ?", a, b).Count(&count).Error
	return count > 0, err
}

func (repo *SQLiteUserRepository) AddFriendRequest(receiver, sender string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, receiver, sender); err != nil {
			return err
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		request := entity.FriendRequest{ReceiverUUID: receiver, SenderUUID: sender, CreatedAt: time.Now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&request).Error; err != nil {
			return err
		}
		return tx.Model(&entity.User{}).Where("uuid = ?", receiver).
			Updates(map[string]any{"has_unseen_requests": true, "epoch": epoch}).Error
	})
	return epoch, err
}

func (repo *SQLiteUserRepository) AcceptFriendRequest(receiver, sender string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("receiver_uuid = ? AND sender_uuid = ?", receiver, sender).Delete(&entity.FriendRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		now := time.Now()
		both := []entity.Friendship{
			{UserUUID: receiver, FriendUUID: sender, CreatedAt: now},
			{UserUUID: sender, FriendUUID: receiver, CreatedAt: now},
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&both).Error; err != nil {
			return err
		}
		// A crossed request (both asked each other) is settled by the same accept
		return tx.Where("receiver_uuid = ? AND sender_uuid = ?", sender, receiver).Delete(&entity.FriendRequest{}).Error
	})
	return epoch, err
}

func (repo *SQLiteUserRepository) RejectFriendRequest(receiver, sender string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("receiver_uuid = ? AND sender_uuid = ?", receiver, sender).Delete(&entity.FriendRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch
		return nil
	})
	return epoch, err
}

func (repo *SQLiteUserRepository) RemoveFriend(a, b string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("(user_uuid = ? AND friend_uuid = ?) OR (user_uuid = ? AND friend_uuid = ?)", a, b, b, a).
			Delete(&entity.Friendship{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch
		return nil
	})
	return epoch, err
}

func (repo *SQLiteUserRepository) ClearUnseenRequests(uuid string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, uuid); err != nil {
			return err
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		return tx.Model(&entity.User{}).Where("uuid = ?", uuid).
			Updates(map[string]any{"has_unseen_requests": false, "epoch": epoch}).Error
	})
	return epoch, err
}

// requireUsers fails with ErrNotFound unless every uuid names an existing user
func requireUsers(tx *gorm.DB, uuids ...string) error {
	for _, uuid := range uuids {
		var count int64
		if err := tx.Model(&entity.User{}).Where("uuid = ?", uuid).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}
