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

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// This repository is used to manipulate the groups and user-groups relations in the system.
// Membership edits go through the join table only (add-to-set / pull), so concurrent edits never lose each other.
type GroupRepository interface {
	Create(group *entity.ChatGroup) (uint64, error) // Inserts a group together with its members
	Delete(uuid string) (uint64, error)             // Deletes the group, its memberships, its messages and their read receipts

	GetByUUID(uuid string) (*entity.ChatGroup, error)        // Retrieves the group with the given uuid, WITH its members
	GetMembers(uuid string) ([]*entity.User, error)          // Retrieves the members of the group with given uuid.
	GetForUser(userUUID string) ([]*entity.ChatGroup, error) // Retrieves the groups the user is in
	IsMember(uuid, userUUID string) (bool, error)            // Tells whether the user is in the group

	AddUser(uuid, userUUID string) (uint64, error)    // Adds a user to the group, a no-op if already present
	RemoveUser(uuid, userUUID string) (uint64, error) // Removes the user from the group. The group is deleted when it has no members left
}

// Implementation of the repository using a SQLite DB
type SQLiteGroupRepository struct {
	db *gorm.DB
}

func NewSQLiteGroupRepository(db *gorm.DB) GroupRepository {
	return &SQLiteGroupRepository{db}
}

func (repo *SQLiteGroupRepository) Create(group *entity.ChatGroup) (uint64, error) {

	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		group.Epoch = newEpoch
		epoch = newEpoch

		if err := tx.Omit("Members.*").Create(group).Error; err != nil {
			return err
		}
		return nil
	})
	return epoch, err
}

func (repo *SQLiteGroupRepository) Delete(uuid string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		var group entity.ChatGroup
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("uuid = ?", uuid).First(&group).Error; err != nil {
			return notFound(err)
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		return deleteGroup(tx, &group)
	})

	return epoch, err
}

func (repo *SQLiteGroupRepository) GetByUUID(uuid string) (*entity.ChatGroup, error) {
	var group entity.ChatGroup
	err := repo.db.Preload("Members").Where("uuid = ?", uuid).First(&group).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

func (repo *SQLiteGroupRepository) GetMembers(uuid string) ([]*entity.User, error) {
	group, err := repo.GetByUUID(uuid)
	if err != nil {
		return nil, err
	}
	return group.Members, nil
}

func (repo *SQLiteGroupRepository) GetForUser(userUUID string) ([]*entity.ChatGroup, error) {
	var groups []*entity.ChatGroup
	err := repo.db.
		Where("uuid IN (?)", repo.db.Table("group_members").Select("chat_group_uuid").Where("user_uuid = ?", userUUID)).
		Order("created_at ASC").
		Find(&groups).Error
	return groups, err
}

func (repo *SQLiteGroupRepository) IsMember(uuid, userUUID string) (bool, error) {
	return isMember(repo.db, uuid, userUUID)
}

func (repo *SQLiteGroupRepository) AddUser(uuid, userUUID string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		var group entity.ChatGroup
		if err := tx.Where("uuid = ?", uuid).First(&group).Error; err != nil {
			return notFound(err)
		}
		var user entity.User
		if err := tx.Where("uuid = ?", userUUID).First(&user).Error; err != nil {
			return notFound(err)
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		if err := tx.Model(&group).Update("Epoch", epoch).Error; err != nil {
			return err
		}

		// The join insert is ON CONFLICT DO NOTHING, so a second add is harmless
		return tx.Model(&group).Association("Members").Append(&user)
	})
	return epoch, err
}

func (repo *SQLiteGroupRepository) RemoveUser(uuid, userUUID string) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		var group entity.ChatGroup
		if err := tx.Where("uuid = ?", uuid).First(&group).Error; err != nil {
			return notFound(err)
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		if err := tx.Model(&group).Update("Epoch", epoch).Error; err != nil {
			return err
		}

		user := entity.User{UUID: userUUID}
		if err := tx.Model(&group).Association("Members").Delete(&user); err != nil {
			return err
		}
		count := tx.Model(&group).Association("Members").Count()
		if count == 0 {
			return deleteGroup(tx, &group)
		}
		return nil
	})
	return epoch, err
}

func isMember(db *gorm.DB, uuid, userUUID string) (bool, error) {
	var count int64
	err := db.Table("group_members").
		Where("chat_group_uuid = ? AND user_uuid = ?", uuid, userUUID).
		Count(&count).Error
	return count > 0, err
}

// deleteGroup removes the group and everything hanging from it, inside tx
func deleteGroup(tx *gorm.DB, group *entity.ChatGroup) error {
	messages := tx.Model(&entity.Message{}).Select("uuid").Where("group_uuid = ?", group.UUID)
	if err := tx.Where("message_uuid IN (?)", messages).Delete(&entity.ReadReceipt{}).Error; err != nil {
		return err
	}
	if err := tx.Where("group_uuid = ?", group.UUID).Delete(&entity.Message{}).Error; err != nil {
		return err
	}
	if err := tx.Model(group).Association("Members").Clear(); err != nil {
		return err
	}
	return tx.Where("uuid = ?", group.UUID).Delete(&entity.ChatGroup{}).Error
}
