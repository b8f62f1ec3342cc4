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

// This repository is used to manipulate the messages in the system and their read receipts.
// Writes return the epoch they produced, reads return plain records.
type MessageRepository interface {
	Create(message *entity.Message) (uint64, error) // Inserts a message, checking that its group (if any) still exists and has the sender as member

	GetByUUID(uuid string) (*entity.Message, error)   // Retrieves a message with its read receipts
	GetChat(chatID string) ([]*entity.Message, error) // Retrives the messages of a chat, oldest first, ties in insertion order
	Hydrate(message *entity.Message) error            // Loads sender, receiver and group metadata into the message

	Delete(uuid string, check func(*entity.Message) error) (uint64, error) // Deletes a message and its receipts if check accepts it, in one transaction

	AddReadReceipt(messageUUID, readerUUID string, at time.Time) (bool, uint64, error) // Add-to-set of a receipt. A missing message is a no-op.
	MarkChatRead(chatID, readerUUID string, at time.Time) (int64, uint64, error)       // Receipts for every message of the chat not authored by, nor yet read by, the reader
	UnreadByPeer(userUUID string) (map[string]int64, error)                            // Unread direct messages addressed to the user, by sender
	UnreadByGroup(userUUID string) (map[string]int64, error)                           // Unread messages in the user's groups authored by others, by group
}

// Implementation of the repository using a SQLite DB
type SQLiteMessageRepository struct {
	db *gorm.DB
}

func NewSQLiteMessageRepository(db *gorm.DB) MessageRepository {
	return &SQLiteMessageRepository{db}
}

func (repo *SQLiteMessageRepository) Create(message *entity.Message) (uint64, error) {

	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		if message.GroupUUID != "" {
			var groups int64
			if err := tx.Model(&entity.ChatGroup{}).Where("uuid = ?", message.GroupUUID).Count(&groups).Error; err != nil {
				return err
			}
			if groups == 0 {
				return ErrNotFound
			}
			member, err := isMember(tx, message.GroupUUID, message.SenderUUID)
			if err != nil {
				return err
			}
			if !member {
				return ErrNotMember
			}
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		message.Epoch = newEpoch
		epoch = newEpoch

		return tx.Omit(clause.Associations).Create(message).Error
	})

	return epoch, err
}

func (repo *SQLiteMessageRepository) GetByUUID(uuid string) (*entity.Message, error) {
	var message entity.Message
	err := repo.db.Preload("ReadBy").Where("uuid = ?", uuid).First(&message).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &message, nil
}

func (repo *SQLiteMessageRepository) GetChat(chatID string) ([]*entity.Message, error) {
	var messages []*entity.Message
	err := repo.db.Preload("ReadBy").
		Where("chat_id = ?", chatID).
		Order("created_at ASC").Order("rowid ASC").
		Find(&messages).Error
	return messages, err
}

func (repo *SQLiteMessageRepository) Hydrate(message *entity.Message) error {
	var sender entity.User
	if err := repo.db.Where("uuid = ?", message.SenderUUID).First(&sender).Error; err != nil {
		return notFound(err)
	}
	message.Sender = &sender

	if message.ReceiverUUID != "" {
		var receiver entity.User
		if err := repo.db.Where("uuid = ?", message.ReceiverUUID).First(&receiver).Error; err != nil {
			return notFound(err)
		}
		message.Receiver = &receiver
	}
	if message.GroupUUID != "" {
		var group entity.ChatGroup
		if err := repo.db.Where("uuid = ?", message.GroupUUID).First(&group).Error; err != nil {
			return notFound(err)
		}
		message.Group = &group
	}
	return nil
}

func (repo *SQLiteMessageRepository) Delete(uuid string, check func(*entity.Message) error) (uint64, error) {
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		var message entity.Message
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("uuid = ?", uuid).First(&message).Error; err != nil {
			return notFound(err)
		}
		if err := check(&message); err != nil {
			return err
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch

		if err := tx.Where("message_uuid = ?", uuid).Delete(&entity.ReadReceipt{}).Error; err != nil {
			return err
		}
		return tx.Where("uuid = ?", uuid).Delete(&entity.Message{}).Error
	})
	return epoch, err
}

func (repo *SQLiteMessageRepository) AddReadReceipt(messageUUID, readerUUID string, at time.Time) (bool, uint64, error) {
	added := false
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		var messages int64
		if err := tx.Model(&entity.Message{}).Where("uuid = ?", messageUUID).Count(&messages).Error; err != nil {
			return err
		}
		if messages == 0 {
			// Unsent in the meantime, nothing to acknowledge
			return nil
		}

		receipt := entity.ReadReceipt{MessageUUID: messageUUID, ReaderUUID: readerUUID, ReadAt: at}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		added = true
		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch
		return nil
	})
	return added, epoch, err
}

func (repo *SQLiteMessageRepository) MarkChatRead(chatID, readerUUID string, at time.Time) (int64, uint64, error) {
	var marked int64 = 0
	var epoch uint64 = 0
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`INSERT OR IGNORE INTO read_receipts (message_uuid, reader_uuid, read_at)
			SELECT m.uuid, ?, ? FROM messages m
			WHERE m.chat_id = ? AND m.sender_uuid <> ?
			AND NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_uuid = m.uuid AND r.reader_uuid = ?)`,
			readerUUID, at, chatID, readerUUID, readerUUID)
		if res.Error != nil {
			return res.Error
		}
		marked = res.RowsAffected
		if marked == 0 {
			return nil
		}

		newEpoch, err := nextEpoch(tx)
		if err != nil {
			return err
		}
		epoch = newEpoch
		return nil
	})
	return marked, epoch, err
}

type unreadRow struct {
	Target string
	Count  int64
}

func (repo *SQLiteMessageRepository) UnreadByPeer(userUUID string) (map[string]int64, error) {
	var rows []unreadRow
	err := repo.db.Raw(`SELECT m.sender_uuid AS target, COUNT(*) AS count FROM messages m
		WHERE m.receiver_uuid = ? AND m.group_uuid = '' AND m.sender_uuid <> ?
		AND NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_uuid = m.uuid AND r.reader_uuid = ?)
		GROUP BY m.sender_uuid`, userUUID, userUUID, userUUID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toCounts(rows), nil
}

func (repo *SQLiteMessageRepository) UnreadByGroup(userUUID string) (map[string]int64, error) {
	var rows []unreadRow
	err := repo.db.Raw(`SELECT m.group_uuid AS target, COUNT(*) AS count FROM messages m
		WHERE m.group_uuid IN (SELECT gm.chat_group_uuid FROM group_members gm WHERE gm.user_uuid = ?)
		AND m.sender_uuid <> ?
		AND NOT EXISTS (SELECT 1 FROM read_receipts r WHERE r.message_uuid = m.uuid AND r.reader_uuid = ?)
		GROUP BY m.group_uuid`, userUUID, userUUID, userUUID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toCounts(rows), nil
}

func toCounts(rows []unreadRow) map[string]int64 {
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Target] = row.Count
	}
	return counts
}
