/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package data

import (
	"chatsync/internal/entity"
	"chatsync/internal/repository"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage manager gathers all the repositories needed for the chat system in a single container.
type StorageManager struct {
	db *gorm.DB // Under the hood we use the SQLite implementation

	// Repositories
	systemRepo  repository.GlobalRepository
	userRepo    repository.UserRepository
	messageRepo repository.MessageRepository
	groupRepo   repository.GroupRepository
}

// OpenSQLite opens (creating if needed) the database at dsn and migrates the schema.
// Cascades are performed by the repositories inside transactions, so no foreign keys are declared.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer anyway, one connection avoids "database is locked"
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&entity.SystemState{},
		&entity.User{},
		&entity.Friendship{},
		&entity.FriendRequest{},
		&entity.ChatGroup{},
		&entity.Message{},
		&entity.ReadReceipt{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func NewStorageManager(db *gorm.DB) *StorageManager {
	s := &StorageManager{db: db}

	s.systemRepo = repository.NewSQLiteGlobalRepository(db)
	s.userRepo = repository.NewSQLiteUserRepository(db)
	s.messageRepo = repository.NewSQLiteMessageRepository(db)
	s.groupRepo = repository.NewSQLiteGroupRepository(db)

	// The epoch row is created once, every write then bumps it
	if _, err := s.systemRepo.GetSystemState(); err != nil {
		newState := entity.SystemState{ID: 1, CurrentEpoch: 0}
		s.systemRepo.Create(&newState)
	}

	return s
}

// OpenInMemory returns a storage manager over a private in-memory database, named so
// that every connection of the pool sees the same data
func OpenInMemory(name string) (*StorageManager, error) {
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		return nil, err
	}
	return NewStorageManager(db), nil
}

func (s *StorageManager) GetGlobalRepository() repository.GlobalRepository {
	return s.systemRepo
}

func (s *StorageManager) GetUserRepository() repository.UserRepository {
	return s.userRepo
}

func (s *StorageManager) GetGroupRepository() repository.GroupRepository {
	return s.groupRepo
}

func (s *StorageManager) GetMessageRepository() repository.MessageRepository {
	return s.messageRepo
}

// Close releases the underlying connection pool
func (s *StorageManager) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
