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
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrNotMember = errors.New("user is not a member of the group")
)

// This repository holds the system Epoch, that is, a counter that is used to trace where we are in time.
// Each write means incrementing the epoch, so it traces how many changes the system has endured.
type GlobalRepository interface {
	Create(*entity.SystemState) error             // Creates a system state
	GetSystemState() (*entity.SystemState, error) // Retrieves the system state
	GetCurrentEpoch() (uint64, error)             // Retrieves the epoch from the system state
}

// Implementation of the repository using a SQLite DB
type SQLiteGlobalRepository struct {
	db *gorm.DB
}

func NewSQLiteGlobalRepository(db *gorm.DB) GlobalRepository {
	return &SQLiteGlobalRepository{db}
}

func (g *SQLiteGlobalRepository) Create(e *entity.SystemState) error {
	return g.db.Create(e).Error
}

func (g *SQLiteGlobalRepository) GetSystemState() (*entity.SystemState, error) {
	var state *entity.SystemState
	err := g.db.First(&state, 1).Error
	return state, err
}

func (g *SQLiteGlobalRepository) GetCurrentEpoch() (uint64, error) {
	state, err := g.GetSystemState()
	if err != nil {
		return 0, err
	}
	return state.CurrentEpoch, nil
}

// nextEpoch locks the system state inside tx, increments it and returns the new value.
// Every write transaction calls it exactly once.
func nextEpoch(tx *gorm.DB) (uint64, error) {
	var state entity.SystemState
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&state, 1).Error; err != nil {
		return 0, err
	}
	state.CurrentEpoch++
	if err := tx.Save(&state).Error; err != nil {
		return 0, err
	}
	return state.CurrentEpoch, nil
}

// notFound maps gorm's missing record error onto ErrNotFound
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
