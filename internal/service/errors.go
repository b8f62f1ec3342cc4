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
	"chatsync/internal/repository"
	"errors"
	"fmt"
)

// The failures surfaced to callers. Operations wrap them with details,
// callers compare with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrWindowExpired = errors.New("unsend window expired")
)

// translate maps storage and entity errors onto the taxonomy, leaving the rest untouched
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound), errors.Is(err, ErrWindowExpired):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrNotMember):
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	case errors.Is(err, entity.ErrMessageTarget), errors.Is(err, entity.ErrMessageContent), errors.Is(err, entity.ErrMessageSender):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}
