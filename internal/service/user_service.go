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
	"chatsync/internal/repository"
	"fmt"
)

// Service used to read users and to handle the friend graph
type UserService interface {
	GetUserByUUID(uuid string) (*entity.User, uint64, error) // Returns the user, with its friends and pending requests

	SendFriendRequest(senderUUID, receiverUUID string) (uint64, error)   // Asks receiver to be friends. If receiver already asked sender, the two become friends.
	AcceptFriendRequest(receiverUUID, senderUUID string) (uint64, error) // Accepts a pending request
	RejectFriendRequest(receiverUUID, senderUUID string) (uint64, error) // Drops a pending request
	RemoveFriend(userUUID, friendUUID string) (uint64, error)            // Ends a friendship, for both sides
	MarkRequestsSeen(userUUID string) (uint64, error)                    // Lowers the unseen requests flag
}

type localUserService struct {
	logger           nlog.Logger                 // Logs a format string
	userRepository   repository.UserRepository   // Repository for users
	globalRepository repository.GlobalRepository // Repository for a global state
}

func NewUserService(userRepo repository.UserRepository, globalRepo repository.GlobalRepository, logger nlog.Logger) *localUserService {
	return &localUserService{
		logger:           logger,
		userRepository:   userRepo,
		globalRepository: globalRepo,
	}
}

func (u *localUserService) Logf(format string, v ...any) {
	u.logger.Logf(format, v...)
}

func (u *localUserService) GetUserByUUID(uuid string) (*entity.User, uint64, error) {
	epoch, err := u.globalRepository.GetCurrentEpoch()
	if err != nil {
		epoch = 0
	}
	user, err := u.userRepository.GetByUUID(uuid)
	if err != nil {
		return nil, 0, translate(err)
	}
	return user, epoch, nil
}

func (u *localUserService) SendFriendRequest(senderUUID, receiverUUID string) (uint64, error) {
	if receiverUUID == "" || senderUUID == receiverUUID {
		return 0, fmt.Errorf("%w: cannot befriend yourself", ErrValidation)
	}
	friends, err := u.userRepository.AreFriends(senderUUID, receiverUUID)
	if err != nil {
		return 0, err
	}
	if friends {
		return 0, fmt.Errorf("%w: already friends", ErrValidation)
	}

	sender, err := u.userRepository.GetByUUID(senderUUID)
	if err != nil {
		return 0, translate(err)
	}
	for _, pending := range sender.PendingRequests {
		if pending == receiverUUID {
			u.Logf("Crossed requests between %s and %s, accepting", senderUUID, receiverUUID)
			return u.AcceptFriendRequest(senderUUID, receiverUUID)
		}
	}

	newEpoch, err := u.userRepository.AddFriendRequest(receiverUUID, senderUUID)
	if err != nil {
		return 0, translate(err)
	}
	u.Logf("Friend request from %s to %s", senderUUID, receiverUUID)
	return newEpoch, nil
}

func (u *localUserService) AcceptFriendRequest(receiverUUID, senderUUID string) (uint64, error) {
	newEpoch, err := u.userRepository.AcceptFriendRequest(receiverUUID, senderUUID)
	if err != nil {
		return 0, translate(err)
	}
	u.Logf("%s and %s are now friends", receiverUUID, senderUUID)
	return newEpoch, nil
}

func (u *localUserService) RejectFriendRequest(receiverUUID, senderUUID string) (uint64, error) {
	newEpoch, err := u.userRepository.RejectFriendRequest(receiverUUID, senderUUID)
	if err != nil {
		return 0, translate(err)
	}
	return newEpoch, nil
}

func (u *localUserService) RemoveFriend(userUUID, friendUUID string) (uint64, error) {
	newEpoch, err := u.userRepository.RemoveFriend(userUUID, friendUUID)
	if err != nil {
		return 0, translate(err)
	}
	u.Logf("%s and %s are no longer friends", userUUID, friendUUID)
	return newEpoch, nil
}

func (u *localUserService) MarkRequestsSeen(userUUID string) (uint64, error) {
	newEpoch, err := u.userRepository.ClearUnseenRequests(userUUID)
	if err != nil {
		return 0, translate(err)
	}
	return newEpoch, nil
}
