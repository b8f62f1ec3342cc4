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
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service used to handle groups and user-group interaction
type GroupService interface {
	CreateGroup(name, creatorUUID string, memberUUIDs []string) (*entity.ChatGroup, uint64, error) // Creates a new group. The creator is always a member and the member list is deduplicated.
	DeleteGroup(requesterUUID, uuid string) (uint64, error)                                        // Deletes the group with the given uuid. Only its creator can.

	GetGroupByUUID(requesterUUID, uuid string) (*entity.ChatGroup, uint64, error) // Returns the group, with its members, if the requester is one of them
	GetGroupsForUser(userUUID string) ([]*entity.ChatGroup, uint64, error)        // Returns the groups the user is in

	GetGroupMembers(requesterUUID, uuid string) ([]*entity.User, uint64, error) // Returns the members of the group, if the requester is one of them
	AddGroupUser(requesterUUID, uuid, userUUID string) (uint64, error)          // Adds a user to a group. The requester must be a member.
	RemoveGroupUser(requesterUUID, uuid, userUUID string) (uint64, error)       // Removes a user from a group. Members can remove themselves, the creator can remove anyone but itself.

	IsMember(groupUUID, userUUID string) (bool, error) // Tells whether the user is in the group
}

// RoomNotifier keeps the live group rooms in step with the memberships
type RoomNotifier interface {
	EvictUser(groupUUID, userUUID string) int
	CloseRoom(groupUUID string) int
}

type localGroupService struct {
	logger           nlog.Logger                 // Logs a format string
	rooms            RoomNotifier                // Nil until SetRoomNotifier
	groupRepository  repository.GroupRepository  // Repository for groups
	userRepository   repository.UserRepository   // Repository for users
	globalRepository repository.GlobalRepository // Repository for a global state
}

func NewGroupService(groupRepo repository.GroupRepository, userRepo repository.UserRepository, globalRepo repository.GlobalRepository, logger nlog.Logger) *localGroupService {
	return &localGroupService{
		logger:           logger,
		groupRepository:  groupRepo,
		userRepository:   userRepo,
		globalRepository: globalRepo,
	}
}

// SetRoomNotifier sets who is told about removed members and deleted groups.
// The hub needs the service to check memberships, so it is set after construction.
func (g *localGroupService) SetRoomNotifier(rooms RoomNotifier) {
	g.rooms = rooms
}

func (g *localGroupService) Logf(format string, v ...any) {
	g.logger.Logf(format, v...)
}

func (g *localGroupService) CreateGroup(name, creatorUUID string, memberUUIDs []string) (*entity.ChatGroup, uint64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, 0, fmt.Errorf("%w: group name is empty", ErrValidation)
	}

	uuids := dedupe(append([]string{creatorUUID}, memberUUIDs...))
	members, err := g.userRepository.GetByUUIDs(uuids)
	if err != nil {
		return nil, 0, err
	}
	if len(members) != len(uuids) {
		return nil, 0, fmt.Errorf("%w: %d of the %d members do not exist", ErrNotFound, len(uuids)-len(members), len(uuids))
	}

	group := &entity.ChatGroup{
		UUID:        uuid.New().String(),
		Name:        name,
		CreatorUUID: creatorUUID,
		CreatedAt:   time.Now(),
		Members:     members,
	}
	newEpoch, err := g.groupRepository.Create(group)
	if err != nil {
		return nil, 0, err
	}
	g.Logf("Group %s created by %s with %d members", group.UUID, creatorUUID, len(members))
	return group, newEpoch, nil
}

func (g *localGroupService) DeleteGroup(requesterUUID, uuid string) (uint64, error) {
	group, err := g.groupRepository.GetByUUID(uuid)
	if err != nil {
		return 0, translate(err)
	}
	if group.CreatorUUID != requesterUUID {
		return 0, fmt.Errorf("%w: only the creator can delete group %s", ErrForbidden, uuid)
	}

	newEpoch, err := g.groupRepository.Delete(uuid)
	if err != nil {
		return 0, translate(err)
	}
	g.Logf("Group %s deleted", uuid)
	if g.rooms != nil {
		g.rooms.CloseRoom(uuid)
	}
	return newEpoch, nil
}

func (g *localGroupService) GetGroupByUUID(requesterUUID, uuid string) (*entity.ChatGroup, uint64, error) {
	epoch := g.currentEpoch()
	group, err := g.groupRepository.GetByUUID(uuid)
	if err != nil {
		return nil, 0, translate(err)
	}
	if !group.HasMember(requesterUUID) {
		return nil, 0, fmt.Errorf("%w: user %s is not a member of group %s", ErrForbidden, requesterUUID, uuid)
	}
	g.Logf("Found group: %s", group.Name)
	return group, epoch, nil
}

func (g *localGroupService) GetGroupsForUser(userUUID string) ([]*entity.ChatGroup, uint64, error) {
	epoch := g.currentEpoch()
	groups, err := g.groupRepository.GetForUser(userUUID)
	if err != nil {
		return nil, 0, err
	}
	return groups, epoch, nil
}

func (g *localGroupService) GetGroupMembers(requesterUUID, uuid string) ([]*entity.User, uint64, error) {
	group, epoch, err := g.GetGroupByUUID(requesterUUID, uuid)
	if err != nil {
		return nil, 0, err
	}
	g.Logf("Found %d users in group %s", len(group.Members), uuid)
	return group.Members, epoch, nil
}

func (g *localGroupService) AddGroupUser(requesterUUID, uuid, userUUID string) (uint64, error) {
	if err := g.requireMember(uuid, requesterUUID); err != nil {
		return 0, err
	}
	newEpoch, err := g.groupRepository.AddUser(uuid, userUUID)
	if err != nil {
		return 0, translate(err)
	}
	g.Logf("User %s added to group %s by %s", userUUID, uuid, requesterUUID)
	return newEpoch, nil
}

func (g *localGroupService) RemoveGroupUser(requesterUUID, uuid, userUUID string) (uint64, error) {
	group, err := g.groupRepository.GetByUUID(uuid)
	if err != nil {
		return 0, translate(err)
	}
	if !group.HasMember(requesterUUID) {
		return 0, fmt.Errorf("%w: user %s is not a member of group %s", ErrForbidden, requesterUUID, uuid)
	}
	if userUUID == group.CreatorUUID {
		return 0, fmt.Errorf("%w: the creator cannot leave group %s, delete it instead", ErrForbidden, uuid)
	}
	if requesterUUID != userUUID && requesterUUID != group.CreatorUUID {
		return 0, fmt.Errorf("%w: only the creator can remove other members", ErrForbidden)
	}
	if !group.HasMember(userUUID) {
		return 0, fmt.Errorf("%w: user %s is not in group %s", ErrNotFound, userUUID, uuid)
	}

	newEpoch, err := g.groupRepository.RemoveUser(uuid, userUUID)
	if err != nil {
		return 0, translate(err)
	}
	g.Logf("User %s removed from group %s by %s", userUUID, uuid, requesterUUID)
	if g.rooms != nil {
		g.rooms.EvictUser(uuid, userUUID)
	}
	return newEpoch, nil
}

func (g *localGroupService) IsMember(groupUUID, userUUID string) (bool, error) {
	return g.groupRepository.IsMember(groupUUID, userUUID)
}

func (g *localGroupService) requireMember(groupUUID, userUUID string) error {
	if _, err := g.groupRepository.GetByUUID(groupUUID); err != nil {
		return translate(err)
	}
	ok, err := g.groupRepository.IsMember(groupUUID, userUUID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %s is not a member of group %s", ErrForbidden, userUUID, groupUUID)
	}
	return nil
}

func (g *localGroupService) currentEpoch() uint64 {
	epoch, err := g.globalRepository.GetCurrentEpoch()
	if err != nil {
		return 0
	}
	return epoch
}

// dedupe keeps the first occurrence of every non-empty id
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
