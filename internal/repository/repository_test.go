/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package repository_test

import (
	"chatsync/internal/data"
	"chatsync/internal/entity"
	"chatsync/internal/repository"
	"errors"
	"testing"
	"time"
)

func newStorage(t *testing.T) *data.StorageManager {
	t.Helper()
	s, err := data.OpenInMemory(t.Name())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createUsers(t *testing.T, s *data.StorageManager, uuids ...string) {
	t.Helper()
	for _, uuid := range uuids {
		if _, err := s.GetUserRepository().Create(&entity.User{UUID: uuid, Username: "user-" + uuid, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("create user %s: %v", uuid, err)
		}
	}
}

func directMessage(uuid, from, to string, at time.Time) *entity.Message {
	return &entity.Message{
		UUID:         uuid,
		ChatID:       entity.DirectChatID(from, to),
		Content:      "hi " + to,
		CreatedAt:    at,
		SenderUUID:   from,
		ReceiverUUID: to,
	}
}

func TestEveryWriteBumpsTheEpoch(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b")

	before, err := s.GetGlobalRepository().GetCurrentEpoch()
	if err != nil {
		t.Fatalf("epoch: %v", err)
	}
	epoch, err := s.GetMessageRepository().Create(directMessage("m1", "a", "b", time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if epoch != before+1 {
		t.Errorf("Expected epoch %d, got %d", before+1, epoch)
	}

	stored, err := s.GetMessageRepository().GetByUUID("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Epoch != epoch {
		t.Errorf("Message should carry its creation epoch %d, got %d", epoch, stored.Epoch)
	}
}

func TestCreateRefusesInvalidMessage(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b")

	m := directMessage("m1", "a", "b", time.Now())
	m.ImageURL = "img://1"
	if _, err := s.GetMessageRepository().Create(m); !errors.Is(err, entity.ErrMessageContent) {
		t.Errorf("Expected ErrMessageContent, got %v", err)
	}
}

func TestReadReceiptIsAddToSet(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b")
	repo := s.GetMessageRepository()

	if _, err := repo.Create(directMessage("m1", "a", "b", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	added, _, err := repo.AddReadReceipt("m1", "b", time.Now())
	if err != nil || !added {
		t.Fatalf("first receipt: added=%v err=%v", added, err)
	}
	added, _, err = repo.AddReadReceipt("m1", "b", time.Now())
	if err != nil || added {
		t.Errorf("second receipt should be a no-op: added=%v err=%v", added, err)
	}

	m, err := repo.GetByUUID("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(m.ReadBy) != 1 || m.ReadBy[0].ReaderUUID != "b" {
		t.Errorf("Expected exactly one receipt from b, got %+v", m.ReadBy)
	}

	added, _, err = repo.AddReadReceipt("gone", "b", time.Now())
	if err != nil || added {
		t.Errorf("receipt on a missing message should be a no-op: added=%v err=%v", added, err)
	}
}

func TestUnreadCountsSkipOwnAndReadMessages(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b", "c")
	repo := s.GetMessageRepository()
	now := time.Now()

	for i, m := range []*entity.Message{
		directMessage("m1", "a", "b", now),
		directMessage("m2", "a", "b", now.Add(time.Second)),
		directMessage("m3", "c", "b", now.Add(2*time.Second)),
		directMessage("m4", "b", "a", now.Add(3*time.Second)),
	} {
		if _, err := repo.Create(m); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, _, err := repo.AddReadReceipt("m1", "b", now); err != nil {
		t.Fatalf("receipt: %v", err)
	}

	counts, err := repo.UnreadByPeer("b")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if counts["a"] != 1 || counts["c"] != 1 || len(counts) != 2 {
		t.Errorf("Unexpected counts for b: %v", counts)
	}

	counts, err = repo.UnreadByPeer("a")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if counts["b"] != 1 || len(counts) != 1 {
		t.Errorf("Unexpected counts for a: %v", counts)
	}
}

func TestGroupMessagesAndMembership(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b", "c")
	users, err := s.GetUserRepository().GetByUUIDs([]string{"a", "b"})
	if err != nil {
		t.Fatalf("users: %v", err)
	}

	group := &entity.ChatGroup{UUID: "g", Name: "G", CreatorUUID: "a", CreatedAt: time.Now(), Members: users}
	if _, err := s.GetGroupRepository().Create(group); err != nil {
		t.Fatalf("create group: %v", err)
	}

	msg := &entity.Message{UUID: "gm1", ChatID: "g", Content: "hello", CreatedAt: time.Now(), SenderUUID: "c", GroupUUID: "g"}
	if _, err := s.GetMessageRepository().Create(msg); !errors.Is(err, repository.ErrNotMember) {
		t.Errorf("Expected ErrNotMember for c, got %v", err)
	}

	msg.SenderUUID = "a"
	if _, err := s.GetMessageRepository().Create(msg); err != nil {
		t.Fatalf("create group message: %v", err)
	}

	counts, err := s.GetMessageRepository().UnreadByGroup("b")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if counts["g"] != 1 {
		t.Errorf("Expected one unread group message for b, got %v", counts)
	}
	counts, err = s.GetMessageRepository().UnreadByGroup("a")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("Own group messages must not be unread, got %v", counts)
	}

	marked, _, err := s.GetMessageRepository().MarkChatRead("g", "b", time.Now())
	if err != nil || marked != 1 {
		t.Errorf("Expected one message marked, got %d (%v)", marked, err)
	}
	marked, _, err = s.GetMessageRepository().MarkChatRead("g", "b", time.Now())
	if err != nil || marked != 0 {
		t.Errorf("Marking twice should mark nothing, got %d (%v)", marked, err)
	}
}

func TestRemovingLastMemberDeletesGroup(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a")
	users, _ := s.GetUserRepository().GetByUUIDs([]string{"a"})
	groups := s.GetGroupRepository()

	if _, err := groups.Create(&entity.ChatGroup{UUID: "g", Name: "G", CreatorUUID: "a", CreatedAt: time.Now(), Members: users}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := s.GetMessageRepository().Create(&entity.Message{UUID: "gm1", ChatID: "g", Content: "x", CreatedAt: time.Now(), SenderUUID: "a", GroupUUID: "g"}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	if _, err := groups.RemoveUser("g", "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := groups.GetByUUID("g"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected group to be gone, got %v", err)
	}
	if _, err := s.GetMessageRepository().GetByUUID("gm1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected group messages to be gone, got %v", err)
	}
}

func TestAddUserTwiceKeepsOneMembership(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b")
	users, _ := s.GetUserRepository().GetByUUIDs([]string{"a"})
	groups := s.GetGroupRepository()

	if _, err := groups.Create(&entity.ChatGroup{UUID: "g", Name: "G", CreatorUUID: "a", CreatedAt: time.Now(), Members: users}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := groups.AddUser("g", "b"); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	members, err := groups.GetMembers("g")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Expected 2 members, got %d", len(members))
	}
}

func TestDeleteCheckIsAtomic(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b")
	repo := s.GetMessageRepository()
	if _, err := repo.Create(directMessage("m1", "a", "b", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	refused := errors.New("refused")
	if _, err := repo.Delete("m1", func(*entity.Message) error { return refused }); !errors.Is(err, refused) {
		t.Errorf("Expected the check error, got %v", err)
	}
	if _, err := repo.GetByUUID("m1"); err != nil {
		t.Errorf("Refused delete must keep the message, got %v", err)
	}

	if _, err := repo.Delete("m1", func(*entity.Message) error { return nil }); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Delete("m1", func(*entity.Message) error { return nil }); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	s := newStorage(t)
	createUsers(t, s, "a", "b")
	users := s.GetUserRepository()

	if _, err := users.AddFriendRequest("b", "a"); err != nil {
		t.Fatalf("request: %v", err)
	}
	b, err := users.GetByUUID("b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if !b.HasUnseenRequests || len(b.PendingRequests) != 1 || b.PendingRequests[0] != "a" {
		t.Errorf("Unexpected state of b after request: %+v", b)
	}

	if _, err := users.AcceptFriendRequest("b", "a"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		ok, err := users.AreFriends(pair[0], pair[1])
		if err != nil || !ok {
			t.Errorf("Expected %s to list %s as friend (%v)", pair[0], pair[1], err)
		}
	}
	if _, err := users.AcceptFriendRequest("b", "a"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Accepting twice should fail with ErrNotFound, got %v", err)
	}

	if _, err := users.ClearUnseenRequests("b"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := users.RemoveFriend("a", "b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	b, _ = users.GetByUUID("b")
	if b.HasUnseenRequests || len(b.Friends) != 0 {
		t.Errorf("Unexpected state of b at the end: %+v", b)
	}
}
