/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package service

import (
	"chatsync/internal/data"
	"chatsync/internal/entity"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type pushed struct {
	user    string
	group   string
	exclude string
	event   realtime.Event
}

// fakeNotifier records pushes. Users in online receive them.
type fakeNotifier struct {
	lock   sync.Mutex
	online map[string]bool
	pushes []pushed
}

func (f *fakeNotifier) NotifyUser(userUUID string, ev realtime.Event) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.online[userUUID] {
		return 0
	}
	f.pushes = append(f.pushes, pushed{user: userUUID, event: ev})
	return 1
}

func (f *fakeNotifier) NotifyRoom(groupUUID, excludeUser string, ev realtime.Event) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.pushes = append(f.pushes, pushed{group: groupUUID, exclude: excludeUser, event: ev})
	return 1
}

type fixture struct {
	storage  *data.StorageManager
	messages *localMessageService
	groups   *localGroupService
	users    *localUserService
	notifier *fakeNotifier
	clock    time.Time
}

func newFixture(t *testing.T, userUUIDs ...string) *fixture {
	t.Helper()
	s, err := data.OpenInMemory(t.Name())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for _, uuid := range userUUIDs {
		if _, err := s.GetUserRepository().Create(&entity.User{UUID: uuid, Username: "user-" + uuid, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("create user %s: %v", uuid, err)
		}
	}

	f := &fixture{storage: s, notifier: &fakeNotifier{online: map[string]bool{}}, clock: time.Now()}
	f.messages = NewMessageService(s.GetMessageRepository(), s.GetGroupRepository(), s.GetUserRepository(), s.GetGlobalRepository(), f.notifier, nlog.Discard{})
	f.messages.SetClock(func() time.Time { return f.clock })
	f.groups = NewGroupService(s.GetGroupRepository(), s.GetUserRepository(), s.GetGlobalRepository(), nlog.Discard{})
	f.users = NewUserService(s.GetUserRepository(), s.GetGlobalRepository(), nlog.Discard{})
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestSendValidatesTargetAndContent(t *testing.T) {
	f := newFixture(t, "a", "b")

	cases := []struct {
		target   realtime.Target
		content  string
		imageURL string
	}{
		{realtime.Target{}, "hi", ""},
		{realtime.Target{ReceiverID: "b", GroupID: "g"}, "hi", ""},
		{realtime.Target{ReceiverID: "b"}, "", ""},
		{realtime.Target{ReceiverID: "b"}, "hi", "img://x"},
		{realtime.Target{ReceiverID: "a"}, "hi", ""},
	}
	for i, c := range cases {
		if _, _, err := f.messages.Send("a", c.target, c.content, c.imageURL); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}

	if _, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "nobody"}, "hi", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing receiver, got %v", err)
	}
}

func TestSendDirectReturnsHydratedMessageAndPushes(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.notifier.online["b"] = true

	msg, epoch, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "hello", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if epoch == 0 || msg.Epoch != epoch {
		t.Errorf("Expected message epoch %d, got %d", epoch, msg.Epoch)
	}
	if msg.Sender == nil || msg.Sender.Username != "user-a" || msg.Receiver == nil {
		t.Errorf("Message is not hydrated: %+v", msg)
	}
	if len(f.notifier.pushes) != 1 || f.notifier.pushes[0].user != "b" || f.notifier.pushes[0].event.Type != realtime.EventNewMessage {
		t.Errorf("Unexpected pushes %+v", f.notifier.pushes)
	}
}

func TestSendToOfflineReceiverStillSucceeds(t *testing.T) {
	f := newFixture(t, "a", "b")

	if _, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "", "img://cat"); err != nil {
		t.Fatalf("send: %v", err)
	}
	messages, _, err := f.messages.GetDM("b", "a")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(messages) != 1 || messages[0].ImageURL != "img://cat" {
		t.Errorf("Receiver should see the message on pull, got %+v", messages)
	}
}

func TestGroupMessageReachesRoomAndSnapshots(t *testing.T) {
	f := newFixture(t, "a", "b", "c", "d")

	group, _, err := f.groups.CreateGroup("G", "a", []string{"b", "c", "b"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if len(group.Members) != 3 {
		t.Errorf("Expected 3 deduplicated members, got %d", len(group.Members))
	}

	if _, _, err := f.messages.Send("d", realtime.Target{GroupID: group.UUID}, "let me in", ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for a non member, got %v", err)
	}

	msg, _, err := f.messages.Send("a", realtime.Target{GroupID: group.UUID}, "hello group", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var roomPushes int
	for _, p := range f.notifier.pushes {
		if p.group == group.UUID && p.event.Type == realtime.EventNewGroupMessage {
			roomPushes++
			if p.exclude != "" {
				t.Errorf("Group messages exclude nobody, got %q", p.exclude)
			}
		}
	}
	if roomPushes != 1 {
		t.Errorf("Expected one room push, got %d", roomPushes)
	}

	for _, reader := range []string{"b", "c"} {
		messages, _, err := f.messages.GetGroup(reader, group.UUID)
		if err != nil {
			t.Fatalf("snapshot for %s: %v", reader, err)
		}
		if len(messages) != 1 || messages[0].UUID != msg.UUID {
			t.Errorf("%s should see the message on pull, got %d messages", reader, len(messages))
		}
	}
	if _, _, err := f.messages.GetGroup("d", group.UUID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for a non member pull, got %v", err)
	}
	if _, _, err := f.messages.Send("a", realtime.Target{GroupID: "missing"}, "x", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing group, got %v", err)
	}
}

func TestUnsendWindowAndOwnership(t *testing.T) {
	f := newFixture(t, "a", "b")

	msg, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "oops", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	f.advance(10 * time.Second)
	if _, err := f.messages.Unsend("b", msg.UUID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for the receiver, got %v", err)
	}

	f.advance(20 * time.Second)
	if _, err := f.messages.Unsend("a", msg.UUID); err != nil {
		t.Fatalf("unsend at 30s: %v", err)
	}
	for _, viewer := range []string{"a", "b"} {
		messages, _, _ := f.messages.GetDM(viewer, map[string]string{"a": "b", "b": "a"}[viewer])
		if len(messages) != 0 {
			t.Errorf("%s still sees an unsent message", viewer)
		}
	}
	if _, err := f.messages.Unsend("a", msg.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	old, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "too late", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	f.advance(61 * time.Second)
	if _, err := f.messages.Unsend("a", old.UUID); !errors.Is(err, ErrWindowExpired) {
		t.Errorf("Expected ErrWindowExpired at 61s, got %v", err)
	}
}

func TestUnsendWindowBoundary(t *testing.T) {
	f := newFixture(t, "a", "b")

	young, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "just in time", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	f.advance(UnsendWindow - time.Millisecond)
	if _, err := f.messages.Unsend("a", young.UUID); err != nil {
		t.Errorf("Unsend just before the window closes should succeed, got %v", err)
	}

	aged, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "exactly on time", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	f.advance(UnsendWindow)
	if _, err := f.messages.Unsend("a", aged.UUID); !errors.Is(err, ErrWindowExpired) {
		t.Errorf("Expected ErrWindowExpired at exactly %v, got %v", UnsendWindow, err)
	}
}

func TestSnapshotReadFailureKeepsCause(t *testing.T) {
	f := newFixture(t, "a", "b")
	if err := f.storage.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, _, err := f.messages.GetDM("a", "b")
	if err == nil {
		t.Fatalf("Expected an error reading from a closed store")
	}
	for _, sentinel := range []error{ErrValidation, ErrForbidden, ErrNotFound, ErrWindowExpired} {
		if errors.Is(err, sentinel) {
			t.Errorf("A store failure is not %v", sentinel)
		}
	}
	if strings.Contains(err.Error(), "No messages") || !strings.Contains(err.Error(), "closed") {
		t.Errorf("The store error should be reported, got %q", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t, "a", "b")

	msg, _, err := f.messages.Send("a", realtime.Target{ReceiverID: "b"}, "read me", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := f.messages.MarkRead("b", MessageSelector{MessageUUID: msg.UUID}); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
	}
	stored, err := f.storage.GetMessageRepository().GetByUUID(msg.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.ReadBy) != 1 {
		t.Errorf("Expected exactly one receipt, got %d", len(stored.ReadBy))
	}

	if _, _, err := f.messages.MarkRead("b", MessageSelector{MessageUUID: msg.UUID, PeerUUID: "a"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for an ambiguous selector, got %v", err)
	}
	if marked, _, err := f.messages.MarkRead("b", MessageSelector{MessageUUID: "unsent"}); err != nil || marked != 0 {
		t.Errorf("A receipt on a missing message is a no-op, got %d (%v)", marked, err)
	}
}

func TestUnreadCountsNeverIncludeOwnMessages(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	group, _, err := f.groups.CreateGroup("G", "a", []string{"b"})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	sends := []struct {
		from   string
		target realtime.Target
	}{
		{"a", realtime.Target{ReceiverID: "b"}},
		{"a", realtime.Target{ReceiverID: "b"}},
		{"c", realtime.Target{ReceiverID: "b"}},
		{"b", realtime.Target{ReceiverID: "a"}},
		{"a", realtime.Target{GroupID: group.UUID}},
		{"b", realtime.Target{GroupID: group.UUID}},
	}
	for i, s := range sends {
		if _, _, err := f.messages.Send(s.from, s.target, "m", ""); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	counts, err := f.messages.UnreadCounts("b")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ByPeer["a"] != 2 || counts.ByPeer["c"] != 1 || counts.ByGroup[group.UUID] != 1 {
		t.Errorf("Unexpected counts for b: %+v", counts)
	}

	if _, _, err := f.messages.MarkRead("b", MessageSelector{PeerUUID: "a"}); err != nil {
		t.Fatalf("mark peer: %v", err)
	}
	if _, _, err := f.messages.MarkRead("b", MessageSelector{GroupUUID: group.UUID}); err != nil {
		t.Fatalf("mark group: %v", err)
	}
	counts, _ = f.messages.UnreadCounts("b")
	if _, ok := counts.ByPeer["a"]; ok || counts.ByPeer["c"] != 1 || len(counts.ByGroup) != 0 {
		t.Errorf("Unexpected counts for b after reading: %+v", counts)
	}

	counts, _ = f.messages.UnreadCounts("a")
	if counts.ByPeer["b"] != 1 || counts.ByGroup[group.UUID] != 1 {
		t.Errorf("Unexpected counts for a: %+v", counts)
	}
}

func TestGroupAdministration(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	group, _, err := f.groups.CreateGroup("G", "a", []string{"b"})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	if _, err := f.groups.AddGroupUser("c", group.UUID, "c"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Non members cannot add, got %v", err)
	}
	if _, err := f.groups.AddGroupUser("b", group.UUID, "c"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.groups.RemoveGroupUser("b", group.UUID, "a"); !errors.Is(err, ErrForbidden) {
		t.Errorf("The creator cannot be removed, got %v", err)
	}
	if _, err := f.groups.RemoveGroupUser("b", group.UUID, "c"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Only the creator removes others, got %v", err)
	}
	if _, err := f.groups.RemoveGroupUser("c", group.UUID, "c"); err != nil {
		t.Errorf("Members can leave, got %v", err)
	}
	if ok, _ := f.groups.IsMember(group.UUID, "c"); ok {
		t.Errorf("c should have left")
	}
	if _, err := f.groups.DeleteGroup("b", group.UUID); !errors.Is(err, ErrForbidden) {
		t.Errorf("Only the creator deletes, got %v", err)
	}
	if _, err := f.groups.DeleteGroup("a", group.UUID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := f.groups.GetGroupByUUID("a", group.UUID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, _, err := f.groups.CreateGroup("  ", "a", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for an empty name, got %v", err)
	}
	if _, _, err := f.groups.CreateGroup("H", "a", []string{"ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing member, got %v", err)
	}
}

// roomConn is a live connection as the hub sees it
type roomConn struct {
	id     string
	lock   sync.Mutex
	events []realtime.Event
}

func (c *roomConn) ID() string { return c.id }

func (c *roomConn) Push(ev realtime.Event) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *roomConn) received() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.events)
}

// joinRoom attaches a connection for user and joins the room of group
func joinRoom(t *testing.T, hub *realtime.Hub, user, group string) *roomConn {
	t.Helper()
	c := &roomConn{id: "conn-" + user}
	hub.Attach(c, user, "user-"+user)
	if err := hub.HandleSignal(c, realtime.Signal{Type: realtime.SignalRegister, UserID: user}); err != nil {
		t.Fatalf("register %s: %v", user, err)
	}
	if err := hub.HandleSignal(c, realtime.Signal{Type: realtime.SignalJoinGroup, GroupID: group}); err != nil {
		t.Fatalf("join %s: %v", user, err)
	}
	return c
}

func TestRemovedMemberStopsReceivingGroupPushes(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	hub := realtime.NewHub("node-1", f.groups, nlog.Discard{})
	f.groups.SetRoomNotifier(hub)
	messages := NewMessageService(f.storage.GetMessageRepository(), f.storage.GetGroupRepository(), f.storage.GetUserRepository(), f.storage.GetGlobalRepository(), hub, nlog.Discard{})

	group, _, err := f.groups.CreateGroup("G", "a", []string{"b", "c"})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	b := joinRoom(t, hub, "b", group.UUID)
	c := joinRoom(t, hub, "c", group.UUID)

	if _, err := f.groups.RemoveGroupUser("a", group.UUID, "b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, err := messages.Send("a", realtime.Target{GroupID: group.UUID}, "after b left", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	if b.received() != 0 {
		t.Errorf("Removed member b received %d pushes after removal", b.received())
	}
	if c.received() != 1 {
		t.Errorf("Member c should still get the push, got %d", c.received())
	}
	// Typing from a current member must not reach b either
	if err := hub.HandleSignal(c, realtime.Signal{Type: realtime.SignalTyping, GroupID: group.UUID}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if b.received() != 0 {
		t.Errorf("Removed member b received a typing event")
	}
	if err := hub.HandleSignal(b, realtime.Signal{Type: realtime.SignalTyping, GroupID: group.UUID}); !errors.Is(err, realtime.ErrNotInRoom) {
		t.Errorf("b should be out of the room, got %v", err)
	}
}

func TestDeletedGroupClosesRoom(t *testing.T) {
	f := newFixture(t, "a", "b")
	hub := realtime.NewHub("node-1", f.groups, nlog.Discard{})
	f.groups.SetRoomNotifier(hub)

	group, _, err := f.groups.CreateGroup("G", "a", []string{"b"})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	joinRoom(t, hub, "a", group.UUID)
	joinRoom(t, hub, "b", group.UUID)

	if _, err := f.groups.DeleteGroup("a", group.UUID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := hub.Rooms().Size(group.UUID); n != 0 {
		t.Errorf("The room of a deleted group should be empty, got %d connections", n)
	}
}

func TestFriendRequests(t *testing.T) {
	f := newFixture(t, "a", "b")

	if _, err := f.users.SendFriendRequest("a", "a"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for self, got %v", err)
	}
	if _, err := f.users.SendFriendRequest("a", "b"); err != nil {
		t.Fatalf("request: %v", err)
	}
	// b asking back settles both requests
	if _, err := f.users.SendFriendRequest("b", "a"); err != nil {
		t.Fatalf("crossed request: %v", err)
	}

	a, _, err := f.users.GetUserByUUID("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(a.Friends) != 1 || a.Friends[0] != "b" || len(a.PendingRequests) != 0 {
		t.Errorf("Unexpected state of a: %+v", a)
	}
	if _, err := f.users.SendFriendRequest("a", "b"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for friends, got %v", err)
	}
	if _, err := f.users.RejectFriendRequest("a", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound without a pending request, got %v", err)
	}
	if _, err := f.users.RemoveFriend("b", "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.users.MarkRequestsSeen("b"); err != nil {
		t.Fatalf("seen: %v", err)
	}
}
