/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package client

import (
	"chatsync/internal/entity"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type signalLog struct {
	lock    sync.Mutex
	signals []realtime.Signal
}

func (l *signalLog) send(sig realtime.Signal) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.signals = append(l.signals, sig)
	return nil
}

func (l *signalLog) types() []realtime.SignalType {
	l.lock.Lock()
	defer l.lock.Unlock()
	out := make([]realtime.SignalType, 0, len(l.signals))
	for _, s := range l.signals {
		out = append(out, s.Type)
	}
	return out
}

func TestTypingThrottle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	log := &signalLog{}
	throttle := NewTypingThrottle("alice", log.send, clock.Now)
	target := realtime.Target{ReceiverID: "bob"}

	// A burst inside one window sends a single typing signal
	for i := 0; i < 5; i++ {
		throttle.Keystroke(target)
		clock.Advance(300 * time.Millisecond)
	}
	if got := log.types(); len(got) != 1 || got[0] != realtime.SignalTyping {
		t.Fatalf("Expected one typing signal, got %v", got)
	}

	clock.Advance(realtime.TypingRefreshWindow)
	throttle.Keystroke(target)
	if got := len(log.types()); got != 2 {
		t.Fatalf("Expected a refresh after the window, got %d signals", got)
	}

	throttle.Clear(target)
	throttle.Clear(target)
	got := log.types()
	if len(got) != 3 || got[2] != realtime.SignalStopTyping {
		t.Fatalf("Expected a single stopTyping, got %v", got)
	}
	if sig := log.signals[2]; sig.UserID != "alice" || sig.ReceiverID != "bob" || sig.GroupID != "" {
		t.Errorf("stopTyping carries the wrong target: %+v", sig)
	}

	// Targets are throttled independently
	throttle.Keystroke(realtime.Target{GroupID: "g1"})
	throttle.Keystroke(target)
	if got := len(log.types()); got != 5 {
		t.Errorf("Expected two more typing signals, got %d total", got)
	}
}

func message(uuid string, epoch uint64, at time.Time) *entity.Message {
	return &entity.Message{UUID: uuid, ChatID: "chat", SenderUUID: "alice", Content: uuid, Epoch: epoch, CreatedAt: at}
}

func pushOf(t *testing.T, typ realtime.EventType, m *entity.Message) realtime.Event {
	t.Helper()
	ev, err := realtime.NewEvent(typ, m)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestSyncerPullAndPush(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []*entity.Message{message("m1", 1, base), message("m2", 2, base.Add(time.Second))}
	pull := func(ctx context.Context) ([]*entity.Message, uint64, error) {
		return snapshot, 2, nil
	}

	s := NewSyncer("chat", pull, time.Hour, nlog.Discard{})
	changes := 0
	s.OnChange(func([]*entity.Message) { changes++ })

	if err := s.Pull(context.Background()); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if s.Conversation().Len() != 2 || changes != 1 {
		t.Fatalf("Expected 2 messages after one change, got %d after %d", s.Conversation().Len(), changes)
	}

	s.Push(pushOf(t, realtime.EventNewMessage, message("m3", 3, base.Add(2*time.Second))))
	other := message("x", 4, base)
	other.ChatID = "another-chat"
	s.Push(pushOf(t, realtime.EventNewMessage, other))
	s.Push(realtime.Event{Type: realtime.EventUserTyping, Payload: json.RawMessage(`{"userId":"bob"}`)})

	got := s.Conversation().Messages()
	if len(got) != 3 || got[2].UUID != "m3" {
		t.Fatalf("Expected m1 m2 m3, got %d messages", len(got))
	}
	if changes != 2 {
		t.Errorf("Only the push of this chat should count as a change, got %d", changes)
	}
}

func TestSyncerRunSurvivesClosedEvents(t *testing.T) {
	var lock sync.Mutex
	pulls := 0
	pull := func(ctx context.Context) ([]*entity.Message, uint64, error) {
		lock.Lock()
		defer lock.Unlock()
		pulls++
		if pulls == 1 {
			return nil, 0, errors.New("node down")
		}
		return []*entity.Message{message("m1", 1, time.Now())}, uint64(pulls), nil
	}

	s := NewSyncer("chat", pull, 10*time.Millisecond, nlog.Discard{})
	events := make(chan realtime.Event)
	close(events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, events)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.Conversation().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Polling never recovered after the first failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestClientSendsSessionAndMapsStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /messages/direct/{peer}", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("auth-session"); err != nil || c.Value != "opaque" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "not logged in"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []*entity.Message{message("m1", 5, time.Now())},
			"epoch":    9,
		})
	})
	mux.HandleFunc("DELETE /messages/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "unsend window expired"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, err := New(server.URL, "auth-session", "opaque")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	messages, epoch, err := c.DirectSnapshot(context.Background(), "bob")
	if err != nil {
		t.Fatalf("DirectSnapshot: %v", err)
	}
	if len(messages) != 1 || epoch != 9 {
		t.Errorf("Expected one message at epoch 9, got %d at %d", len(messages), epoch)
	}

	err = c.Unsend(context.Background(), "m1")
	if !errors.Is(err, ErrStatus) {
		t.Errorf("Expected ErrStatus, got %v", err)
	}

	anonymous, _ := New(server.URL, "auth-session", "")
	if _, _, err := anonymous.DirectSnapshot(context.Background(), "bob"); !errors.Is(err, ErrStatus) {
		t.Errorf("Expected ErrStatus without a session, got %v", err)
	}
}
