/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package main

import (
	"bufio"
	"chatsync/internal/client"
	"chatsync/internal/entity"
	"chatsync/internal/health"
	"chatsync/internal/middleware"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "Base URL of the chat node")
	cookie := flag.String("cookie", "", "Value of the "+middleware.SessionName+" cookie")
	user := flag.String("user", "", "UUID of the signed in user")
	peer := flag.String("peer", "", "Watch the direct chat with this user")
	group := flag.String("group", "", "Watch this group chat")
	interval := flag.Duration("interval", time.Second, "Snapshot pull interval")
	check := flag.String("check", "", "Only query the gRPC health endpoint at host:port and exit")
	verbose := flag.Bool("v", false, "Log sync activity on stderr")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *check != "" {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		status, err := health.Check(checkCtx, *check, health.ServiceChat)
		if err != nil {
			fail("Health check failed: %v", err)
		}
		fmt.Println(status)
		return
	}

	target := realtime.Target{ReceiverID: *peer, GroupID: *group}
	if err := target.Validate(); err != nil {
		fail("Pick exactly one of -peer and -group")
	}
	if *user == "" {
		fail("-user is required")
	}

	logger := nlog.NewWriterLogger(0, *verbose, os.Stderr)
	go logger.Run(ctx)
	syncLogger := logger.RegisterSubsystem("sync")

	c, err := client.New(*server, middleware.SessionName, *cookie)
	if err != nil {
		fail("Bad server address: %v", err)
	}

	var chatID string
	var pull client.PullFunc
	if target.IsGroup() {
		chatID = *group
		pull = func(ctx context.Context) ([]*entity.Message, uint64, error) { return c.GroupSnapshot(ctx, *group) }
	} else {
		chatID = entity.DirectChatID(*user, *peer)
		pull = func(ctx context.Context) ([]*entity.Message, uint64, error) { return c.DirectSnapshot(ctx, *peer) }
	}

	// Without the push connection the watcher still converges by polling
	var events <-chan realtime.Event
	send := func(realtime.Signal) error { return nil }
	socket, err := c.Dial(ctx)
	if err != nil {
		syncLogger.Logf("Push connection unavailable, polling only {%v}", err)
	} else {
		defer socket.Close()
		send = socket.Signal
		if err := socket.Signal(realtime.Signal{Type: realtime.SignalRegister, UserID: *user}); err != nil {
			syncLogger.Logf("Could not register {%v}", err)
		}
		if target.IsGroup() {
			if err := socket.Signal(realtime.Signal{Type: realtime.SignalJoinGroup, UserID: *user, GroupID: *group}); err != nil {
				syncLogger.Logf("Could not join the group room {%v}", err)
			}
		}
		events = watchTyping(socket.Events(), *user)
	}

	syncer := client.NewSyncer(chatID, pull, *interval, syncLogger)
	printed := make(map[string]bool)
	syncer.OnChange(func(messages []*entity.Message) {
		for _, m := range messages {
			if printed[m.UUID] {
				continue
			}
			printed[m.UUID] = true
			printMessage(m)
		}
	})
	go syncer.Run(ctx, events)

	throttle := client.NewTypingThrottle(*user, send, time.Now)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			throttle.Keystroke(target)
			if _, err := c.Send(ctx, target, line, ""); err != nil {
				fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			}
			throttle.Clear(target)
		}
	}
}

// watchTyping prints typing indicators and forwards every other event
func watchTyping(in <-chan realtime.Event, self string) <-chan realtime.Event {
	out := make(chan realtime.Event, 16)
	go func() {
		defer close(out)
		for ev := range in {
			switch ev.Type {
			case realtime.EventUserTyping, realtime.EventUserStoppedTyping:
				var p realtime.TypingPayload
				if err := ev.Decode(&p); err == nil && p.UserID != self {
					fmt.Printf("* %s %s\n", nameOf(p), typingVerb(ev.Type))
				}
			case realtime.EventError:
				var p realtime.ErrorPayload
				if err := ev.Decode(&p); err == nil {
					fmt.Fprintf(os.Stderr, "Signal %s refused: %s\n", p.Signal, p.Error)
				}
			default:
				out <- ev
			}
		}
	}()
	return out
}

func nameOf(p realtime.TypingPayload) string {
	if p.Username != "" {
		return p.Username
	}
	return p.UserID
}

func typingVerb(typ realtime.EventType) string {
	if typ == realtime.EventUserTyping {
		return "is typing..."
	}
	return "stopped typing"
}

func printMessage(m *entity.Message) {
	sender := m.SenderUUID
	if m.Sender != nil && m.Sender.Username != "" {
		sender = m.Sender.Username
	}
	body := m.Content
	if body == "" {
		body = "[image] " + m.ImageURL
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), sender, body)
}

func fail(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
