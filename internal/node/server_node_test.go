/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package node

import (
	"chatsync/internal"
	"chatsync/internal/client"
	"chatsync/internal/health"
	"chatsync/internal/input"
	"chatsync/internal/middleware"
	"chatsync/internal/realtime"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Could not reserve a port: %v", err)
	}
	defer lis.Close()
	return uint16(lis.Addr().(*net.TCPAddr).Port)
}

func testConfig(t *testing.T) *internal.Config {
	return &internal.Config{
		FolderPath:     t.TempDir(),
		NodeId:         7,
		DBName:         "node.db",
		HTTPServerPort: freePort(t),
		HealthPort:     freePort(t),
		ReadTimeout:    5,
		WriteTimeout:   5,
		SecretKey:      "test-secret",
	}
}

func TestStartNeedsContext(t *testing.T) {
	n, err := NewServerNode(testConfig(t))
	if err != nil {
		t.Fatalf("Could not build the node: %v", err)
	}
	defer n.storageMan.Close()

	if err := n.Start(); err == nil {
		t.Errorf("Start without a context should fail")
	}
	if err := n.DefaultContext(); err != nil {
		t.Fatalf("DefaultContext: %v", err)
	}
	if err := n.DefaultContext(); err == nil {
		t.Errorf("A second context should be refused")
	}
}

func TestNodeLifecycle(t *testing.T) {
	cfg := testConfig(t)
	n, err := NewServerNode(cfg)
	if err != nil {
		t.Fatalf("Could not build the node: %v", err)
	}
	n.DisableLogging()

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.SetCustomContext(ctx, cancel); err != nil {
		t.Fatalf("SetCustomContext: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	healthAddr := fmt.Sprintf("127.0.0.1:%d", cfg.HealthPort)
	deadline := time.Now().Add(5 * time.Second)
	for {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		status, err := health.Check(checkCtx, healthAddr, health.ServiceChat)
		checkCancel()
		if err == nil && status == healthpb.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Chat service never became SERVING, last status %v err %v", status, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Every API route sits behind the session check
	var res *http.Response
	for {
		res, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/users/me", cfg.HTTPServerPort))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET /users/me: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a session, got %d", res.StatusCode)
	}

	// A live push connection must be closed by the shutdown
	rr := httptest.NewRecorder()
	id := middleware.Identity{UUID: "alice-uuid", Username: "alice"}
	if err := middleware.IssueSession(input.NewSessionStore(cfg.SecretKey), rr, httptest.NewRequest("POST", "/login", nil), id); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	c, err := client.New(fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTPServerPort), middleware.SessionName, rr.Result().Cookies()[0].Value)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	socket, err := c.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer socket.Close()
	if err := socket.Signal(realtime.Signal{Type: realtime.SignalRegister, UserID: id.UUID}); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	for !n.Hub().Presence().IsOnline(id.UUID) {
		if time.Now().After(deadline) {
			t.Fatalf("alice never came online")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		n.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("Node did not stop")
	}
	if !n.inputMan.IsPaused() {
		t.Errorf("Input should be paused after shutdown")
	}
	if n.Hub().Presence().Count() != 0 {
		t.Errorf("Every push connection should be detached after shutdown")
	}
	if _, err := socket.Next(); err == nil {
		t.Errorf("The push connection should be closed after shutdown")
	}
}
