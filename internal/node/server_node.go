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
	"chatsync/internal/data"
	"chatsync/internal/health"
	"chatsync/internal/input"
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"chatsync/internal/relay"
	"chatsync/internal/service"
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ServerNode is one chat server process. It owns the storage, the realtime hub,
// the optional relay towards the other processes and the HTTP, websocket and health surfaces.
type ServerNode struct {
	ready  atomic.Bool      // Is node ready?
	config *internal.Config // Config struct
	nodeID string           // Identifier used on the relay

	ctx    context.Context    // Context
	cancel context.CancelFunc // Cancel function

	logger       *nlog.ServerLogger // Logger component
	loggerCancel context.CancelFunc // Stops the logger, last thing on shutdown
	loggerDone   chan struct{}
	mainLogger   nlog.Logger

	storageMan *data.StorageManager // Storage manager
	hub        *realtime.Hub        // Presence, rooms, typing and fan-out
	relay      *relay.Relay         // Nil when no relay port is configured
	health     *health.Server       // gRPC health
	inputMan   *input.InputManager  // HTTP and websocket input

	routines sync.WaitGroup
}

// NewServerNode builds every component of the node from cfg.
// If something can not be built, the pointer is nil and an appropriate error is returned
func NewServerNode(cfg *internal.Config) (*ServerNode, error) {

	nodeID := strconv.FormatUint(cfg.NodeId, 10)
	if cfg.NodeId == 0 {
		nodeID = uuid.New().String()
	}

	logger, err := nlog.NewServerLogger(cfg.NodeId, cfg.EnableLogging, cfg.FolderPath)
	if err != nil {
		return nil, err
	}
	mainLogger := logger.RegisterSubsystem("main")
	httpLogger := logger.RegisterSubsystem("http")
	realtimeLogger := logger.RegisterSubsystem("realtime")
	serviceLogger := logger.RegisterSubsystem("service")
	healthLogger := logger.RegisterSubsystem("health")

	mainLogger.Logf("Configuration loaded: Id{%s}, Ports{HTTP: %d, Health: %d, Relay: %d}", nodeID, cfg.HTTPServerPort, cfg.HealthPort, cfg.RelayPort)

	db, err := data.OpenSQLite(cfg.DBPath())
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("Could not open the database %s {%v}", cfg.DBPath(), err)
	}
	storageMan := data.NewStorageManager(db)

	globalRepo := storageMan.GetGlobalRepository()
	userRepo := storageMan.GetUserRepository()
	messageRepo := storageMan.GetMessageRepository()
	groupRepo := storageMan.GetGroupRepository()

	groupService := service.NewGroupService(groupRepo, userRepo, globalRepo, serviceLogger)
	userService := service.NewUserService(userRepo, globalRepo, serviceLogger)

	hub := realtime.NewHub(nodeID, groupService, realtimeLogger)
	groupService.SetRoomNotifier(hub)
	messageService := service.NewMessageService(messageRepo, groupRepo, userRepo, globalRepo, hub, serviceLogger)

	n := &ServerNode{
		config:     cfg,
		nodeID:     nodeID,
		logger:     logger,
		mainLogger: mainLogger,
		storageMan: storageMan,
		hub:        hub,
		health:     health.NewServer(healthLogger),
	}

	if cfg.RelayPort != 0 {
		if err := n.setupRelay(logger.RegisterSubsystem("relay")); err != nil {
			storageMan.Close()
			logger.Close()
			return nil, err
		}
	}

	n.inputMan = input.NewInputManager()
	n.inputMan.SetLogger(httpLogger)
	n.inputMan.SetSessionStore(input.NewSessionStore(cfg.SecretKey))
	n.inputMan.SetAllowedOrigins(cfg.AllowedOrigins)
	n.inputMan.SetMessageService(messageService)
	n.inputMan.SetGroupService(groupService)
	n.inputMan.SetUserService(userService)
	n.inputMan.SetHub(hub)

	mainLogger.Logf("Node is all set")
	return n, nil
}

// setupRelay binds the relay publisher and subscribes to every configured peer
func (n *ServerNode) setupRelay(logger nlog.Logger) error {
	r, err := relay.NewRelay(n.nodeID, logger)
	if err != nil {
		return err
	}
	if err := r.Bind(n.config.RelayPort); err != nil {
		r.Close()
		return err
	}
	for _, peer := range n.config.RelayPeers {
		if err := r.ConnectTo(peer); err != nil {
			r.Close()
			return err
		}
	}
	n.relay = r
	n.hub.SetRelay(r)
	return nil
}

// DefaultContext sets a default context.
// If successful, error is nil
func (n *ServerNode) DefaultContext() error {
	if n.ready.Load() {
		return fmt.Errorf("A context was already set...")
	}
	n.ready.Store(true)
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return nil
}

// SetCustomContext injects a custom context with a cancel function.
// If successful, error is nil
func (n *ServerNode) SetCustomContext(ctx context.Context, cancel context.CancelFunc) error {
	if n.ready.Load() {
		return fmt.Errorf("A context was already set...")
	}
	n.ready.Store(true)
	n.ctx, n.cancel = ctx, cancel
	return nil
}

// EnableLogging enables the logger, making it so it writes again
func (n *ServerNode) EnableLogging() {
	n.logger.EnableLogging()
}

// DisableLogging disables the logger, making it so it doesn't write
func (n *ServerNode) DisableLogging() {
	n.logger.DisableLogging()
}

// Hub returns the realtime hub of the node
func (n *ServerNode) Hub() *realtime.Hub {
	return n.hub
}

// Start launches every goroutine of the node:
//   - Logger
//   - Typing sweep
//   - Relay receiver, if configured
//   - Health server, if configured
//   - HTTP server
func (n *ServerNode) Start() error {
	if !n.ready.Load() {
		return fmt.Errorf("Node is not ready. Either the default or a custom context must be set.")
	}
	if !n.inputMan.IsReady() {
		return fmt.Errorf("Input manager is not ready... Missing components")
	}

	var loggerCtx context.Context
	loggerCtx, n.loggerCancel = context.WithCancel(context.Background())
	n.loggerDone = make(chan struct{})
	go func() {
		defer close(n.loggerDone)
		n.logger.Run(loggerCtx)
	}()

	n.mainLogger.Logf("Node booting up...")

	n.spawn(func() { n.hub.Run(n.ctx) })

	if n.relay != nil {
		n.spawn(func() {
			n.relay.Run(n.ctx, func(env realtime.Envelope) { n.hub.DeliverRemote(env) })
		})
		n.health.SetServing(health.ServiceRelay, true)
	}

	if n.config.HealthPort != 0 {
		n.spawn(func() {
			if err := n.health.Serve(n.ctx, n.config.HealthPort); err != nil {
				n.mainLogger.Logf("Health server stopped {%v}", err)
			}
		})
	}

	n.spawn(func() {
		if err := n.inputMan.Run(n.ctx, n.getInputManagerConfig()); err != nil {
			n.mainLogger.Logf("HTTP server stopped {%v}", err)
			n.cancel()
		}
	})

	n.health.SetServing(health.ServiceChat, true)
	n.health.SetServing(health.ServiceNode, true)
	n.mainLogger.Logf("Node's goroutines started correctly")
	return nil
}

// Wait blocks until the context is done, then shuts every component down
func (n *ServerNode) Wait() {
	<-n.ctx.Done()
	n.Shutdown()
}

// Shutdown stops the node. It is safe to call once the context is cancelled.
func (n *ServerNode) Shutdown() {
	n.health.SetServing(health.ServiceNode, false)
	n.health.SetServing(health.ServiceChat, false)
	n.inputMan.SetPause(true)
	n.cancel()

	n.routines.Wait()

	// Hijacked websocket handlers outlive the HTTP server, they must be gone before the store closes
	if !n.hub.CloseAll(5 * time.Second) {
		n.mainLogger.Logf("Closing the database with live connections still attached")
	}

	if n.relay != nil {
		n.relay.Close()
	}
	if err := n.storageMan.Close(); err != nil {
		n.mainLogger.Logf("Could not close the database {%v}", err)
	}
	n.mainLogger.Logf("Node stopped. Bye bye")

	if n.loggerCancel != nil {
		n.loggerCancel()
		<-n.loggerDone
	}
	n.logger.Close()
}

func (n *ServerNode) spawn(f func()) {
	n.routines.Add(1)
	go func() {
		defer n.routines.Done()
		f()
	}()
}

// getInputManagerConfig returns a struct with input manager configuration
func (n *ServerNode) getInputManagerConfig() *input.IptConfig {
	return &input.IptConfig{
		ServerPort:   n.config.HTTPServerPort,
		ReadTimeout:  n.config.ReadTimeout,
		WriteTimeout: n.config.WriteTimeout,
		SecretKey:    n.config.SecretKey,
	}
}
