/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package nlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Logger is something that can print, using Logf, a format string
type Logger interface {
	Logf(format string, v ...any)
}

// subsystemLogger is a logger bound to one subsystem of its ServerLogger
type subsystemLogger struct {
	subsystem string
	logger    *ServerLogger
}

// Logf for a subsystem logger is just a wrap for the Logf of its internal logger, giving its subsystem name
func (s *subsystemLogger) Logf(format string, v ...any) {
	s.logger.Logf(s.subsystem, format, v...)
}

// logEntry is an helper struct that can be used to send a couple (subsystem, formatted string) onto the log channel
type logEntry struct {
	subsystem string
	formatted string
}

// ServerLogger writes the records of many subsystems through a single slog handler.
// Records are queued on an inbox and written by Run, so Logf never blocks a request handler.
// It's safe to share amongst goroutines since it has an internal lock
type ServerLogger struct {
	nodeId uint64 // Id of the node, attached to every record

	handlers map[string]*slog.Logger // Maps a subsystem to its logger
	file     *os.File                // Log file, nil when writing to stdout

	lock    sync.RWMutex
	enabled bool // When false, records are discarded by the writer

	inbox   chan logEntry // Log channel, formatted strings are sent here instead of directly writing
	dropped uint64        // Entries lost because the inbox was full (guarded by lock)

	out *slog.Logger
}

// NewServerLogger creates a logger writing JSON records to folder/server.log.
// An empty folder means stdout.
func NewServerLogger(nodeId uint64, logging bool, folder string) (*ServerLogger, error) {
	var w io.Writer = os.Stdout
	var file *os.File
	if folder != "" {
		if err := os.MkdirAll(folder, 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(folder, "server.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return nil, err
		}
		w, file = f, f
	}
	return newServerLogger(nodeId, logging, w, file), nil
}

// NewWriterLogger creates a logger writing JSON records to w
func NewWriterLogger(nodeId uint64, logging bool, w io.Writer) *ServerLogger {
	return newServerLogger(nodeId, logging, w, nil)
}

func newServerLogger(nodeId uint64, logging bool, w io.Writer, file *os.File) *ServerLogger {
	out := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &ServerLogger{
		nodeId:   nodeId,
		handlers: make(map[string]*slog.Logger),
		file:     file,
		enabled:  logging,
		inbox:    make(chan logEntry, 600),
		out:      out.With("node", nodeId),
	}
}

// RegisterSubsystem creates the logger of a subsystem and returns it
func (n *ServerLogger) RegisterSubsystem(subsystem string) Logger {
	n.lock.Lock()
	defer n.lock.Unlock()

	if _, ok := n.handlers[subsystem]; !ok {
		n.handlers[subsystem] = n.out.With("subsystem", subsystem)
	}
	return &subsystemLogger{subsystem, n}
}

// GetSubsystemLogger returns the logger of an already registered subsystem
func (n *ServerLogger) GetSubsystemLogger(subsystem string) (Logger, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()

	if _, ok := n.handlers[subsystem]; !ok {
		return nil, fmt.Errorf("The subsystem was not registered {%s}", subsystem)
	}
	return &subsystemLogger{subsystem, n}, nil
}

func (n *ServerLogger) EnableLogging() {
	n.lock.Lock()
	n.enabled = true
	n.lock.Unlock()
}
func (n *ServerLogger) DisableLogging() {
	n.lock.Lock()
	n.enabled = false
	n.lock.Unlock()
}

// Logf queues a record for subsystem. When the inbox is full the record is dropped.
func (n *ServerLogger) Logf(subsystem, format string, v ...any) {
	select {
	case n.inbox <- logEntry{subsystem, fmt.Sprintf(format, v...)}:
	default:
		n.lock.Lock()
		n.dropped++
		n.lock.Unlock()
	}
}

// Dropped returns how many records were lost to a full inbox
func (n *ServerLogger) Dropped() uint64 {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.dropped
}

// Run writes queued records until ctx is done, then flushes what is left
func (n *ServerLogger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return
		case msg := <-n.inbox:
			n.actualWrite(msg.subsystem, msg.formatted)
		}
	}
}

func (n *ServerLogger) drain() {
	for {
		select {
		case msg := <-n.inbox:
			n.actualWrite(msg.subsystem, msg.formatted)
		default:
			return
		}
	}
}

func (n *ServerLogger) actualWrite(subsystem, formatted string) error {
	n.lock.RLock()
	enabled := n.enabled
	logger, ok := n.handlers[subsystem]
	n.lock.RUnlock()

	if !ok {
		return fmt.Errorf("Logger is not setup for this subsystem")
	}
	if enabled {
		logger.Info(formatted)
	}
	return nil
}

// Close syncs and closes the log file, if any
func (n *ServerLogger) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.file != nil {
		n.file.Sync()
		n.file.Close()
		n.file = nil
	}
	clear(n.handlers)
}

// Discard is a Logger that prints nothing
type Discard struct{}

func (Discard) Logf(string, ...any) {}
