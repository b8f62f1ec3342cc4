/*
 * Copyright (c) 2026 Francesco Biribo'
 *
 * Permission to use, copy, modify, and distribute this software for any purpose with or without fee is hereby granted, provided that the above copyright notice and this permission notice appear in all copies.
 *
 * THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.
 */

package relay

import (
	"chatsync/internal/nlog"
	"chatsync/internal/realtime"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// Every envelope is published under this topic
const topic = "chat"

// How long Run waits on the poller before checking its context again
const pollTimeout = 250 * time.Millisecond

// Prepends the prefix `tcp://` to address
func getFullAddress(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return fmt.Sprintf("tcp://%s", address)
}

// A Relay connects the hubs of the server processes sharing a database.
// Every node binds a PUB socket and subscribes to the PUB sockets of its peers,
// so a push produced on one node reaches the connections held by the others.
type Relay struct {
	nodeID string

	ctx *zmq.Context

	pub     *zmq.Socket
	pubLock sync.Mutex // ZMQ sockets are not safe for concurrent use

	sub    *zmq.Socket
	poller *zmq.Poller

	logger nlog.Logger
}

// Creates a relay for the node with the given id
func NewRelay(nodeID string, logger nlog.Logger) (*Relay, error) {
	context, err := zmq.NewContext()
	if err != nil {
		return nil, err
	}

	pub, err := context.NewSocket(zmq.PUB)
	if err != nil {
		context.Term()
		return nil, fmt.Errorf("Error during the creation of the publisher ZMQ4 socket for node %s", nodeID)
	}
	pub.SetLinger(0)

	sub, err := context.NewSocket(zmq.SUB)
	if err != nil {
		pub.Close()
		context.Term()
		return nil, fmt.Errorf("Error during the creation of the subscriber ZMQ4 socket for node %s", nodeID)
	}
	sub.SetLinger(0)
	if err := sub.SetSubscribe(topic); err != nil {
		pub.Close()
		sub.Close()
		context.Term()
		return nil, fmt.Errorf("Could not subscribe to topic %s", topic)
	}

	p := zmq.NewPoller()
	p.Add(sub, zmq.POLLIN)

	return &Relay{
		nodeID: nodeID,
		ctx:    context,
		pub:    pub,
		sub:    sub,
		poller: p,
		logger: logger,
	}, nil
}

func (r *Relay) Logf(format string, v ...any) {
	r.logger.Logf(format, v...)
}

// Bind binds the publisher on the given port
func (r *Relay) Bind(port uint16) error {
	return r.BindAddress(fmt.Sprintf("tcp://*:%d", port))
}

// BindAddress binds the publisher on a full zmq endpoint, such as inproc://name
func (r *Relay) BindAddress(endpoint string) error {
	r.pubLock.Lock()
	defer r.pubLock.Unlock()
	if err := r.pub.Bind(endpoint); err != nil {
		return fmt.Errorf("Could not bind the relay on %s", endpoint)
	}
	return nil
}

// ConnectTo subscribes to the publisher of a peer
func (r *Relay) ConnectTo(address string) error {
	if err := r.sub.Connect(getFullAddress(address)); err != nil {
		return fmt.Errorf("Could not connect to %s", address)
	}
	r.Logf("Subscribed to peer %s", address)
	return nil
}

// DisconnectFrom drops the subscription to a peer
func (r *Relay) DisconnectFrom(address string) error {
	if err := r.sub.Disconnect(getFullAddress(address)); err != nil {
		return fmt.Errorf("Could not disconnect from %s", address)
	}
	return nil
}

// Publish sends the envelope to every subscribed peer. Peers that are down miss it.
func (r *Relay) Publish(env realtime.Envelope) error {
	payload, err := Encode(env)
	if err != nil {
		return err
	}

	r.pubLock.Lock()
	defer r.pubLock.Unlock()
	if _, err := r.pub.SendMessage(topic, payload); err != nil {
		return fmt.Errorf("Error during publish of %s envelope: %v", env.Kind, err)
	}
	return nil
}

// Run receives the peers' envelopes and hands them to sink until ctx is done.
// Envelopes carrying this node's id are skipped.
func (r *Relay) Run(ctx context.Context, sink func(realtime.Envelope)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.poll(pollTimeout); err != nil {
			if err != ErrRecvNotReady {
				r.Logf("%v", err)
			}
			continue
		}

		for {
			frames, err := r.recv()
			if err != nil {
				if err != ErrRecvNotReady {
					r.Logf("%v", err)
				}
				break
			}
			env, err := Decode(frames)
			if err != nil {
				r.Logf("Discarding malformed envelope {%v}", err)
				continue
			}
			if env.NodeID == r.nodeID {
				continue
			}
			sink(env)
		}
	}
}

// recv receives a message without blocking.
// When nothing is queued, error is ErrRecvNotReady
func (r *Relay) recv() ([][]byte, error) {
	msg, err := r.sub.RecvMessageBytes(zmq.DONTWAIT)
	if err != nil {
		if isRecvNotReadyError(err) {
			return nil, ErrRecvNotReady
		}
		return nil, fmt.Errorf("Recv network error: %v", err)
	}
	return msg, nil
}

// poll waits up to timeout for a message to be ready.
// ErrRecvNotReady means it timed out, which is normal
func (r *Relay) poll(timeout time.Duration) error {
	sockets, err := r.poller.Poll(timeout)
	if err != nil {
		return fmt.Errorf("Polling error: %v", err)
	}
	if len(sockets) == 0 {
		return ErrRecvNotReady
	}
	return nil
}

// Close closes both sockets and terminates the context. Run must have returned.
func (r *Relay) Close() {
	r.pubLock.Lock()
	r.pub.Close()
	r.pubLock.Unlock()
	r.sub.Close()
	r.ctx.Term()
}

// Encode turns an envelope into the payload frame
func Encode(env realtime.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode reads an envelope out of a (topic, payload) message
func Decode(frames [][]byte) (realtime.Envelope, error) {
	var env realtime.Envelope
	if len(frames) != 2 {
		return env, fmt.Errorf("%w: expected 2 frames, got %d", ErrMalformed, len(frames))
	}
	if string(frames[0]) != topic {
		return env, fmt.Errorf("%w: unknown topic %q", ErrMalformed, frames[0])
	}
	if err := json.Unmarshal(frames[1], &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.NodeID == "" || env.Target == "" {
		return env, fmt.Errorf("%w: missing node id or target", ErrMalformed)
	}
	return env, nil
}

var (
	// Error used for when the poll and recv failed, but not maliciously (they only timed out)
	ErrRecvNotReady = errors.New("No data is avaiable to recv() on the socket")
	ErrMalformed    = errors.New("malformed envelope")
)

// isRecvNotReadyError tells wheter the error err is ErrRecvNotReady
func isRecvNotReadyError(err error) bool {
	var errno zmq.Errno
	if errors.As(err, &errno) {
		return errno == zmq.AsErrno(syscall.EAGAIN)
	}
	return false
}
