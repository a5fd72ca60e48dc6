// Package conn implements the Connection object (spec §4.4): one live
// socket, its dynamic session attribute bag, its channel subscriptions,
// and its bounded send/receive queues.
//
// Adapted from the teacher's session domain (internal/domain/session):
// the mutex-guarded record-with-lifecycle shape survives, but a
// Connection now represents one live WebSocket actor rather than an
// authenticated login session with a TTL — there is no expiry here, only
// the CONNECTING/OPEN/CLOSING/CLOSED state machine spec §3 describes.
package conn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/riptide-ws/riptide/pkg/riptide"
)

// State is the connection lifecycle state machine from spec §3.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultSendBuffer is the default bounded outbound queue capacity
// (spec §3: "a bounded outbound send buffer (default capacity 128
// packets)").
const DefaultSendBuffer = 128

// DefaultRecvQueue is the default inbound pull-queue capacity for
// handlers that prefer pull over push (spec §6's packet_qsize).
const DefaultRecvQueue = 128

// OverflowPolicy governs what Send does when the outbound buffer is full.
type OverflowPolicy int

const (
	// OverflowBlock blocks the caller until the buffer drains (the spec's
	// default).
	OverflowBlock OverflowPolicy = iota
	// OverflowDropOldest discards the oldest queued packet to make room.
	OverflowDropOldest
)

// Writer abstracts the underlying transport's write side so this package
// has no hard dependency on a specific websocket library in its core
// logic (the gorilla/websocket adapter implements this in
// internal/service).
type Writer interface {
	WriteMessage(codec riptide.Codec, p riptide.Packet) error
	Close(code int, reason string) error
}

// WebSocket close codes the spec names explicitly (spec §6): CloseNormal
// for an ordinary teardown, ClosePolicyViolation when a connection is
// dropped for breaking a server-enforced rule (e.g. a rate limit
// configured with disconnect_on_exceed), and CloseTryAgainLater when a
// connection is refused after the handshake because the server is
// temporarily unable to admit it.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseTryAgainLater   = 1013
)

// Connection owns one live socket. It has no exported fields: the spec's
// "immutable" attributes are read through ID and RemoteAddress, and
// everything else is accessed through methods so concurrent access stays
// safe.
type Connection struct {
	id            string
	remoteAddress string

	mu    sync.RWMutex
	state State

	attrMu sync.RWMutex
	attrs  map[string]any

	chanMu   sync.Mutex
	channels map[string]struct{}

	outbound chan riptide.Packet
	inbound  chan riptide.Packet

	overflow OverflowPolicy
	writer   Writer
	codec    riptide.Codec

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Connection in the CONNECTING state. writer/codec may be
// nil for unit tests that only exercise the session bag / channel
// bookkeeping; with a nil writer, sent packets simply stay in the outbound
// channel, where Outbound exposes them.
func New(remoteAddress string, writer Writer, codec riptide.Codec) *Connection {
	return &Connection{
		id:            uuid.NewString(),
		remoteAddress: remoteAddress,
		state:         StateConnecting,
		attrs:         make(map[string]any),
		channels:      make(map[string]struct{}),
		outbound:      make(chan riptide.Packet, DefaultSendBuffer),
		inbound:       make(chan riptide.Packet, DefaultRecvQueue),
		overflow:      OverflowBlock,
		writer:        writer,
		codec:         codec,
		closed:        make(chan struct{}),
	}
}

// WithOverflowPolicy sets the outbound buffer's full-queue behavior.
// Intended to be called immediately after New, before the connection is
// handed to the server's accept loop.
func (c *Connection) WithOverflowPolicy(p OverflowPolicy) *Connection {
	c.overflow = p
	return c
}

// ID returns the connection's UUID, assigned at accept.
func (c *Connection) ID() string { return c.id }

// RemoteAddress returns the peer's address as observed at accept time.
func (c *Connection) RemoteAddress() string { return c.remoteAddress }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState transitions the connection. Only called by the server runtime
// and the connection's own Close; not exported for use by handler code.
func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MarkOpen transitions CONNECTING -> OPEN once on_connect returns
// without error (spec §3).
func (c *Connection) MarkOpen() { c.setState(StateOpen) }

// MarkClosing transitions to CLOSING (peer close, server close, fatal
// handler error, or admission refusal all route through here).
func (c *Connection) MarkClosing() { c.setState(StateClosing) }

// Attr implements riptide.AttrSource: reads a session attribute. A
// missing attribute returns (nil, false); predicates treat that as false,
// never a hard error.
func (c *Connection) Attr(name string) (any, bool) {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	v, ok := c.attrs[name]
	return v, ok
}

// Attrs returns a shallow copy of the session bag, used by the CEL
// predicate escape hatch which needs the whole map rather than one key at
// a time.
func (c *Connection) Attrs() map[string]any {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	out := make(map[string]any, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

// Set assigns a session attribute, e.g. conn.Set("username", "alice").
func (c *Connection) Set(name string, value any) {
	c.attrMu.Lock()
	c.attrs[name] = value
	c.attrMu.Unlock()
}

// GetString, GetBool, GetInt are typed accessor conveniences over the
// dynamic session bag (spec §3 "[ADDED] Session bag typing").
func (c *Connection) GetString(name string) (string, bool) {
	v, ok := c.Attr(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Connection) GetBool(name string) (bool, bool) {
	v, ok := c.Attr(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (c *Connection) GetInt(name string) (int, bool) {
	v, ok := c.Attr(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// AddChannel / RemoveChannel / Channels / HasChannel implement the
// conn-side half of the channel registry's two-index invariant (spec §3:
// "conn ∈ channels[k] ⇔ k ∈ conn.subscribed_channels"). The channel
// registry's Join and Leave call AddChannel/RemoveChannel right after
// updating their own side, once the registry lock has been released.
func (c *Connection) AddChannel(name string) {
	c.chanMu.Lock()
	c.channels[name] = struct{}{}
	c.chanMu.Unlock()
}

func (c *Connection) RemoveChannel(name string) {
	c.chanMu.Lock()
	delete(c.channels, name)
	c.chanMu.Unlock()
}

func (c *Connection) HasChannel(name string) bool {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	_, ok := c.channels[name]
	return ok
}

// Channels returns the set of channel names this connection is currently
// subscribed to.
func (c *Connection) Channels() []string {
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}

// ErrClosed is returned by Send once the connection has been closed.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "riptide: connection closed" }

// Send enqueues a packet for delivery (spec §4.4). Raw payloads should
// already be wrapped by the caller (server runtime / dispatcher /
// registry); Send itself only ever deals in riptide.Packet.
//
// Under OverflowBlock (the default) Send blocks until there is room or
// the connection closes. Under OverflowDropOldest it never blocks: it
// evicts the oldest queued packet to make room.
func (c *Connection) Send(p riptide.Packet) error {
	if c.State() == StateClosed {
		return ErrClosed{}
	}

	switch c.overflow {
	case OverflowDropOldest:
		for {
			select {
			case c.outbound <- p:
				return nil
			case <-c.closed:
				return ErrClosed{}
			default:
			}
			select {
			case <-c.outbound:
			default:
			}
		}
	default: // OverflowBlock
		select {
		case c.outbound <- p:
			return nil
		case <-c.closed:
			return ErrClosed{}
		}
	}
}

// Outbound exposes the send channel for the writer goroutine (internal to
// the service package's connection actor).
func (c *Connection) Outbound() <-chan riptide.Packet { return c.outbound }

// DeliverInbound pushes a received packet into the pull-style inbound
// queue, best-effort: a full queue drops the oldest entry rather than
// blocking the reader goroutine, since a pull consumer that never drains
// must not be able to stall the socket's read loop.
func (c *Connection) DeliverInbound(p riptide.Packet) {
	for {
		select {
		case c.inbound <- p:
			return
		default:
		}
		select {
		case <-c.inbound:
		default:
			return
		}
	}
}

// Recv returns the inbound pull-queue channel for consumers that prefer
// polling over the push-style on_receive callback.
func (c *Connection) Recv() <-chan riptide.Packet { return c.inbound }

// Closed returns a channel closed exactly once, when Close completes.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// Close is idempotent and safe to call from any goroutine (spec §4.4).
// It transitions to CLOSING immediately, signals Closed() so any blocked
// Send unblocks with ErrClosed, and closes the writer transport with a
// normal (1000) close code. Reaching CLOSED is the server runtime's job
// (internal/service), once the writer goroutine has actually exited and
// subscriptions have been removed — Close here only begins that sequence.
//
// Close does not close the outbound queue itself: the writer goroutine
// keeps draining whatever was already enqueued until its write to the
// now-closing transport fails. A caller that needs a packet (e.g. a
// rate-limit error response) delivered before the connection closes must
// call Send and wait for it to return before calling Close — Close
// itself makes no ordering promise with a Send that races it from
// another goroutine.
func (c *Connection) Close() error {
	return c.CloseWithCode(CloseNormal, "")
}

// CloseWithCode is Close with an explicit WebSocket close code and reason,
// for callers that need to report why the connection was dropped (spec
// §6: policy_violation -> 1008, try_again_later -> 1013).
func (c *Connection) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.MarkClosing()
		close(c.closed)
		if c.writer != nil {
			err = c.writer.Close(code, reason)
		}
	})
	return err
}

// MarkClosed finalizes CLOSED. Called by the server runtime after the
// writer goroutine has exited and channel subscriptions have all been
// removed (spec §3's lifecycle invariant).
func (c *Connection) MarkClosed() { c.setState(StateClosed) }
