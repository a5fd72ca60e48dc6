// Package channel implements the pub/sub channel and broadcast fabric
// (spec §4.5): named channels connections subscribe to, predicate-filtered
// publish to one or more channels, and predicate-filtered broadcast to every live
// connection regardless of channel membership.
//
// Grounded on the teacher's in-memory outbound adapters
// (internal/adapter/outbound/memory): a mutex-guarded map-of-sets is the
// teacher's idiom for "the in-process registry of everything live," reused
// here for channel membership and for the broadcast-all index.
package channel

import (
	"sync"

	"github.com/riptide-ws/riptide/internal/domain/conn"
	"github.com/riptide-ws/riptide/internal/obsv"
	"github.com/riptide-ws/riptide/pkg/riptide"
)

// Registry is the two-index structure spec §3 requires:
// conn ∈ channels[k] ⇔ k ∈ conn.subscribed_channels. Registry owns the
// channels[k] side; Connection owns its own subscribed_channels side; Join
// and Leave keep both sides atomic from a caller's perspective.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]*conn.Connection // channel name -> conn id -> conn
	all      map[string]*conn.Connection             // every live connection, for Broadcast
	metrics  *obsv.Metrics
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithMetrics records channel membership and broadcast counts against m.
func WithMetrics(m *obsv.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		channels: make(map[string]map[string]*conn.Connection),
		all:      make(map[string]*conn.Connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// reportMembers updates the channel_members gauge for name, clearing its
// label entirely once the channel has been garbage collected. Callers hold
// r.mu.
func (r *Registry) reportMembers(name string, count int) {
	if r.metrics == nil {
		return
	}
	if count == 0 {
		r.metrics.ChannelMembers.DeleteLabelValues(name)
		return
	}
	r.metrics.ChannelMembers.WithLabelValues(name).Set(float64(count))
}

// Track adds a connection to the broadcast-all index. Called once, by the
// server runtime, when a connection reaches the OPEN state.
func (r *Registry) Track(c *conn.Connection) {
	r.mu.Lock()
	r.all[c.ID()] = c
	r.mu.Unlock()
}

// Untrack removes a connection from every channel it was subscribed to and
// from the broadcast-all index. Called once, by the server runtime, as
// part of connection teardown.
func (r *Registry) Untrack(c *conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range c.Channels() {
		if members, ok := r.channels[name]; ok {
			delete(members, c.ID())
			r.reportMembers(name, len(members))
			if len(members) == 0 {
				delete(r.channels, name)
			}
		}
	}
	delete(r.all, c.ID())
}

// Join subscribes c to name (spec §4.5 subscribe). Idempotent.
func (r *Registry) Join(c *conn.Connection, name string) {
	r.mu.Lock()
	members, ok := r.channels[name]
	if !ok {
		members = make(map[string]*conn.Connection)
		r.channels[name] = members
	}
	members[c.ID()] = c
	r.reportMembers(name, len(members))
	r.mu.Unlock()
	c.AddChannel(name)
}

// Leave unsubscribes c from name (spec §4.5 unsubscribe). Idempotent; a
// channel with no remaining members is garbage collected immediately
// (spec §3's "[ADDED] empty-channel garbage collection").
func (r *Registry) Leave(c *conn.Connection, name string) {
	r.mu.Lock()
	if members, ok := r.channels[name]; ok {
		delete(members, c.ID())
		r.reportMembers(name, len(members))
		if len(members) == 0 {
			delete(r.channels, name)
		}
	}
	r.mu.Unlock()
	c.RemoveChannel(name)
}

// Members returns the current subscriber count of name, mostly for
// metrics and tests.
func (r *Registry) Members(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[name])
}

// ChannelCount returns the number of live (non-empty) channels.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// ConnectionCount returns the number of connections tracked for broadcast.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// snapshot copies a map of connections under the read lock so Publish and
// Broadcast never hold the registry lock while evaluating predicates or
// enqueuing sends — a slow or blocked Send on one connection must not
// stall delivery to every other connection.
func snapshot(m map[string]*conn.Connection) []*conn.Connection {
	out := make([]*conn.Connection, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Publish delivers payload to every connection subscribed to any of
// channels whose session bag satisfies pred (spec §4.5: "publish(channel |
// iterable, data, exclude, predicate)"). Recipients are the UNION of every
// named channel's members: a connection subscribed to more than one of the
// given channels is sent exactly one packet, never one per channel. A nil
// pred matches everyone; exclude names connection IDs to skip (e.g. the
// publisher itself). Returns the number of connections the packet was
// successfully enqueued to; a Send error (closed connection racing
// teardown) is not fatal to the publish as a whole.
func (r *Registry) Publish(channels []string, payload any, pred riptide.Predicate, exclude ...string) int {
	r.mu.RLock()
	seen := make(map[string]struct{})
	var targets []*conn.Connection
	for _, name := range channels {
		members, ok := r.channels[name]
		if !ok {
			continue
		}
		for id, c := range members {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	channelLabel := ""
	if len(channels) == 1 {
		channelLabel = channels[0]
	}
	return deliver(targets, channelLabel, riptide.SourceChannel, payload, pred, exclude)
}

// Broadcast delivers payload to every live connection (regardless of
// channel subscription) whose session bag satisfies pred (spec §4.5).
func (r *Registry) Broadcast(payload any, pred riptide.Predicate, exclude ...string) int {
	r.mu.RLock()
	targets := snapshot(r.all)
	r.mu.RUnlock()
	if r.metrics != nil {
		r.metrics.BroadcastsTotal.Inc()
	}
	return deliver(targets, "", riptide.SourceBroadcast, payload, pred, exclude)
}

func deliver(targets []*conn.Connection, channelName string, source riptide.Source, payload any, pred riptide.Predicate, exclude []string) int {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	sent := 0
	for _, c := range targets {
		if _, skip := excluded[c.ID()]; skip {
			continue
		}
		if pred != nil && !pred.Eval(c) {
			continue
		}
		pkt := riptide.Packet{Data: payload, Source: source, Channel: channelName}
		if err := c.Send(pkt); err == nil {
			sent++
		}
	}
	return sent
}
