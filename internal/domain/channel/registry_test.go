package channel

import (
	"testing"

	"github.com/riptide-ws/riptide/internal/domain/conn"
	"github.com/riptide-ws/riptide/pkg/riptide"
)

func newOpenConn() *conn.Connection {
	c := conn.New("", nil, nil)
	c.MarkOpen()
	return c
}

func TestJoinLeaveMembership(t *testing.T) {
	r := New()
	a := newOpenConn()
	b := newOpenConn()
	r.Track(a)
	r.Track(b)

	r.Join(a, "lobby")
	r.Join(b, "lobby")
	if r.Members("lobby") != 2 {
		t.Fatalf("expected 2 members, got %d", r.Members("lobby"))
	}
	if !a.HasChannel("lobby") {
		t.Error("connection-side index should reflect Join")
	}

	r.Leave(a, "lobby")
	if r.Members("lobby") != 1 {
		t.Fatalf("expected 1 member after Leave, got %d", r.Members("lobby"))
	}
	if a.HasChannel("lobby") {
		t.Error("connection-side index should reflect Leave")
	}
}

func TestEmptyChannelGarbageCollected(t *testing.T) {
	r := New()
	a := newOpenConn()
	r.Track(a)
	r.Join(a, "ephemeral")
	if r.ChannelCount() != 1 {
		t.Fatalf("expected 1 live channel, got %d", r.ChannelCount())
	}
	r.Leave(a, "ephemeral")
	if r.ChannelCount() != 0 {
		t.Errorf("channel with no members should be garbage collected, count=%d", r.ChannelCount())
	}
}

func TestPublishFiltersByPredicateAndExcludesSelf(t *testing.T) {
	r := New()
	admin := newOpenConn()
	admin.Set("is_admin", true)
	guest := newOpenConn()
	guest.Set("is_admin", false)

	r.Track(admin)
	r.Track(guest)
	r.Join(admin, "room")
	r.Join(guest, "room")

	n := r.Publish([]string{"room"}, "secret", riptide.Is{Attr: "is_admin"})
	if n != 1 {
		t.Errorf("expected predicate to admit exactly 1 connection, got %d", n)
	}
	if len(admin.Outbound()) != 1 {
		t.Error("admin should have received the publish")
	}
	if len(guest.Outbound()) != 0 {
		t.Error("guest should have been filtered out by predicate")
	}

	n = r.Publish([]string{"room"}, "hello", nil, admin.ID())
	if n != 1 {
		t.Errorf("expected 1 delivery excluding publisher, got %d", n)
	}
	if len(admin.Outbound()) != 1 {
		t.Error("excluded connection should not receive the second publish")
	}
}

func TestPublishToUnknownChannelIsNoop(t *testing.T) {
	r := New()
	if n := r.Publish([]string{"nope"}, "x", nil); n != 0 {
		t.Errorf("expected 0 deliveries for unknown channel, got %d", n)
	}
}

func TestPublishToMultipleChannelsDeliversOncePerConnection(t *testing.T) {
	r := New()
	both := newOpenConn()
	onlyA := newOpenConn()
	r.Track(both)
	r.Track(onlyA)
	r.Join(both, "a")
	r.Join(both, "b")
	r.Join(onlyA, "a")

	n := r.Publish([]string{"a", "b"}, "news", nil)
	if n != 2 {
		t.Fatalf("expected union of 2 distinct connections, got %d", n)
	}
	if len(both.Outbound()) != 1 {
		t.Errorf("connection subscribed to both target channels should receive exactly 1 packet, got %d", len(both.Outbound()))
	}
	if len(onlyA.Outbound()) != 1 {
		t.Errorf("expected 1 packet, got %d", len(onlyA.Outbound()))
	}
}

func TestBroadcastReachesEveryTrackedConnectionRegardlessOfChannel(t *testing.T) {
	r := New()
	a := newOpenConn()
	b := newOpenConn()
	r.Track(a)
	r.Track(b)
	r.Join(a, "only-a-subscribes")

	n := r.Broadcast("ping", nil)
	if n != 2 {
		t.Errorf("expected broadcast to reach both connections, got %d", n)
	}
}

func TestUntrackRemovesFromAllChannelsAndBroadcastIndex(t *testing.T) {
	r := New()
	a := newOpenConn()
	r.Track(a)
	r.Join(a, "x")
	r.Join(a, "y")

	r.Untrack(a)
	if r.ConnectionCount() != 0 {
		t.Error("expected connection removed from broadcast index")
	}
	if r.Members("x") != 0 || r.Members("y") != 0 {
		t.Error("expected connection removed from every channel it had joined")
	}
	if r.ChannelCount() != 0 {
		t.Error("expected both channels garbage collected after last member left")
	}
}
