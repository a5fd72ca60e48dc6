package cmd

import (
	"context"

	"github.com/riptide-ws/riptide/internal/config"
	"github.com/riptide-ws/riptide/internal/domain/channel"
	"github.com/riptide-ws/riptide/internal/domain/conn"
	"github.com/riptide-ws/riptide/internal/domain/rpc"
)

// registerMethods wires the built-in channel-management RPCs every
// riptide deployment gets for free: subscribe/unsubscribe/publish let a
// client manage its own channel membership and publish to it without the
// embedding application having to hand-write these for every deployment.
// Application-specific methods are registered by embedding code through
// the same Dispatcher before Start is called.
func registerMethods(d *rpc.Dispatcher, registry *channel.Registry, cfg *config.ServerConfig) {
	d.Handle("subscribe", func(ctx context.Context, c *conn.Connection, args []any, kwargs map[string]any) (any, error) {
		name, ok := firstString(args, kwargs, "channel")
		if !ok {
			return nil, rpc.InvalidArgumentsError{Msg: "subscribe requires a channel name"}
		}
		registry.Join(c, name)
		return true, nil
	})

	d.Handle("unsubscribe", func(ctx context.Context, c *conn.Connection, args []any, kwargs map[string]any) (any, error) {
		name, ok := firstString(args, kwargs, "channel")
		if !ok {
			return nil, rpc.InvalidArgumentsError{Msg: "unsubscribe requires a channel name"}
		}
		registry.Leave(c, name)
		return true, nil
	})

	d.Handle("publish", func(ctx context.Context, c *conn.Connection, args []any, kwargs map[string]any) (any, error) {
		names, ok := channelNames(args, kwargs, "channel")
		if !ok {
			return nil, rpc.InvalidArgumentsError{Msg: "publish requires a channel name or a list of channel names"}
		}
		payload := kwargs["data"]
		n := registry.Publish(names, payload, nil, c.ID())
		return n, nil
	})
}

func firstString(args []any, kwargs map[string]any, key string) (string, bool) {
	if v, ok := kwargs[key]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			return s, true
		}
	}
	return "", false
}

// channelNames extracts either a single channel name or an iterable of
// channel names (spec §4.5's "channel | iterable" publish argument) from
// whichever of kwargs[key] or args[0] is present.
func channelNames(args []any, kwargs map[string]any, key string) ([]string, bool) {
	v, ok := kwargs[key]
	if !ok && len(args) > 0 {
		v = args[0]
		ok = true
	}
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case []string:
		return t, len(t) > 0
	case []any:
		names := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				names = append(names, s)
			}
		}
		return names, len(names) > 0
	default:
		return nil, false
	}
}
