package riptideclient

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithToken sets the admission token sent as a query parameter during the
// WebSocket handshake, for servers with Admission.Enabled.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithCallTimeout sets the default timeout applied to Call when the
// caller's context carries no deadline. Defaults to 30 seconds.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithReconnect enables automatic reconnection with exponential backoff
// between minBackoff and maxBackoff when the connection drops. Disabled
// by default: a dropped connection surfaces as a closed OnDisconnect
// unless this option is set.
func WithReconnect(minBackoff, maxBackoff time.Duration) Option {
	return func(c *Client) {
		c.reconnect = true
		c.minBackoff = minBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithDialer overrides the *websocket.Dialer used to connect, e.g. to
// supply a custom TLS config.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger sets the logger used for reconnect and decode diagnostics.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithOnReceive sets a callback invoked for every inbound packet that is
// not an RPC response being correlated to a pending Call — channel
// publishes, broadcasts, and unsolicited server pushes.
func WithOnReceive(fn func(channel string, data any)) Option {
	return func(c *Client) {
		c.onReceive = fn
	}
}

// WithOnDisconnect sets a callback invoked when the underlying connection
// is lost, before any reconnect attempt.
func WithOnDisconnect(fn func(err error)) Option {
	return func(c *Client) {
		c.onDisconnect = fn
	}
}
