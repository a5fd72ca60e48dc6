package riptideclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultCallTimeout = 30 * time.Second

// Client is a WebSocket client for a riptide server. It maintains one
// underlying connection, correlates RPC responses to their calls by
// call_id, and dispatches unsolicited packets (channel publishes,
// broadcasts) to an optional OnReceive callback.
//
// A Client is safe for concurrent use. Call, Subscribe, Unsubscribe, and
// Publish may be invoked from multiple goroutines.
type Client struct {
	url   string
	token string

	callTimeout time.Duration
	reconnect   bool
	minBackoff  time.Duration
	maxBackoff  time.Duration

	dialer *websocket.Dialer
	logger *slog.Logger

	onReceive    func(channel string, data any)
	onDisconnect func(err error)

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan wireRPC

	done chan struct{}
}

// New constructs a Client for the given server URL (ws:// or wss://). The
// client does not dial until Connect is called.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		callTimeout: defaultCallTimeout,
		dialer:      websocket.DefaultDialer,
		logger:      slog.Default(),
		pending:     make(map[string]chan wireRPC),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the server and starts the background read loop. It
// blocks until the handshake completes or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.url
	if c.token != "" {
		sep := "?"
		if containsQuery(url) {
			sep = "&"
		}
		url = url + sep + "token=" + c.token
	}
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("riptideclient: dial: %w", err)
	}
	return conn, nil
}

func containsQuery(url string) bool {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return true
		}
	}
	return false
}

// Close closes the underlying connection and fails every pending call
// with ErrClosed. It does not reconnect regardless of WithReconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.reconnect = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	c.failAllPending(ErrClosed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		errCode := errorCode(err.Error())
		ch <- wireRPC{Type: rpcTypeResponse, CallID: id, Error: &errCode}
		delete(c.pending, id)
	}
}

// readLoop owns the connection's read side for its lifetime. On a read
// error it either reconnects (if WithReconnect was set) or tears the
// client down permanently.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			if !c.tryReconnect() {
				c.failAllPending(ErrNotConnected)
				return
			}
			continue
		}

		var pkt wirePacket
		if err := json.Unmarshal(data, &pkt); err != nil {
			c.logger.Warn("riptideclient: decode failed", "error", err)
			continue
		}
		c.dispatch(pkt)
	}
}

func (c *Client) dispatch(pkt wirePacket) {
	if pkt.RPC != nil && pkt.RPC.Type == rpcTypeResponse {
		c.pendingMu.Lock()
		ch, ok := c.pending[pkt.RPC.CallID]
		if ok {
			delete(c.pending, pkt.RPC.CallID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- *pkt.RPC
		}
		return
	}
	if c.onReceive != nil {
		c.onReceive(pkt.Channel, pkt.Data)
	}
}

// tryReconnect blocks retrying the dial with exponential backoff until it
// succeeds, the client is closed, or reconnection is disabled. It returns
// false when the caller should give up.
func (c *Client) tryReconnect() bool {
	if !c.reconnect {
		return false
	}
	backoff := c.minBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(jitter(backoff)):
		}

		conn, err := c.dial(context.Background())
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			return true
		}
		c.logger.Warn("riptideclient: reconnect attempt failed", "error", err)

		backoff *= 2
		if c.maxBackoff > 0 && backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (c *Client) send(pkt wirePacket) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("riptideclient: encode: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Call sends an RPC request and blocks until the matching response
// arrives or ctx is done. If ctx carries no deadline, the client's
// configured call timeout applies.
func (c *Client) Call(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	callID := uuid.NewString()
	respCh := make(chan wireRPC, 1)
	c.pendingMu.Lock()
	c.pending[callID] = respCh
	c.pendingMu.Unlock()

	req := wireRPC{Type: rpcTypeRequest, CallID: callID, Method: method, Args: args, Kwargs: kwargs}
	if err := c.send(wirePacket{Source: sourceClient, RPC: &req}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, callID)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			// failAllPending carries a local error's text as the code.
			switch string(*resp.Error) {
			case ErrClosed.Error():
				return nil, ErrClosed
			case ErrNotConnected.Error():
				return nil, ErrNotConnected
			}
			return nil, &RemoteError{Method: method, Code: string(*resp.Error)}
		}
		return resp.Response, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, callID)
		c.pendingMu.Unlock()
		return nil, ErrCallTimeout
	}
}

// Subscribe joins the named channel on the server.
func (c *Client) Subscribe(ctx context.Context, channel string) error {
	_, err := c.Call(ctx, "subscribe", nil, map[string]any{"channel": channel})
	return err
}

// Unsubscribe leaves the named channel on the server.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.Call(ctx, "unsubscribe", nil, map[string]any{"channel": channel})
	return err
}

// Publish publishes data to the named channel. It returns the number of
// other subscribers that received it.
func (c *Client) Publish(ctx context.Context, channel string, data any) (int, error) {
	resp, err := c.Call(ctx, "publish", nil, map[string]any{"channel": channel, "data": data})
	if err != nil {
		return 0, err
	}
	n, _ := resp.(float64) // JSON numbers decode as float64
	return int(n), nil
}
