// Package riptideclient is a Go client SDK for riptide WebSocket servers.
//
// It dials a riptide endpoint, maintains a reconnecting transport, and
// exposes Call (request/response RPC), Subscribe/Unsubscribe/Publish
// (channel pub/sub), and a callback for unsolicited inbound packets.
//
// This package intentionally does not import the server module's
// pkg/riptide types: it is a separately versioned module distributed to
// client applications, so the wire shapes below are its own copy of the
// JSON envelope the server's riptide.JSONCodec produces.
//
//	c := riptideclient.New("wss://example.com/ws", riptideclient.WithToken("..."))
//	if err := c.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	result, err := c.Call(ctx, "echo", []any{"hello"}, nil)
package riptideclient

// source tags who originated a packet, mirroring the server's riptide.Source.
type source int

const (
	sourceClient source = iota + 1
	sourceServer
	sourceChannel
	sourceBroadcast
	sourceRPC
)

// rpcType mirrors the server's riptide.RPCType.
type rpcType string

const (
	rpcTypeRequest  rpcType = "request"
	rpcTypeResponse rpcType = "response"
)

// errorCode mirrors the server's riptide.ErrorCode constants.
type errorCode string

const (
	errMethodNotFound   errorCode = "METHOD_NOT_FOUND"
	errAccessDenied     errorCode = "ACCESS_DENIED"
	errRateLimited      errorCode = "RATE_LIMITED"
	errInvalidArguments errorCode = "INVALID_ARGUMENTS"
	errInternalError    errorCode = "INTERNAL_ERROR"
)

// wireRPC is the JSON shape of an RPC call or response.
type wireRPC struct {
	Type     rpcType        `json:"type"`
	CallID   string         `json:"call_id"`
	Method   string         `json:"method,omitempty"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
	Response any            `json:"response,omitempty"`
	Error    *errorCode     `json:"error,omitempty"`
}

// wirePacket is the JSON envelope exchanged over the socket. It mirrors
// pkg/riptide.Packet's JSON shape as produced by the server's
// riptide.JSONCodec, minus the raw-bytes variant the server supports for
// its binary codec (this client always negotiates the JSON wire).
type wirePacket struct {
	Data    any      `json:"data,omitempty"`
	Source  source   `json:"source,omitempty"`
	Channel string   `json:"channel,omitempty"`
	RPC     *wireRPC `json:"rpc,omitempty"`
}
