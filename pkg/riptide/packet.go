// Package riptide is the public wire-protocol surface of the framework:
// the Packet envelope, the RPC request/response variants, and the two
// codecs (JSON and binary) that turn one into bytes and back. The server
// (internal/...) builds on these types; they live outside internal/ where
// any importer can reach them. The client SDK (sdks/go) is a separate
// module and keeps its own copy of the JSON wire shapes instead.
package riptide

import "fmt"

// Source identifies who produced a Packet, mirroring the wire "source" enum.
type Source int

const (
	SourceClient    Source = 1
	SourceServer    Source = 2
	SourceChannel   Source = 3
	SourceBroadcast Source = 4
	SourceRPC       Source = 5
)

func (s Source) String() string {
	switch s {
	case SourceClient:
		return "client"
	case SourceServer:
		return "server"
	case SourceChannel:
		return "channel"
	case SourceBroadcast:
		return "broadcast"
	case SourceRPC:
		return "rpc"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// RPCType distinguishes a Request envelope from a Response envelope.
type RPCType string

const (
	RPCTypeRequest  RPCType = "request"
	RPCTypeResponse RPCType = "response"
)

// ErrorCode is one of the fixed RPC error codes the dispatcher can return.
// It is always carried inline in a Response, never raised across the wire.
type ErrorCode string

const (
	ErrMethodNotFound   ErrorCode = "METHOD_NOT_FOUND"
	ErrAccessDenied     ErrorCode = "ACCESS_DENIED"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// RPC is the envelope carried in Packet.RPC. Exactly one of Request/Response
// semantics applies, selected by Type.
type RPC struct {
	Type RPCType `json:"type"`

	// Request fields.
	CallID string         `json:"call_id"`
	Method string         `json:"method,omitempty"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`

	// Response fields.
	Response any        `json:"response,omitempty"`
	Error    *ErrorCode `json:"error"`
}

// NewRequest builds a Request-variant RPC envelope.
func NewRequest(callID, method string, args []any, kwargs map[string]any) RPC {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return RPC{Type: RPCTypeRequest, CallID: callID, Method: method, Args: args, Kwargs: kwargs}
}

// NewResponse builds a Response-variant RPC envelope. response may be nil,
// 0, "", an empty slice, or false — the falsy value is still carried
// faithfully, never dropped.
func NewResponse(callID string, response any, errCode *ErrorCode) RPC {
	return RPC{Type: RPCTypeResponse, CallID: callID, Response: response, Error: errCode}
}

// Packet is the single unit of application-level message exchanged over a
// riptide connection. Exactly one of {Data, RPC} is semantically primary;
// the other is inert when not applicable (§3 of the design).
type Packet struct {
	Data    any    `json:"data,omitempty"`
	Source  Source `json:"source"`
	Channel string `json:"channel,omitempty"`
	RPC     *RPC   `json:"rpc,omitempty"`

	// Bytes holds a raw byte payload when the packet carries one instead of
	// a JSON-serializable Data value. Codecs decide how to represent this
	// on the wire (base64-in-JSON for JSONCodec, native bytes for
	// BinaryCodec); callers just set Bytes and leave Data nil.
	Bytes []byte `json:"-"`
}

// DataPacket wraps a plain value (string, number, map, ...) as a Packet
// with the given source.
func DataPacket(source Source, data any) Packet {
	return Packet{Data: data, Source: source}
}

// BytesPacket wraps a raw byte payload as a Packet.
func BytesPacket(source Source, b []byte) Packet {
	return Packet{Bytes: b, Source: source}
}
