package riptide

import (
	"reflect"
	"testing"
)

func errPtr(c ErrorCode) *ErrorCode { return &c }

func TestJSONCodecRoundTrip(t *testing.T) {
	cases := []Packet{
		DataPacket(SourceChannel, "hello"),
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeRequest, CallID: "abc", Method: "add", Args: []any{float64(10), float64(20)}, Kwargs: map[string]any{}}},
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeResponse, CallID: "abc", Response: float64(30)}},
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeResponse, CallID: "xyz", Response: nil}},
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeResponse, CallID: "xyz", Response: float64(0)}},
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeResponse, CallID: "xyz", Response: false}},
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeResponse, CallID: "xyz", Error: errPtr(ErrRateLimited)}},
		BytesPacket(SourceServer, []byte{0x01, 0x02, 0xFF, 0x00}),
		{Source: SourceChannel, Channel: "room1", Data: "hi"},
	}

	codec := JSONCodec{}
	for i, p := range cases {
		encoded, err := codec.Encode(p)
		if err != nil {
			t.Fatalf("case %d: encode error: %v", i, err)
		}
		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("case %d: decode error: %v", i, err)
		}
		if decoded.Source != p.Source {
			t.Errorf("case %d: source mismatch: got %v want %v", i, decoded.Source, p.Source)
		}
		if decoded.Channel != p.Channel {
			t.Errorf("case %d: channel mismatch", i)
		}
		if p.Bytes != nil && !reflect.DeepEqual(decoded.Bytes, p.Bytes) {
			t.Errorf("case %d: bytes mismatch: got %v want %v", i, decoded.Bytes, p.Bytes)
		}
		if p.RPC != nil {
			if decoded.RPC == nil {
				t.Fatalf("case %d: expected rpc envelope, got nil", i)
			}
			if decoded.RPC.CallID != p.RPC.CallID || decoded.RPC.Type != p.RPC.Type {
				t.Errorf("case %d: rpc mismatch: got %+v want %+v", i, decoded.RPC, p.RPC)
			}
			if (decoded.RPC.Error == nil) != (p.RPC.Error == nil) {
				t.Errorf("case %d: rpc error presence mismatch", i)
			}
			if decoded.RPC.Error != nil && p.RPC.Error != nil && *decoded.RPC.Error != *p.RPC.Error {
				t.Errorf("case %d: rpc error mismatch", i)
			}
		}
	}
}

func TestJSONCodecFalsyResponseNotDropped(t *testing.T) {
	codec := JSONCodec{}
	for _, v := range []any{nil, float64(0), "", []any{}, false} {
		enc, err := codec.Encode(Packet{Source: SourceRPC, RPC: &RPC{Type: RPCTypeResponse, CallID: "c1", Response: v}})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := codec.Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.RPC == nil || dec.RPC.CallID != "c1" {
			t.Fatalf("expected rpc envelope with call id, got %+v", dec.RPC)
		}
		if !reflect.DeepEqual(dec.RPC.Response, v) {
			t.Errorf("falsy response %#v not preserved, got %#v", v, dec.RPC.Response)
		}
	}
}

func TestJSONCodecWireShape(t *testing.T) {
	// Spec §6 literal example.
	p := Packet{Source: SourceRPC, RPC: &RPC{Type: RPCTypeRequest, CallID: "u1", Method: "add", Args: []any{float64(10), float64(20)}, Kwargs: map[string]any{}}}
	b, err := JSONCodec{}.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	for _, want := range []string{`"call_id":"u1"`, `"method":"add"`, `"type":"request"`, `"source":5`} {
		if !contains(got, want) {
			t.Errorf("wire output %q missing %q", got, want)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	codec := BinaryCodec{}
	cases := []Packet{
		DataPacket(SourceChannel, "hello"),
		{Source: SourceRPC, RPC: &RPC{Type: RPCTypeRequest, CallID: "abc", Method: "add", Args: []any{float64(1)}, Kwargs: map[string]any{}}},
		BytesPacket(SourceServer, []byte{0xDE, 0xAD, 0xBE, 0xEF}),
		{Source: SourceChannel, Channel: "room1", Data: "hi"},
	}
	for i, p := range cases {
		enc, err := codec.Encode(p)
		if err != nil {
			t.Fatalf("case %d encode: %v", i, err)
		}
		dec, err := codec.Decode(enc)
		if err != nil {
			t.Fatalf("case %d decode: %v", i, err)
		}
		if dec.Source != p.Source || dec.Channel != p.Channel {
			t.Errorf("case %d: mismatch got %+v want %+v", i, dec, p)
		}
		if p.Bytes != nil && !reflect.DeepEqual(dec.Bytes, p.Bytes) {
			t.Errorf("case %d: bytes mismatch", i)
		}
	}
}

func TestBinaryCodecRejectsUnknownVersion(t *testing.T) {
	_, err := BinaryCodec{}.Decode([]byte{0x02, 0x01, 0x00, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected error decoding unknown binary version")
	}
}
