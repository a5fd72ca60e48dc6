package riptide

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Codec turns a Packet into wire bytes and back. Decode failure is
// non-fatal to the caller's connection — decode is expected to be called
// from a read loop that drops the offending frame and keeps the socket
// open; Encode failure is a hard error the caller must decide how to
// react to (see spec §4.1).
type Codec interface {
	Encode(p Packet) ([]byte, error)
	Decode(b []byte) (Packet, error)
}

const bytesWrapperKey = "__bytes__"

// wireEnvelope is the literal JSON shape from spec §6:
// {"data":...,"source":n,"channel":...,"rpc":{...}}
type wireEnvelope struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Source  Source          `json:"source"`
	Channel string          `json:"channel,omitempty"`
	RPC     *RPC            `json:"rpc,omitempty"`
}

// JSONCodec is the default, cross-language wire encoding.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(p Packet) ([]byte, error) {
	env := wireEnvelope{Source: p.Source, Channel: p.Channel, RPC: p.RPC}

	switch {
	case p.Bytes != nil:
		wrapped := map[string]string{bytesWrapperKey: base64.StdEncoding.EncodeToString(p.Bytes)}
		raw, err := json.Marshal(wrapped)
		if err != nil {
			return nil, fmt.Errorf("riptide: encode bytes payload: %w", err)
		}
		env.Data = raw
	case p.Data != nil:
		raw, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("riptide: encode data payload: %w", err)
		}
		env.Data = raw
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("riptide: encode packet: %w", err)
	}
	return out, nil
}

// Decode implements Codec.
func (JSONCodec) Decode(b []byte) (Packet, error) {
	var env wireEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Packet{}, fmt.Errorf("riptide: decode packet: %w", err)
	}

	p := Packet{Source: env.Source, Channel: env.Channel, RPC: env.RPC}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return p, nil
	}

	if raw, ok := decodeBytesWrapper(env.Data); ok {
		p.Bytes = raw
		return p, nil
	}

	var data any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return Packet{}, fmt.Errorf("riptide: decode packet data: %w", err)
	}
	p.Data = data
	return p, nil
}

// decodeBytesWrapper recognizes the {"__bytes__":"<base64>"} envelope and
// returns the decoded bytes, or ok=false if raw isn't that shape.
func decodeBytesWrapper(raw json.RawMessage) ([]byte, bool) {
	var wrapper map[string]string
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, false
	}
	if len(wrapper) != 1 {
		return nil, false
	}
	b64, ok := wrapper[bytesWrapperKey]
	if !ok {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// Binary wire format version. Decoders reject any other leading byte
// rather than guessing at a layout (spec §3, "version-tagged").
const binaryFormatVersion byte = 0x01

// BinaryCodec is an opt-in fast path: a length-prefixed, tagged encoding
// that round-trips every value the JSON variant can carry, without the
// base64 inflation for byte payloads. Frame layout:
//
//	[1]  version (0x01)
//	[1]  source
//	[2]  channel length (BE) + channel bytes
//	[1]  flags: bit0 = has RPC, bit1 = has Bytes, bit2 = has Data
//	[4]  JSON-encoded RPC length (BE) + bytes, if flag set
//	[4]  raw bytes length (BE) + bytes, if flag set
//	[4]  JSON-encoded Data length (BE) + bytes, if flag set
//
// RPC and Data payloads are still JSON-encoded internally (there is no
// ecosystem schema-free binary value format in the example pack worth
// adopting for a handful of dynamically-typed fields); only the outer
// framing and the raw byte path are genuinely binary.
type BinaryCodec struct{}

const (
	binFlagRPC   byte = 1 << 0
	binFlagBytes byte = 1 << 1
	binFlagData  byte = 1 << 2
)

// Encode implements Codec.
func (BinaryCodec) Encode(p Packet) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, binaryFormatVersion, byte(p.Source))

	chanBytes := []byte(p.Channel)
	buf = appendUint16Prefixed(buf, chanBytes)

	var flags byte
	var rpcJSON, dataJSON []byte
	var err error

	if p.RPC != nil {
		flags |= binFlagRPC
		rpcJSON, err = json.Marshal(p.RPC)
		if err != nil {
			return nil, fmt.Errorf("riptide: encode binary rpc: %w", err)
		}
	}
	if p.Bytes != nil {
		flags |= binFlagBytes
	}
	if p.Data != nil {
		flags |= binFlagData
		dataJSON, err = json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("riptide: encode binary data: %w", err)
		}
	}

	buf = append(buf, flags)
	if flags&binFlagRPC != 0 {
		buf = appendUint32Prefixed(buf, rpcJSON)
	}
	if flags&binFlagBytes != 0 {
		buf = appendUint32Prefixed(buf, p.Bytes)
	}
	if flags&binFlagData != 0 {
		buf = appendUint32Prefixed(buf, dataJSON)
	}
	return buf, nil
}

// Decode implements Codec.
func (BinaryCodec) Decode(b []byte) (Packet, error) {
	r := &byteReader{buf: b}

	version, err := r.readByte()
	if err != nil {
		return Packet{}, fmt.Errorf("riptide: binary decode: %w", err)
	}
	if version != binaryFormatVersion {
		return Packet{}, fmt.Errorf("riptide: unsupported binary wire version %d", version)
	}

	sourceByte, err := r.readByte()
	if err != nil {
		return Packet{}, fmt.Errorf("riptide: binary decode source: %w", err)
	}
	p := Packet{Source: Source(sourceByte)}

	chanBytes, err := r.readUint16Prefixed()
	if err != nil {
		return Packet{}, fmt.Errorf("riptide: binary decode channel: %w", err)
	}
	p.Channel = string(chanBytes)

	flags, err := r.readByte()
	if err != nil {
		return Packet{}, fmt.Errorf("riptide: binary decode flags: %w", err)
	}

	if flags&binFlagRPC != 0 {
		raw, err := r.readUint32Prefixed()
		if err != nil {
			return Packet{}, fmt.Errorf("riptide: binary decode rpc: %w", err)
		}
		var rpc RPC
		if err := json.Unmarshal(raw, &rpc); err != nil {
			return Packet{}, fmt.Errorf("riptide: binary decode rpc payload: %w", err)
		}
		p.RPC = &rpc
	}
	if flags&binFlagBytes != 0 {
		raw, err := r.readUint32Prefixed()
		if err != nil {
			return Packet{}, fmt.Errorf("riptide: binary decode bytes: %w", err)
		}
		p.Bytes = raw
	}
	if flags&binFlagData != 0 {
		raw, err := r.readUint32Prefixed()
		if err != nil {
			return Packet{}, fmt.Errorf("riptide: binary decode data: %w", err)
		}
		var data any
		if err := json.Unmarshal(raw, &data); err != nil {
			return Packet{}, fmt.Errorf("riptide: binary decode data payload: %w", err)
		}
		p.Data = data
	}
	return p, nil
}

func appendUint16Prefixed(buf, payload []byte) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(payload)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, payload...)
}

func appendUint32Prefixed(buf, payload []byte) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(payload)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, payload...)
}

// byteReader is a minimal cursor over a binary frame, used only by
// BinaryCodec.Decode.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("unexpected end of frame")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readUint16Prefixed() ([]byte, error) {
	if r.pos+2 > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of frame reading length")
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2]))
	r.pos += 2
	return r.readN(n)
}

func (r *byteReader) readUint32Prefixed() ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of frame reading length")
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4]))
	r.pos += 4
	return r.readN(n)
}

func (r *byteReader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of frame reading %d bytes", n)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}
