// Package scalar implements the fixed-layout value codecs that attribute
// payloads are ultimately built from: native and network byte order
// integers, opaque binary blobs, and nul-terminated strings.
//
// Each codec is stateless and carries no data of its own; the zero value of
// every exported type is ready to use.
package scalar

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnterminated is returned by NulString.Unpack when the input is not
// nul-terminated.
var ErrUnterminated = errors.New("scalar: nul-terminated string missing terminator")

// Codec packs a single Go value to its wire representation and back. Pack
// and Unpack are the inverse of each other for every value a given codec
// variant accepts.
type Codec interface {
	Pack(v any) ([]byte, error)
	Unpack(b []byte) (any, error)
}

// Ignored is returned by Ignore.Unpack to mean "present on the wire but not
// interpreted by this schema". It is distinct from nil so callers can tell
// "field absent" from "field present, contents ignored".
type Ignored struct{}

type u8 struct{}
type u16 struct{}
type u32 struct{}
type u64 struct{}
type i32 struct{}
type net16 struct{}
type net32 struct{}
type binary_ struct{}
type nulString struct{}
type ignore struct{}

// U8 packs/unpacks an unsigned 8-bit integer.
var U8 Codec = u8{}

// U16 packs/unpacks a native-byte-order unsigned 16-bit integer.
var U16 Codec = u16{}

// U32 packs/unpacks a native-byte-order unsigned 32-bit integer.
var U32 Codec = u32{}

// U64 packs/unpacks a native-byte-order unsigned 64-bit integer.
var U64 Codec = u64{}

// I32 packs/unpacks a native-byte-order signed 32-bit integer.
var I32 Codec = i32{}

// Net16 packs/unpacks a network-byte-order (big-endian) unsigned 16-bit integer.
var Net16 Codec = net16{}

// Net32 packs/unpacks a network-byte-order (big-endian) unsigned 32-bit integer.
var Net32 Codec = net32{}

// Binary is the identity codec for opaque byte slices, used when the kernel
// dictates a non-portable on-wire layout (e.g. IPVS "flags").
var Binary Codec = binary_{}

// NulString packs/unpacks a nul-terminated string.
var NulString Codec = nulString{}

// Ignore never packs (doing so is a programming error) and always unpacks
// to Ignored{}.
var Ignore Codec = ignore{}

func asUint(v any) (uint64, error) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("scalar: %T is not an unsigned integer", v)
	}
}

func (u8) Pack(v any) ([]byte, error) {
	n, err := asUint(v)
	if err != nil {
		return nil, err
	}
	return []byte{byte(n)}, nil
}

func (u8) Unpack(b []byte) (any, error) {
	if len(b) != 1 {
		return nil, fmt.Errorf("scalar: U8 wants 1 byte, got %d", len(b))
	}
	return b[0], nil
}

func (u16) Pack(v any) ([]byte, error) {
	n, err := asUint(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 2)
	binary.NativeEndian.PutUint16(b, uint16(n))
	return b, nil
}

func (u16) Unpack(b []byte) (any, error) {
	if len(b) != 2 {
		return nil, fmt.Errorf("scalar: U16 wants 2 bytes, got %d", len(b))
	}
	return binary.NativeEndian.Uint16(b), nil
}

func (u32) Pack(v any) ([]byte, error) {
	n, err := asUint(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(n))
	return b, nil
}

func (u32) Unpack(b []byte) (any, error) {
	if len(b) != 4 {
		return nil, fmt.Errorf("scalar: U32 wants 4 bytes, got %d", len(b))
	}
	return binary.NativeEndian.Uint32(b), nil
}

func (u64) Pack(v any) ([]byte, error) {
	n, err := asUint(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, n)
	return b, nil
}

func (u64) Unpack(b []byte) (any, error) {
	if len(b) != 8 {
		return nil, fmt.Errorf("scalar: U64 wants 8 bytes, got %d", len(b))
	}
	return binary.NativeEndian.Uint64(b), nil
}

func (i32) Pack(v any) ([]byte, error) {
	n, ok := v.(int32)
	if !ok {
		if m, ok2 := v.(int); ok2 {
			n, ok = int32(m), true
		}
	}
	if !ok {
		return nil, fmt.Errorf("scalar: %T is not a signed 32-bit integer", v)
	}
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(n))
	return b, nil
}

func (i32) Unpack(b []byte) (any, error) {
	if len(b) != 4 {
		return nil, fmt.Errorf("scalar: I32 wants 4 bytes, got %d", len(b))
	}
	return int32(binary.NativeEndian.Uint32(b)), nil
}

func (net16) Pack(v any) ([]byte, error) {
	n, err := asUint(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b, nil
}

func (net16) Unpack(b []byte) (any, error) {
	if len(b) != 2 {
		return nil, fmt.Errorf("scalar: Net16 wants 2 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

func (net32) Pack(v any) ([]byte, error) {
	n, err := asUint(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b, nil
}

func (net32) Unpack(b []byte) (any, error) {
	if len(b) != 4 {
		return nil, fmt.Errorf("scalar: Net32 wants 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func (binary_) Pack(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("scalar: %T is not []byte", v)
	}
	return b, nil
}

func (binary_) Unpack(b []byte) (any, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (nulString) Pack(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("scalar: %T is not a string", v)
	}
	return append([]byte(s), 0), nil
}

func (nulString) Unpack(b []byte) (any, error) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return nil, ErrUnterminated
	}
	return string(b[:len(b)-1]), nil
}

func (ignore) Pack(v any) ([]byte, error) {
	return nil, fmt.Errorf("scalar: Ignore codec cannot pack a value (got %T)", v)
}

func (ignore) Unpack([]byte) (any, error) {
	return Ignored{}, nil
}
