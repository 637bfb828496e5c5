// Package bridge translates memory-mapped I/O requests arriving over a byte
// stream into bus transactions against a simulated design. It implements the
// wire protocol of the emulator-side MMIO stub: fixed 18-byte request frames,
// one synchronous request in flight at a time, exactly one response per
// request.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameSize is the size of a request frame in bytes.
const FrameSize = 18

// Acknowledge bytes for write requests.
const (
	WriteAckOK   byte = 0x01
	WriteAckFail byte = 0x00
)

// ErrMalformedRequest indicates a request frame with an invalid op or size
// field. It is fatal to the session, since it means the two ends disagree on
// the protocol rather than a transient condition.
var ErrMalformedRequest = errors.New("malformed request")

// Op is the operation of a request.
type Op uint8

// The operations a request can carry.
const (
	OpRead  Op = 0
	OpWrite Op = 1
)

// String returns the name of the operation.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}

	return fmt.Sprintf("Op(%d)", uint8(o))
}

// A Request is one decoded MMIO access. Val is only meaningful for writes.
type Request struct {
	Op   Op
	Size uint8
	Addr uint64
	Val  uint64
}

// DecodeRequest decodes an 18-byte request frame. Frame layout, all
// multi-byte fields little-endian: op(1) size(1) addr(8) val(8).
func DecodeRequest(frame []byte) (Request, error) {
	if len(frame) != FrameSize {
		return Request{}, fmt.Errorf(
			"%w: frame is %d bytes, need %d",
			ErrMalformedRequest, len(frame), FrameSize)
	}

	op := Op(frame[0])
	if op != OpRead && op != OpWrite {
		return Request{}, fmt.Errorf(
			"%w: op %d", ErrMalformedRequest, frame[0])
	}

	size := frame[1]
	switch size {
	case 1, 2, 4, 8:
	default:
		return Request{}, fmt.Errorf(
			"%w: size %d", ErrMalformedRequest, size)
	}

	return Request{
		Op:   op,
		Size: size,
		Addr: binary.LittleEndian.Uint64(frame[2:10]),
		Val:  binary.LittleEndian.Uint64(frame[10:18]),
	}, nil
}

// Encode serializes the request into a frame. It is the client side of
// DecodeRequest.
func (r Request) Encode() []byte {
	frame := make([]byte, FrameSize)
	frame[0] = byte(r.Op)
	frame[1] = r.Size
	binary.LittleEndian.PutUint64(frame[2:10], r.Addr)
	binary.LittleEndian.PutUint64(frame[10:18], r.Val)
	return frame
}

// encodeReadData returns the low size bytes of val, little-endian. This is
// the payload of a read response.
func encodeReadData(val uint64, size uint8) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	return buf[:size]
}
