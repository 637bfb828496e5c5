// Package gpio exposes side-channel signals of the device model over a
// unix socket, next to the register traffic that flows through the bridge.
// Test harnesses use it to drive device inputs and watch device outputs
// without going through the firmware.
package gpio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Dir tells which side drives a pin.
type Dir uint8

const (
	// DirIn pins are device inputs. A client can set them.
	DirIn Dir = 0x00

	// DirOut pins are device outputs. A client can get and subscribe to
	// them.
	DirOut Dir = 0x01
)

func (d Dir) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	}
	return fmt.Sprintf("Dir(%d)", uint8(d))
}

// Request opcodes.
const (
	OpList      uint8 = 0x01
	OpGet       uint8 = 0x02
	OpSet       uint8 = 0x03
	OpSubscribe uint8 = 0x04
	OpUnsub     uint8 = 0x05
)

// Response opcodes.
const (
	RespList  uint8 = 0x81
	RespValue uint8 = 0x82
	RespAck   uint8 = 0x83
	RespErr   uint8 = 0x84
)

// Error codes carried by RespErr.
const (
	ErrBadIndex       uint8 = 0x01
	ErrWrongDirection uint8 = 0x02
	ErrBadOpcode      uint8 = 0x03
)

// A message is one request as read off the wire.
type message struct {
	op      uint8
	payload []byte
}

// readMessage reads one request. The payload length is fixed per opcode,
// so an unknown opcode can still be consumed and answered with an error.
func readMessage(r io.Reader) (message, error) {
	var op [1]byte
	if _, err := io.ReadFull(r, op[:]); err != nil {
		return message{}, err
	}

	var n int
	switch op[0] {
	case OpList:
		n = 0
	case OpGet, OpSubscribe, OpUnsub:
		n = 1
	case OpSet:
		n = 5
	default:
		n = 0
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return message{}, err
	}

	return message{op: op[0], payload: payload}, nil
}

func encodeValue(idx uint8, val uint32) []byte {
	msg := make([]byte, 6)
	msg[0] = RespValue
	msg[1] = idx
	binary.LittleEndian.PutUint32(msg[2:], val)
	return msg
}

func encodeAck() []byte {
	return []byte{RespAck}
}

func encodeErr(code uint8) []byte {
	return []byte{RespErr, code}
}

func encodeList(pins []Pin) []byte {
	msg := []byte{RespList, uint8(len(pins))}
	for _, p := range pins {
		name := p.Name()
		msg = append(msg, uint8(len(name)))
		msg = append(msg, name...)
		msg = append(msg, uint8(p.Width()), uint8(p.Direction()))
	}
	return msg
}
