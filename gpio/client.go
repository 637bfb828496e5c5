package gpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// SignalInfo describes one pin as reported by the side channel.
type SignalInfo struct {
	Name      string
	Width     int
	Direction Dir
}

// A Client talks to a side-channel socket. It is synchronous and not safe
// for concurrent use.
type Client struct {
	conn    net.Conn
	signals []SignalInfo
}

// Dial connects to the side channel, retrying until the socket exists, and
// fetches the signal list.
func Dial(sockPath string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)

	var conn net.Conn
	var err error
	for {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("gpio: connect %s: %w", sockPath, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	c := &Client{conn: conn}
	if err := c.list(); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Signals returns the pins the side channel exposes, in wire index order.
func (c *Client) Signals() []SignalInfo {
	out := make([]SignalInfo, len(c.signals))
	copy(out, c.signals)
	return out
}

func (c *Client) resolve(name string) (int, error) {
	for i, s := range c.signals {
		if s.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("gpio: unknown signal %q", name)
}

func (c *Client) list() error {
	if _, err := c.conn.Write([]byte{OpList}); err != nil {
		return err
	}

	var hdr [2]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != RespList {
		return fmt.Errorf("gpio: unexpected response 0x%02X to LIST", hdr[0])
	}

	c.signals = c.signals[:0]
	for i := 0; i < int(hdr[1]); i++ {
		var nameLen [1]byte
		if _, err := io.ReadFull(c.conn, nameLen[:]); err != nil {
			return err
		}

		name := make([]byte, nameLen[0])
		if _, err := io.ReadFull(c.conn, name); err != nil {
			return err
		}

		var rest [2]byte
		if _, err := io.ReadFull(c.conn, rest[:]); err != nil {
			return err
		}

		c.signals = append(c.signals, SignalInfo{
			Name:      string(name),
			Width:     int(rest[0]),
			Direction: Dir(rest[1]),
		})
	}

	return nil
}

// Get reads the level of a device output.
func (c *Client) Get(name string) (uint32, error) {
	idx, err := c.resolve(name)
	if err != nil {
		return 0, err
	}

	if _, err := c.conn.Write([]byte{OpGet, uint8(idx)}); err != nil {
		return 0, err
	}

	var op [1]byte
	if _, err := io.ReadFull(c.conn, op[:]); err != nil {
		return 0, err
	}

	if op[0] == RespErr {
		return 0, c.readErr("GET")
	}
	if op[0] != RespValue {
		return 0, fmt.Errorf("gpio: unexpected response 0x%02X to GET", op[0])
	}

	var rest [5]byte
	if _, err := io.ReadFull(c.conn, rest[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(rest[1:]), nil
}

// Set drives a device input to a new level.
func (c *Client) Set(name string, val uint32) error {
	idx, err := c.resolve(name)
	if err != nil {
		return err
	}

	msg := make([]byte, 6)
	msg[0] = OpSet
	msg[1] = uint8(idx)
	binary.LittleEndian.PutUint32(msg[2:], val)
	if _, err := c.conn.Write(msg); err != nil {
		return err
	}

	return c.readAck("SET")
}

// Subscribe asks for change notifications on a device output.
func (c *Client) Subscribe(name string) error {
	idx, err := c.resolve(name)
	if err != nil {
		return err
	}

	if _, err := c.conn.Write([]byte{OpSubscribe, uint8(idx)}); err != nil {
		return err
	}

	return c.readAck("SUBSCRIBE")
}

// Unsubscribe stops change notifications on a device output.
func (c *Client) Unsubscribe(name string) error {
	idx, err := c.resolve(name)
	if err != nil {
		return err
	}

	if _, err := c.conn.Write([]byte{OpUnsub, uint8(idx)}); err != nil {
		return err
	}

	return c.readAck("UNSUB")
}

// RecvNotification waits for one change notification and returns the pin
// index and the new level.
func (c *Client) RecvNotification(timeout time.Duration) (int, uint32, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.conn.SetReadDeadline(time.Time{})

	var op [1]byte
	if _, err := io.ReadFull(c.conn, op[:]); err != nil {
		return 0, 0, err
	}
	if op[0] != RespValue {
		return 0, 0, fmt.Errorf(
			"gpio: unexpected message 0x%02X while waiting for a notification",
			op[0])
	}

	var rest [5]byte
	if _, err := io.ReadFull(c.conn, rest[:]); err != nil {
		return 0, 0, err
	}

	return int(rest[0]), binary.LittleEndian.Uint32(rest[1:]), nil
}

func (c *Client) readAck(what string) error {
	var op [1]byte
	if _, err := io.ReadFull(c.conn, op[:]); err != nil {
		return err
	}

	if op[0] == RespErr {
		return c.readErr(what)
	}
	if op[0] != RespAck {
		return fmt.Errorf("gpio: unexpected response 0x%02X to %s", op[0], what)
	}

	return nil
}

func (c *Client) readErr(what string) error {
	var code [1]byte
	if _, err := io.ReadFull(c.conn, code[:]); err != nil {
		return err
	}

	var reason string
	switch code[0] {
	case ErrBadIndex:
		reason = "bad index"
	case ErrWrongDirection:
		reason = "wrong direction"
	case ErrBadOpcode:
		reason = "bad opcode"
	default:
		reason = fmt.Sprintf("error 0x%02X", code[0])
	}

	return fmt.Errorf("gpio: %s failed: %s", what, reason)
}
