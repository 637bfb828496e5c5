package gpio

import (
	"encoding/binary"
	"log"
	"reflect"
	"sync/atomic"

	"github.com/sarchlab/cosim/sim"
)

type pollEvent struct {
	*sim.EventBase
}

// Comp is the side-channel component. It serves client requests against
// the pins and watches subscribed outputs for changes, all on the
// simulation goroutine.
type Comp struct {
	*sim.TickingComponent

	server     *server
	pins       []Pin
	pollCycles int

	sess       *session
	subscribed map[int]bool
	lastValues map[int]uint32

	stopped atomic.Bool
}

// Start binds the socket and schedules the first poll.
func (c *Comp) Start() error {
	if err := c.server.start(); err != nil {
		return err
	}

	c.schedulePoll()

	return nil
}

// Stop closes the socket and ends the poll chain, so a draining engine is
// not kept alive by an idle side channel. It is safe to call from any
// goroutine, including from a bridge SessionEnd hook.
func (c *Comp) Stop() {
	c.stopped.Store(true)
	c.server.stop()
}

// Handle dispatches the events the side channel schedules for itself.
func (c *Comp) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *pollEvent:
		c.schedulePoll()
		c.TickNow()
		return nil
	case sim.TickEvent:
		return c.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of %s", reflect.TypeOf(e))
	}

	return nil
}

func (c *Comp) schedulePoll() {
	if c.stopped.Load() {
		return
	}

	now := c.Engine.CurrentTime()
	evt := &pollEvent{
		EventBase: sim.NewEventBase(c.Freq.NCyclesLater(c.pollCycles, now), c),
	}
	c.Engine.Schedule(evt)
}

// Tick serves at most one request and then samples the subscribed outputs,
// so a change caused by the request itself is noticed in the same cycle.
func (c *Comp) Tick() bool {
	madeProgress := c.pickUpSession()

	if c.sess == nil {
		return madeProgress
	}

	select {
	case msg, ok := <-c.sess.requests:
		if !ok {
			c.endSession()
			return true
		}

		c.pushReply(c.handleRequest(msg))
		madeProgress = true
	default:
	}

	madeProgress = c.sampleOutputs() || madeProgress

	return madeProgress
}

func (c *Comp) pickUpSession() bool {
	if c.sess != nil {
		return false
	}

	select {
	case sess := <-c.server.sessions:
		c.sess = sess
		return true
	default:
		return false
	}
}

// endSession forgets the subscriptions of the departed client and releases
// the writer goroutine.
func (c *Comp) endSession() {
	c.subscribed = map[int]bool{}
	c.lastValues = map[int]uint32{}
	close(c.sess.replies)
	c.sess = nil
}

func (c *Comp) handleRequest(msg message) []byte {
	switch msg.op {
	case OpList:
		return encodeList(c.pins)
	case OpGet:
		return c.handleGet(msg)
	case OpSet:
		return c.handleSet(msg)
	case OpSubscribe:
		return c.handleSubscribe(msg)
	case OpUnsub:
		return c.handleUnsub(msg)
	}

	return encodeErr(ErrBadOpcode)
}

func (c *Comp) handleGet(msg message) []byte {
	idx := int(msg.payload[0])
	if idx >= len(c.pins) {
		return encodeErr(ErrBadIndex)
	}

	pin := c.pins[idx]
	if pin.Direction() != DirOut {
		return encodeErr(ErrWrongDirection)
	}

	return encodeValue(uint8(idx), pin.Value())
}

func (c *Comp) handleSet(msg message) []byte {
	idx := int(msg.payload[0])
	if idx >= len(c.pins) {
		return encodeErr(ErrBadIndex)
	}

	pin := c.pins[idx]
	if pin.Direction() != DirIn {
		return encodeErr(ErrWrongDirection)
	}

	pin.SetValue(binary.LittleEndian.Uint32(msg.payload[1:]))

	return encodeAck()
}

func (c *Comp) handleSubscribe(msg message) []byte {
	idx := int(msg.payload[0])
	if idx >= len(c.pins) {
		return encodeErr(ErrBadIndex)
	}

	pin := c.pins[idx]
	if pin.Direction() != DirOut {
		return encodeErr(ErrWrongDirection)
	}

	c.subscribed[idx] = true
	c.lastValues[idx] = pin.Value()

	return encodeAck()
}

func (c *Comp) handleUnsub(msg message) []byte {
	idx := int(msg.payload[0])
	if idx >= len(c.pins) {
		return encodeErr(ErrBadIndex)
	}

	delete(c.subscribed, idx)
	delete(c.lastValues, idx)

	return encodeAck()
}

// sampleOutputs pushes a VALUE notification for every subscribed output
// whose level changed since the last sample.
func (c *Comp) sampleOutputs() bool {
	changed := false

	for idx := range c.subscribed {
		cur := c.pins[idx].Value()
		if cur == c.lastValues[idx] {
			continue
		}

		c.lastValues[idx] = cur
		c.pushOut(encodeValue(uint8(idx), cur))
		changed = true
	}

	return changed
}

// pushReply hands the reply for the request just served to the writer.
// The client owes us a strict request/reply alternation, so the slot is
// normally free. A client that pipelined requests and stopped reading gets
// dropped rather than letting it block the simulation goroutine.
func (c *Comp) pushReply(msg []byte) {
	select {
	case c.sess.replies <- msg:
	default:
		log.Printf("gpio %s: client not consuming replies, dropping it",
			c.Name())
		c.endSession()
	}
}

// pushOut queues a notification. Notifications carry no delivery promise,
// so a client that stops draining loses them rather than stalling the
// simulation or its own replies.
func (c *Comp) pushOut(msg []byte) {
	select {
	case c.sess.out <- msg:
	default:
		log.Printf("gpio %s: client not draining, dropping a notification",
			c.Name())
	}
}

// A Builder can build side-channel components.
type Builder struct {
	engine     sim.Engine
	freq       sim.Freq
	sockPath   string
	pollCycles int
	pins       []Pin
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:       100 * sim.MHz,
		pollCycles: 10,
	}
}

// WithEngine sets the event engine the side channel uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the sampling clock frequency.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithSocketPath sets the unix socket path clients connect to.
func (b Builder) WithSocketPath(path string) Builder {
	b.sockPath = path
	return b
}

// WithPollCycles sets how many cycles pass between socket polls.
func (b Builder) WithPollCycles(n int) Builder {
	b.pollCycles = n
	return b
}

// WithPins appends pins. Pin indices on the wire follow the order the pins
// were added in.
func (b Builder) WithPins(pins ...Pin) Builder {
	b.pins = append(b.pins, pins...)
	return b
}

// Build creates a side-channel component with the given name.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		server:     newServer(b.sockPath),
		pins:       b.pins,
		pollCycles: b.pollCycles,
		subscribed: map[int]bool{},
		lastValues: map[int]uint32{},
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	return c
}
