package amba

import (
	"log"
	"reflect"

	"github.com/sarchlab/cosim/sim"
)

type masterState int

const (
	masterIdle masterState = iota
	masterWriteIssue
	masterWriteResp
	masterWriteDrain
	masterReadAddr
	masterReadData
	masterReadDrain
)

type beatTimeoutEvent struct {
	*sim.EventBase

	serial uint64
}

// A Master drives one Beat at a time over an Interface, executing the full
// valid/ready handshake of each involved channel. A second Beat cannot be
// launched before the first one has fully completed, including its response
// phase.
type Master struct {
	*sim.TickingComponent

	iface         *Interface
	timeoutCycles int

	state     masterState
	beat      Beat
	serial    uint64
	result    BeatResult
	hasResult bool

	done Agent
}

// Busy returns true while a beat is in flight, including the cycles spent
// returning the handshake signals to idle.
func (m *Master) Busy() bool {
	return m.state != masterIdle
}

// NotifyDoneTo registers an agent to wake up whenever a beat completes.
func (m *Master) NotifyDoneTo(a Agent) {
	m.done = a
}

// Launch starts executing a beat. It panics if the master is busy. The
// outcome is retrieved with TakeResult after the handshake completes.
func (m *Master) Launch(b Beat) {
	if m.state != masterIdle {
		log.Panicf("master %s: beat launched while busy", m.Name())
	}

	m.beat = b
	m.hasResult = false
	m.serial++

	i := m.iface
	if b.IsWrite {
		i.AW.Valid = true
		i.AW.Addr = b.WordAddr
		i.W.Valid = true
		i.W.Data = b.Data
		i.W.Strobe = b.Strobe
		m.state = masterWriteIssue
	} else {
		i.AR.Valid = true
		i.AR.Addr = b.WordAddr
		m.state = masterReadAddr
	}
	i.NotifySlave()

	m.scheduleTimeout()
	m.TickLater()
}

// TakeResult returns the result of the most recently completed beat. The
// second return value is false if no unconsumed result is available.
func (m *Master) TakeResult() (BeatResult, bool) {
	if !m.hasResult {
		return BeatResult{}, false
	}

	m.hasResult = false
	return m.result, true
}

// Tick samples the bus and advances the handshake state machine.
func (m *Master) Tick() bool {
	switch m.state {
	case masterWriteIssue:
		return m.writeIssue()
	case masterWriteResp:
		return m.writeResp()
	case masterWriteDrain:
		return m.writeDrain()
	case masterReadAddr:
		return m.readAddr()
	case masterReadData:
		return m.readData()
	case masterReadDrain:
		return m.readDrain()
	}

	return false
}

// Handle dispatches the events that the master schedules for itself.
func (m *Master) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *beatTimeoutEvent:
		return m.handleBeatTimeout(e)
	case sim.TickEvent:
		return m.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of %s", reflect.TypeOf(e))
	}

	return nil
}

func (m *Master) writeIssue() bool {
	i := m.iface
	changed := false

	if i.AW.Valid && i.AW.Ready {
		i.AW.Valid = false
		changed = true
	}

	if i.W.Valid && i.W.Ready {
		i.W.Valid = false
		changed = true
	}

	// The write is only issued once both the address and the data phase
	// have been acknowledged, in whichever order the slave takes them.
	if !i.AW.Valid && !i.W.Valid {
		i.B.Ready = true
		m.state = masterWriteResp
		changed = true
	}

	if changed {
		i.NotifySlave()
	}

	// The slave samples the bus after the master in the same cycle, so a
	// response that is already valid must be latched now. Waiting one more
	// cycle would let the slave retire the handshake unobserved.
	if m.state == masterWriteResp {
		changed = m.writeResp() || changed
	}

	return changed
}

func (m *Master) writeResp() bool {
	i := m.iface

	if i.B.Valid && i.B.Ready {
		m.result = BeatResult{Resp: i.B.Resp}
		m.state = masterWriteDrain
		return true
	}

	return false
}

func (m *Master) writeDrain() bool {
	i := m.iface

	if !i.B.Valid {
		i.B.Ready = false
		i.NotifySlave()
		m.complete()
		return true
	}

	return false
}

func (m *Master) readAddr() bool {
	i := m.iface

	if i.AR.Valid && i.AR.Ready {
		i.AR.Valid = false
		i.R.Ready = true
		m.state = masterReadData
		i.NotifySlave()

		// Same-cycle latch, see writeIssue.
		m.readData()

		return true
	}

	return false
}

func (m *Master) readData() bool {
	i := m.iface

	if i.R.Valid && i.R.Ready {
		m.result = BeatResult{Resp: i.R.Resp, Data: i.R.Data}
		m.state = masterReadDrain
		return true
	}

	return false
}

func (m *Master) readDrain() bool {
	i := m.iface

	if !i.R.Valid {
		i.R.Ready = false
		i.NotifySlave()
		m.complete()
		return true
	}

	return false
}

func (m *Master) complete() {
	m.state = masterIdle
	m.hasResult = true

	if m.done != nil {
		m.done.TickLater()
	}
}

func (m *Master) scheduleTimeout() {
	if m.timeoutCycles <= 0 {
		return
	}

	now := m.Engine.CurrentTime()
	evt := &beatTimeoutEvent{
		EventBase: sim.NewEventBase(
			m.Freq.NCyclesLater(m.timeoutCycles, now), m),
		serial: m.serial,
	}
	m.Engine.Schedule(evt)
}

func (m *Master) handleBeatTimeout(e *beatTimeoutEvent) error {
	if m.state == masterIdle || e.serial != m.serial {
		return nil
	}

	// The handshake stalled. Return the bus to idle and report the beat as
	// failed instead of blocking the session forever.
	i := m.iface
	i.AW.Valid = false
	i.W.Valid = false
	i.AR.Valid = false
	i.B.Ready = false
	i.R.Ready = false
	i.NotifySlave()

	log.Printf("master %s: handshake timed out after %d cycles, addr=0x%X",
		m.Name(), m.timeoutCycles, m.beat.WordAddr)

	m.result = BeatResult{Resp: RespTimeout}
	m.complete()

	return nil
}

// A MasterBuilder can build bus masters.
type MasterBuilder struct {
	engine        sim.Engine
	freq          sim.Freq
	iface         *Interface
	timeoutCycles int
}

// MakeMasterBuilder creates a MasterBuilder with default parameters.
func MakeMasterBuilder() MasterBuilder {
	return MasterBuilder{
		freq: 100 * sim.MHz,
	}
}

// WithEngine sets the event engine the master uses.
func (b MasterBuilder) WithEngine(engine sim.Engine) MasterBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the master.
func (b MasterBuilder) WithFreq(freq sim.Freq) MasterBuilder {
	b.freq = freq
	return b
}

// WithInterface sets the bus interface the master drives.
func (b MasterBuilder) WithInterface(i *Interface) MasterBuilder {
	b.iface = i
	return b
}

// WithTimeoutCycles bounds the number of cycles a beat may take before it is
// abandoned with RespTimeout. Zero disables the timeout.
//
// The bound must stay well above the slave's handshake latency. Abandoning
// a beat only resets the master side of the handshake; a slave that was
// still going to respond is left holding its response valid with nobody to
// accept it, and later beats against it will time out too.
func (b MasterBuilder) WithTimeoutCycles(n int) MasterBuilder {
	b.timeoutCycles = n
	return b
}

// Build creates a Master with the given name.
func (b MasterBuilder) Build(name string) *Master {
	m := &Master{
		iface:         b.iface,
		timeoutCycles: b.timeoutCycles,
	}
	m.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, m)
	b.iface.PlugInMaster(m)

	return m
}
