package bridge

import (
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/trace"
)

// A Builder can build bridge components.
type Builder struct {
	engine     sim.Engine
	freq       sim.Freq
	driver     BusDriver
	sockPath   string
	addrOffset uint64
	pollCycles int
	tracers    []trace.Tracer
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:       100 * sim.MHz,
		pollCycles: 10,
	}
}

// WithEngine sets the event engine the bridge uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the bridge.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithBusDriver sets the driver that executes beats on the bus.
func (b Builder) WithBusDriver(driver BusDriver) Builder {
	b.driver = driver
	return b
}

// WithSocketPath sets the unix socket path the emulator connects to.
func (b Builder) WithSocketPath(path string) Builder {
	b.sockPath = path
	return b
}

// WithAddrOffset sets the base address that is subtracted from every
// emulator address before it reaches the bus. Firmware sees the device at
// its mapped address while the device model starts at zero.
func (b Builder) WithAddrOffset(offset uint64) Builder {
	b.addrOffset = offset
	return b
}

// WithPollCycles sets how many bus cycles pass between socket polls.
func (b Builder) WithPollCycles(n int) Builder {
	b.pollCycles = n
	return b
}

// WithTracer adds a tracer that receives a record for every completed
// transaction.
func (b Builder) WithTracer(t trace.Tracer) Builder {
	b.tracers = append(b.tracers, t)
	return b
}

// Build creates a bridge component with the given name.
func (b Builder) Build(name string) *Comp {
	c := &Comp{
		listener:   newListener(b.sockPath),
		seq:        newSequencer(b.driver, b.addrOffset),
		tracers:    b.tracers,
		pollCycles: b.pollCycles,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)
	b.driver.NotifyDoneTo(c)

	return c
}
