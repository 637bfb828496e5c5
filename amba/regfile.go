package amba

import (
	"encoding/binary"
	"log"

	"github.com/sarchlab/cosim/sim"
)

// A RegFile is a word-addressable bus slave backed by a flat register array.
// It honors byte strobes on writes, paces each handshake by a configurable
// number of cycles, and responds DECERR for accesses outside its address
// window. A sub-window can be configured to respond SLVERR, which is useful
// for exercising error paths.
//
// The RegFile ticks with secondary events so that it always samples the bus
// after the master has driven it in the same cycle.
type RegFile struct {
	*sim.TickingComponent

	iface   *Interface
	base    uint64
	size    uint64
	latency int
	errLo   uint64
	errHi   uint64

	mem []byte

	awCaptured bool
	awAddr     uint64
	awWait     int

	wCaptured bool
	wData     uint32
	wStrobe   uint8
	wWait     int

	arCaptured bool
	arAddr     uint64
	arWait     int
}

// Word returns the word stored at addr, bypassing the bus. It is meant for
// test setup and for exposing registers as side-channel signals.
func (r *RegFile) Word(addr uint64) uint32 {
	r.mustContainWord(addr)
	return binary.LittleEndian.Uint32(r.mem[addr-r.base:])
}

// SetWord stores a word at addr, bypassing the bus.
func (r *RegFile) SetWord(addr uint64, data uint32) {
	r.mustContainWord(addr)
	binary.LittleEndian.PutUint32(r.mem[addr-r.base:], data)
}

func (r *RegFile) mustContainWord(addr uint64) {
	if addr%BusWidth != 0 {
		log.Panicf("regfile %s: address 0x%X is not word aligned",
			r.Name(), addr)
	}
	if !r.containsWord(addr) {
		log.Panicf("regfile %s: address 0x%X out of range", r.Name(), addr)
	}
}

// containsWord reports whether the full bus word at addr lies inside the
// decoded window. The check stays subtraction based so that a word near the
// top of the address space cannot wrap past the window bound.
func (r *RegFile) containsWord(addr uint64) bool {
	if addr < r.base {
		return false
	}

	offset := addr - r.base
	return offset < r.size && r.size-offset >= BusWidth
}

// Tick samples the master-driven signals and advances the slave side of the
// handshakes.
func (r *RegFile) Tick() bool {
	madeProgress := false

	madeProgress = r.updateWriteAddr() || madeProgress
	madeProgress = r.updateWriteData() || madeProgress
	madeProgress = r.updateWriteResp() || madeProgress
	madeProgress = r.updateReadAddr() || madeProgress
	madeProgress = r.updateReadData() || madeProgress

	return madeProgress
}

func (r *RegFile) updateWriteAddr() bool {
	i := r.iface

	if i.AW.Ready {
		if !i.AW.Valid {
			i.AW.Ready = false
			i.NotifyMaster()
			return true
		}
		return false
	}

	if i.AW.Valid && !r.awCaptured {
		if r.awWait < r.latency {
			r.awWait++
			return true
		}

		r.awAddr = i.AW.Addr
		r.awCaptured = true
		r.awWait = 0
		i.AW.Ready = true
		i.NotifyMaster()
		return true
	}

	return false
}

func (r *RegFile) updateWriteData() bool {
	i := r.iface

	if i.W.Ready {
		if !i.W.Valid {
			i.W.Ready = false
			i.NotifyMaster()
			return true
		}
		return false
	}

	if i.W.Valid && !r.wCaptured {
		if r.wWait < r.latency {
			r.wWait++
			return true
		}

		r.wData = i.W.Data
		r.wStrobe = i.W.Strobe
		r.wCaptured = true
		r.wWait = 0
		i.W.Ready = true
		i.NotifyMaster()
		return true
	}

	return false
}

func (r *RegFile) updateWriteResp() bool {
	i := r.iface

	if i.B.Valid {
		if i.B.Ready {
			i.B.Valid = false
			r.awCaptured = false
			r.wCaptured = false
			i.NotifyMaster()
			return true
		}
		return false
	}

	if r.awCaptured && r.wCaptured {
		i.B.Resp = r.write(r.awAddr, r.wData, r.wStrobe)
		i.B.Valid = true
		i.NotifyMaster()
		return true
	}

	return false
}

func (r *RegFile) updateReadAddr() bool {
	i := r.iface

	if i.AR.Ready {
		if !i.AR.Valid {
			i.AR.Ready = false
			i.NotifyMaster()
			return true
		}
		return false
	}

	if i.AR.Valid && !r.arCaptured {
		if r.arWait < r.latency {
			r.arWait++
			return true
		}

		r.arAddr = i.AR.Addr
		r.arCaptured = true
		r.arWait = 0
		i.AR.Ready = true
		i.NotifyMaster()
		return true
	}

	return false
}

func (r *RegFile) updateReadData() bool {
	i := r.iface

	if i.R.Valid {
		if i.R.Ready {
			i.R.Valid = false
			r.arCaptured = false
			i.NotifyMaster()
			return true
		}
		return false
	}

	if r.arCaptured {
		i.R.Data, i.R.Resp = r.read(r.arAddr)
		i.R.Valid = true
		i.NotifyMaster()
		return true
	}

	return false
}

func (r *RegFile) respFor(addr uint64) Resp {
	if !r.containsWord(addr) {
		return RespDECERR
	}
	if r.errHi > r.errLo && addr >= r.errLo && addr < r.errHi {
		return RespSLVERR
	}
	return RespOKAY
}

func (r *RegFile) write(addr uint64, data uint32, strobe uint8) Resp {
	resp := r.respFor(addr)
	if resp != RespOKAY {
		return resp
	}

	offset := addr - r.base
	for lane := 0; lane < BusWidth; lane++ {
		if strobe&(1<<lane) == 0 {
			continue
		}
		r.mem[offset+uint64(lane)] = byte(data >> (8 * lane))
	}

	return RespOKAY
}

func (r *RegFile) read(addr uint64) (uint32, Resp) {
	resp := r.respFor(addr)
	if resp != RespOKAY {
		return 0, resp
	}

	return binary.LittleEndian.Uint32(r.mem[addr-r.base:]), RespOKAY
}

// A RegFileBuilder can build register-file slaves.
type RegFileBuilder struct {
	engine  sim.Engine
	freq    sim.Freq
	iface   *Interface
	base    uint64
	size    uint64
	latency int
	errLo   uint64
	errHi   uint64
}

// MakeRegFileBuilder creates a RegFileBuilder with default parameters.
func MakeRegFileBuilder() RegFileBuilder {
	return RegFileBuilder{
		freq: 100 * sim.MHz,
		size: 4096,
	}
}

// WithEngine sets the event engine the register file uses.
func (b RegFileBuilder) WithEngine(engine sim.Engine) RegFileBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the register file.
func (b RegFileBuilder) WithFreq(freq sim.Freq) RegFileBuilder {
	b.freq = freq
	return b
}

// WithInterface sets the bus interface the register file serves.
func (b RegFileBuilder) WithInterface(i *Interface) RegFileBuilder {
	b.iface = i
	return b
}

// WithRange sets the address window the register file decodes. Accesses
// outside the window respond DECERR.
func (b RegFileBuilder) WithRange(base, size uint64) RegFileBuilder {
	b.base = base
	b.size = size
	return b
}

// WithLatency sets the number of cycles the register file waits before
// acknowledging each address or data phase.
func (b RegFileBuilder) WithLatency(n int) RegFileBuilder {
	b.latency = n
	return b
}

// WithErrorWindow makes accesses to [lo, hi) respond SLVERR without touching
// the storage.
func (b RegFileBuilder) WithErrorWindow(lo, hi uint64) RegFileBuilder {
	b.errLo = lo
	b.errHi = hi
	return b
}

// Build creates a RegFile with the given name.
func (b RegFileBuilder) Build(name string) *RegFile {
	if b.size%BusWidth != 0 {
		log.Panicf("regfile %s: size must be a multiple of %d bytes",
			name, BusWidth)
	}

	r := &RegFile{
		iface:   b.iface,
		base:    b.base,
		size:    b.size,
		latency: b.latency,
		errLo:   b.errLo,
		errHi:   b.errHi,
		mem:     make([]byte, b.size),
	}
	r.TickingComponent = sim.NewSecondaryTickingComponent(
		name, b.engine, b.freq, r)
	b.iface.PlugInSlave(r)

	return r
}
