package amba

// An Agent is a clocked component attached to one side of an Interface. It is
// woken up when the other side changes the signals it drives.
type Agent interface {
	TickLater()
}

// WriteAddrChannel carries the address phase of a write.
type WriteAddrChannel struct {
	Valid bool
	Ready bool
	Addr  uint64
}

// WriteDataChannel carries the data phase of a write. Strobe selects the
// byte lanes that are actually written.
type WriteDataChannel struct {
	Valid  bool
	Ready  bool
	Data   uint32
	Strobe uint8
}

// WriteRespChannel carries the response phase of a write.
type WriteRespChannel struct {
	Valid bool
	Ready bool
	Resp  Resp
}

// ReadAddrChannel carries the address phase of a read.
type ReadAddrChannel struct {
	Valid bool
	Ready bool
	Addr  uint64
}

// ReadDataChannel carries the data phase of a read.
type ReadDataChannel struct {
	Valid bool
	Ready bool
	Data  uint32
	Resp  Resp
}

// An Interface is the bundle of handshake channels that connects exactly one
// master to exactly one slave. Valid, address, and data signals of the AW, W,
// and AR channels are driven by the master; the slave drives the ready
// signals of those channels and everything on the B and R channels except
// their ready signals.
//
// A side that changes any signal it drives must call NotifySlave or
// NotifyMaster so that the other side samples the bus on its next cycle.
type Interface struct {
	name string

	AW WriteAddrChannel
	W  WriteDataChannel
	B  WriteRespChannel
	AR ReadAddrChannel
	R  ReadDataChannel

	master Agent
	slave  Agent
}

// NewInterface creates a named Interface with all signals deasserted.
func NewInterface(name string) *Interface {
	return &Interface{name: name}
}

// Name returns the name of the interface.
func (i *Interface) Name() string {
	return i.name
}

// PlugInMaster attaches the master-side agent.
func (i *Interface) PlugInMaster(a Agent) {
	if i.master != nil {
		panic("interface " + i.name + " already has a master")
	}
	i.master = a
}

// PlugInSlave attaches the slave-side agent.
func (i *Interface) PlugInSlave(a Agent) {
	if i.slave != nil {
		panic("interface " + i.name + " already has a slave")
	}
	i.slave = a
}

// NotifySlave wakes the slave side. Called by the master after it changes
// the signals it drives.
func (i *Interface) NotifySlave() {
	if i.slave != nil {
		i.slave.TickLater()
	}
}

// NotifyMaster wakes the master side. Called by the slave after it changes
// the signals it drives.
func (i *Interface) NotifyMaster() {
	if i.master != nil {
		i.master.TickLater()
	}
}
