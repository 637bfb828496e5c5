// Package trace records completed bridge transactions so that firmware
// register traffic can be inspected after a co-simulation run.
package trace

import "github.com/sarchlab/cosim/sim"

// A Record describes one completed bridge transaction.
type Record struct {
	ID    string
	Kind  string
	Addr  uint64
	Size  uint8
	Value uint64
	Resp  string
	Beats int
	Start sim.VTimeInSec
	End   sim.VTimeInSec
}

// A Tracer can collect transaction records.
type Tracer interface {
	Trace(r Record)
}
