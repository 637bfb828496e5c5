package amba

import "fmt"

// BusWidth is the data width of the bus in bytes.
const BusWidth = 4

// Resp is the response code of a completed transaction.
type Resp uint8

// The response codes a slave can return. RespTimeout is not a bus-level
// response. It is reported by the master when a handshake does not complete
// within the configured number of cycles.
const (
	RespOKAY Resp = iota
	RespSLVERR
	RespDECERR
	RespTimeout
)

// String returns the name of the response code.
func (r Resp) String() string {
	switch r {
	case RespOKAY:
		return "OKAY"
	case RespSLVERR:
		return "SLVERR"
	case RespDECERR:
		return "DECERR"
	case RespTimeout:
		return "TIMEOUT"
	}

	return fmt.Sprintf("Resp(%d)", uint8(r))
}

// A Beat is one word-aligned, bus-width transaction to be executed by the
// Master. WordAddr must be aligned to BusWidth. Data and Strobe are only
// meaningful for writes. Strobe selects the byte lanes of the word that the
// write touches, bit 0 for the byte at WordAddr.
type Beat struct {
	WordAddr uint64
	IsWrite  bool
	Data     uint32
	Strobe   uint8
}

// A BeatResult carries the outcome of one Beat. Data is only meaningful for
// reads that complete with RespOKAY.
type BeatResult struct {
	Resp Resp
	Data uint32
}
