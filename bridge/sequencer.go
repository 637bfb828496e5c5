package bridge

import (
	"log"

	"github.com/sarchlab/cosim/amba"
)

// A BusDriver executes beats one at a time. It is the only path through
// which the bridge touches the bus.
type BusDriver interface {
	// Busy returns true while a beat is in flight.
	Busy() bool

	// Launch starts executing a beat. It must not be called while the
	// driver is busy.
	Launch(b amba.Beat)

	// TakeResult returns the result of the most recently completed beat,
	// at most once per beat.
	TakeResult() (amba.BeatResult, bool)

	// NotifyDoneTo registers an agent to wake up when a beat completes.
	NotifyDoneTo(a amba.Agent)
}

type seqState int

const (
	seqIdle seqState = iota
	seqDecoding
	seqSplitting
	seqDriving
	seqAggregating
	seqResponding
	seqFaulted
)

// A response is what the listener writes back for one frame. A fatal
// response carries no payload and tears the session down.
type response struct {
	payload []byte
	fatal   bool
}

// A sequencer carries one request end to end: decode, split into beats,
// drive each beat in order, aggregate, respond. It owns the decoded request
// and the beat list for the duration of the request, and it never starts
// decoding frame N+1 before the response for frame N has been handed off.
type sequencer struct {
	driver     BusDriver
	addrOffset uint64

	state     seqState
	frame     [FrameSize]byte
	req       Request
	beats     []amba.Beat
	results   []amba.BeatResult
	beatIndex int
	inFlight  bool
	failure   amba.Resp
	respVal   uint64

	resp    response
	hasResp bool
}

func newSequencer(driver BusDriver, addrOffset uint64) *sequencer {
	return &sequencer{
		driver:     driver,
		addrOffset: addrOffset,
	}
}

func (s *sequencer) idle() bool {
	return s.state == seqIdle
}

func (s *sequencer) faulted() bool {
	return s.state == seqFaulted
}

// request returns the decoded request of the transaction in flight.
func (s *sequencer) request() Request {
	return s.req
}

// beatCount returns the number of beats completed so far.
func (s *sequencer) beatCount() int {
	return len(s.results)
}

// failureResp returns the response code that aborted the transaction, or
// RespOKAY if every beat succeeded.
func (s *sequencer) failureResp() amba.Resp {
	return s.failure
}

// value returns the data of the completed transaction. For a write it is
// the value the emulator sent, for a read the value assembled off the bus.
func (s *sequencer) value() uint64 {
	if s.req.Op == OpRead {
		return s.respVal
	}
	return s.req.Val
}

// reset returns the sequencer to idle. It must not be called while a beat
// is in flight on the driver.
func (s *sequencer) reset() {
	if s.inFlight {
		log.Panic("sequencer: reset with a beat in flight")
	}

	s.state = seqIdle
	s.hasResp = false
}

// start accepts a raw frame. The sequencer must be idle.
func (s *sequencer) start(frame [FrameSize]byte) {
	if s.state != seqIdle {
		log.Panic("sequencer: frame accepted while a request is in flight")
	}

	s.frame = frame
	s.state = seqDecoding
}

// takeResponse returns the response for the completed request, at most once
// per request.
func (s *sequencer) takeResponse() (response, bool) {
	if !s.hasResp {
		return response{}, false
	}

	s.hasResp = false
	return s.resp, true
}

// tick advances the state machine by at most one transition. It returns
// true if progress was made.
func (s *sequencer) tick() bool {
	switch s.state {
	case seqDecoding:
		return s.decode()
	case seqSplitting:
		return s.split()
	case seqDriving:
		return s.drive()
	case seqAggregating:
		return s.aggregate()
	case seqResponding:
		return s.respond()
	}

	return false
}

func (s *sequencer) decode() bool {
	req, err := DecodeRequest(s.frame[:])
	if err != nil {
		log.Printf("bridge: %v, terminating session", err)
		s.state = seqFaulted
		return true
	}

	req.Addr -= s.addrOffset
	s.req = req
	s.state = seqSplitting

	return true
}

func (s *sequencer) split() bool {
	s.beats = splitBeats(s.req)
	s.results = s.results[:0]
	s.beatIndex = 0
	s.failure = amba.RespOKAY
	s.state = seqDriving

	return true
}

func (s *sequencer) drive() bool {
	if s.inFlight {
		res, ok := s.driver.TakeResult()
		if !ok {
			return false
		}

		s.inFlight = false
		s.results = append(s.results, res)

		if res.Resp != amba.RespOKAY {
			// Remaining beats are skipped. A partially completed
			// multi-beat write is surfaced, not retried.
			s.failure = res.Resp
			s.state = seqAggregating
			return true
		}

		s.beatIndex++
		if s.beatIndex == len(s.beats) {
			s.state = seqAggregating
			return true
		}
	}

	if s.driver.Busy() {
		return false
	}

	s.driver.Launch(s.beats[s.beatIndex])
	s.inFlight = true

	return true
}

func (s *sequencer) aggregate() bool {
	if s.req.Op == OpRead {
		s.respVal = 0
		if s.failure == amba.RespOKAY {
			s.respVal = assembleRead(s.req, s.results)
		}
		s.resp = response{payload: encodeReadData(s.respVal, s.req.Size)}
	} else {
		ack := WriteAckOK
		if s.failure != amba.RespOKAY {
			ack = WriteAckFail
		}
		s.resp = response{payload: []byte{ack}}
	}

	s.state = seqResponding

	return true
}

func (s *sequencer) respond() bool {
	s.hasResp = true
	s.state = seqIdle

	return true
}
