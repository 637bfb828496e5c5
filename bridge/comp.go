package bridge

import (
	"log"
	"reflect"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sarchlab/cosim/amba"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/trace"
)

// HookPosReqStart is triggered when a frame is accepted from the emulator.
// The hook item is the raw frame.
var HookPosReqStart = &sim.HookPos{Name: "ReqStart"}

// HookPosReqComplete is triggered when the response for a request has been
// produced. The hook item is the trace.Record of the transaction.
var HookPosReqComplete = &sim.HookPos{Name: "ReqComplete"}

// HookPosSessionEnd is triggered when the emulator session has ended and
// the bridge stops polling. The hook item is nil. Components whose
// lifetime is tied to the co-simulation run can shut down from this hook.
var HookPosSessionEnd = &sim.HookPos{Name: "SessionEnd"}

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Requests  uint64
	Reads     uint64
	Writes    uint64
	Beats     uint64
	BusErrors uint64
	Timeouts  uint64
	Faults    uint64
}

type pollEvent struct {
	*sim.EventBase
}

// Comp is the bridge component. It picks up emulator frames from the
// listener goroutine, carries each request through the sequencer and the
// bus driver, and hands the response back. All bus activity happens on the
// simulation goroutine.
type Comp struct {
	*sim.TickingComponent

	listener   *listener
	seq        *sequencer
	tracers    []trace.Tracer
	pollCycles int

	sess     *session
	reqID    string
	reqStart sim.VTimeInSec
	shutdown bool

	requests  atomic.Uint64
	reads     atomic.Uint64
	writes    atomic.Uint64
	beats     atomic.Uint64
	busErrors atomic.Uint64
	timeouts  atomic.Uint64
	faults    atomic.Uint64
}

// Start binds the socket and schedules the first poll. The engine can be
// run once Start returns. The run lasts exactly one emulator session:
// when the session ends, the bridge stops polling, the engine drains, and
// Engine.Run returns.
func (c *Comp) Start() error {
	if err := c.listener.start(); err != nil {
		return err
	}

	c.schedulePoll()

	return nil
}

// Stop closes the socket. A connected emulator observes a hangup.
func (c *Comp) Stop() {
	c.listener.stop()
}

// Stats returns a snapshot of the bridge counters. It is safe to call from
// any goroutine.
func (c *Comp) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		Reads:     c.reads.Load(),
		Writes:    c.writes.Load(),
		Beats:     c.beats.Load(),
		BusErrors: c.busErrors.Load(),
		Timeouts:  c.timeouts.Load(),
		Faults:    c.faults.Load(),
	}
}

// Handle dispatches the events the bridge schedules for itself.
func (c *Comp) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *pollEvent:
		return c.handlePoll(e)
	case sim.TickEvent:
		return c.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of %s", reflect.TypeOf(e))
	}

	return nil
}

// handlePoll keeps the poll chain alive and triggers a tick. The tick does
// the actual channel probing, so the bridge notices new sessions and new
// frames even when the bus is otherwise quiet.
func (c *Comp) handlePoll(_ *pollEvent) error {
	c.schedulePoll()
	c.TickNow()

	return nil
}

func (c *Comp) schedulePoll() {
	if c.shutdown {
		return
	}

	now := c.Engine.CurrentTime()
	evt := &pollEvent{
		EventBase: sim.NewEventBase(c.Freq.NCyclesLater(c.pollCycles, now), c),
	}
	c.Engine.Schedule(evt)
}

// Tick advances the bridge by one cycle.
func (c *Comp) Tick() bool {
	madeProgress := c.pickUpSession()
	madeProgress = c.acceptFrame() || madeProgress
	madeProgress = c.seq.tick() || madeProgress
	madeProgress = c.deliverResponse() || madeProgress
	madeProgress = c.terminateFaultedSession() || madeProgress

	return madeProgress
}

func (c *Comp) pickUpSession() bool {
	if c.sess != nil {
		return false
	}

	select {
	case sess := <-c.listener.sessions:
		c.sess = sess
		return true
	default:
		return false
	}
}

// acceptFrame pulls the next frame once the previous request has fully
// retired. It also notices a dropped connection, which surfaces as a
// closed frames channel once the session is otherwise quiet.
func (c *Comp) acceptFrame() bool {
	if c.sess == nil || !c.seq.idle() {
		return false
	}

	select {
	case frame, ok := <-c.sess.frames:
		if !ok {
			c.sess = nil
			c.endService()
			return true
		}

		c.seq.start(frame)
		c.reqID = xid.New().String()
		c.reqStart = c.Engine.CurrentTime()
		c.requests.Add(1)
		c.InvokeHook(sim.HookCtx{
			Domain: c,
			Pos:    HookPosReqStart,
			Item:   frame,
		})

		return true
	default:
		return false
	}
}

func (c *Comp) deliverResponse() bool {
	resp, ok := c.seq.takeResponse()
	if !ok {
		return false
	}

	req := c.seq.request()
	rec := trace.Record{
		ID:    c.reqID,
		Kind:  req.Op.String(),
		Addr:  req.Addr,
		Size:  req.Size,
		Value: c.seq.value(),
		Resp:  c.seq.failureResp().String(),
		Beats: c.seq.beatCount(),
		Start: c.reqStart,
		End:   c.Engine.CurrentTime(),
	}

	c.countRequest(req, c.seq.failureResp())

	for _, t := range c.tracers {
		t.Trace(rec)
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosReqComplete,
		Item:   rec,
	})

	// The listener always consumes the response for a frame it forwarded,
	// even when the connection has already died, so this send cannot block.
	c.sess.responses <- resp

	return true
}

func (c *Comp) countRequest(req Request, failure amba.Resp) {
	if req.Op == OpRead {
		c.reads.Add(1)
	} else {
		c.writes.Add(1)
	}

	c.beats.Add(uint64(c.seq.beatCount()))

	switch failure {
	case amba.RespOKAY:
	case amba.RespTimeout:
		c.timeouts.Add(1)
	default:
		c.busErrors.Add(1)
	}
}

// terminateFaultedSession tears the session down after a malformed frame.
// Once framing is lost there is no way to find the next frame boundary.
func (c *Comp) terminateFaultedSession() bool {
	if !c.seq.faulted() {
		return false
	}

	c.faults.Add(1)
	c.sess.responses <- response{fatal: true}
	c.sess = nil
	c.seq.reset()
	c.endService()

	return true
}

// endService shuts the bridge down once the session is over. Stopping the
// poll chain lets the engine run out of events, so Engine.Run returns and
// trace sinks get flushed on the normal exit path.
func (c *Comp) endService() {
	c.shutdown = true
	c.listener.stop()
	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    HookPosSessionEnd,
	})
	log.Print("bridge: shutting down")
}
