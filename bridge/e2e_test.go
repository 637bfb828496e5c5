package bridge

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/amba"
	"github.com/sarchlab/cosim/sim"
)

const e2eBase = 0x43C0_0000

var _ = Describe("Bridge end to end", func() {
	var (
		engine     *sim.SerialEngine
		br         *Comp
		sockPath   string
		conn       net.Conn
		engineDone chan struct{}
	)

	BeforeEach(func() {
		sockPath = filepath.Join(GinkgoT().TempDir(), "mmio.sock")

		engine = sim.NewSerialEngine()
		iface := amba.NewInterface("Bus")
		amba.MakeRegFileBuilder().
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithInterface(iface).
			WithRange(0, 0x1000).
			WithLatency(1).
			WithErrorWindow(0xC00, 0xD00).
			Build("RegFile")
		master := amba.MakeMasterBuilder().
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithInterface(iface).
			WithTimeoutCycles(1000).
			Build("Master")
		br = MakeBuilder().
			WithEngine(engine).
			WithFreq(1 * sim.GHz).
			WithBusDriver(master).
			WithSocketPath(sockPath).
			WithAddrOffset(e2eBase).
			WithPollCycles(5).
			Build("Bridge")

		Expect(br.Start()).To(Succeed())

		engineDone = make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(engineDone)
			Expect(engine.Run()).To(Succeed())
		}()

		conn = dialRetry(sockPath)
	})

	AfterEach(func() {
		conn.Close()
		br.Stop()
		Eventually(engineDone).WithTimeout(2 * time.Second).
			Should(BeClosed())
	})

	It("should execute a write and read it back", func() {
		Expect(doWrite(conn, 4, e2eBase+0x4, 0xCAFEBABE)).
			To(Equal(WriteAckOK))
		Expect(doRead(conn, 4, e2eBase+0x4)).
			To(Equal([]byte{0xBE, 0xBA, 0xFE, 0xCA}))
	})

	It("should preserve untouched bytes on a narrow write", func() {
		Expect(doWrite(conn, 4, e2eBase+0x4, 0xCAFEBABE)).
			To(Equal(WriteAckOK))
		Expect(doWrite(conn, 1, e2eBase+0x5, 0xFF)).
			To(Equal(WriteAckOK))

		Expect(doRead(conn, 4, e2eBase+0x4)).
			To(Equal([]byte{0xBE, 0xFF, 0xFE, 0xCA}))
	})

	It("should round-trip an unaligned doubleword", func() {
		val := uint64(0xF00D_FACE_DEAD_BEEF)

		Expect(doWrite(conn, 8, e2eBase+0x12, val)).To(Equal(WriteAckOK))

		got := doRead(conn, 8, e2eBase+0x12)
		Expect(binary.LittleEndian.Uint64(got)).To(Equal(val))
	})

	It("should serve many requests on one session", func() {
		for i := uint64(0); i < 64; i++ {
			Expect(doWrite(conn, 4, e2eBase+0x100+4*i, i)).
				To(Equal(WriteAckOK))
		}
		for i := uint64(0); i < 64; i++ {
			got := doRead(conn, 4, e2eBase+0x100+4*i)
			Expect(uint64(binary.LittleEndian.Uint32(got))).To(Equal(i))
		}
	})

	It("should fail a write into the error window", func() {
		Expect(doWrite(conn, 4, e2eBase+0xC40, 1)).To(Equal(WriteAckFail))

		stats := br.Stats()
		Expect(stats.BusErrors).To(Equal(uint64(1)))
	})

	It("should answer a failed read with zeroes", func() {
		Expect(doRead(conn, 4, e2eBase+0xC40)).
			To(Equal([]byte{0, 0, 0, 0}))
	})

	It("should fail accesses outside the device window", func() {
		Expect(doWrite(conn, 4, e2eBase+0x2000, 1)).To(Equal(WriteAckFail))
	})

	It("should answer a read below the device window with zeroes", func() {
		Expect(doRead(conn, 4, e2eBase-4)).
			To(Equal([]byte{0, 0, 0, 0}))
	})

	It("should terminate the session on a malformed frame", func() {
		frame := make([]byte, FrameSize)
		frame[0] = 9

		_, err := conn.Write(frame)
		Expect(err).To(Succeed())

		_, err = conn.Read(make([]byte, 1))
		Expect(err).To(Equal(io.EOF))
	})

	It("should finish the run when the emulator disconnects", func() {
		Expect(doWrite(conn, 4, e2eBase+0x8, 0x1234)).To(Equal(WriteAckOK))

		conn.Close()

		Eventually(engineDone).WithTimeout(2 * time.Second).
			Should(BeClosed())
	})

	It("should finish the run after a malformed frame", func() {
		frame := make([]byte, FrameSize)
		frame[0] = 9

		_, err := conn.Write(frame)
		Expect(err).To(Succeed())
		_, err = conn.Read(make([]byte, 1))
		Expect(err).To(Equal(io.EOF))

		Eventually(engineDone).WithTimeout(2 * time.Second).
			Should(BeClosed())
	})

	It("should count requests and beats", func() {
		Expect(doWrite(conn, 8, e2eBase+0x12, 1)).To(Equal(WriteAckOK))
		Expect(doRead(conn, 4, e2eBase+0x10)).To(HaveLen(4))

		stats := br.Stats()
		Expect(stats.Requests).To(Equal(uint64(2)))
		Expect(stats.Writes).To(Equal(uint64(1)))
		Expect(stats.Reads).To(Equal(uint64(1)))
		Expect(stats.Beats).To(Equal(uint64(4)))
	})
})

func dialRetry(sockPath string) net.Conn {
	var conn net.Conn
	var err error

	Eventually(func() error {
		conn, err = net.Dial("unix", sockPath)
		return err
	}).WithTimeout(2 * time.Second).Should(Succeed())

	return conn
}

func doWrite(conn net.Conn, size uint8, addr, val uint64) byte {
	req := Request{Op: OpWrite, Size: size, Addr: addr, Val: val}

	_, err := conn.Write(req.Encode())
	Expect(err).To(Succeed())

	var ack [1]byte
	_, err = io.ReadFull(conn, ack[:])
	Expect(err).To(Succeed())

	return ack[0]
}

func doRead(conn net.Conn, size uint8, addr uint64) []byte {
	req := Request{Op: OpRead, Size: size, Addr: addr}

	_, err := conn.Write(req.Encode())
	Expect(err).To(Succeed())

	payload := make([]byte, size)
	_, err = io.ReadFull(conn, payload)
	Expect(err).To(Succeed())

	return payload
}
