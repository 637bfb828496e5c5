package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cosim/amba"
	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/gpio"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/trace"
)

var serveFlags = struct {
	sockPath     string
	gpioSockPath string
	base         uint64
	size         uint64
	latency      int
	errorBase    uint64
	errorSize    uint64
	timeout      int
	pollCycles   int
	freqMHz      uint64
	traceDB      string
	traceCSV     string
	monitorPort  int
	openBrowser  bool
	pins         []string
}{}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the device model and wait for an emulator to connect",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()

	f.StringVar(&serveFlags.sockPath, "sock", "",
		"unix socket for MMIO traffic (default $COSIM_SOCK or /tmp/cosim_mmio.sock)")
	f.StringVar(&serveFlags.gpioSockPath, "gpio-sock", "",
		"unix socket for pin access (default $COSIM_GPIO_SOCK or /tmp/cosim_gpio.sock)")
	f.Uint64Var(&serveFlags.base, "base", 0x43C0_0000,
		"bus address the device is mapped at, as seen by the firmware")
	f.Uint64Var(&serveFlags.size, "size", 0x1000,
		"size of the register file in bytes")
	f.IntVar(&serveFlags.latency, "latency", 1,
		"cycles the device holds each handshake before accepting")
	f.Uint64Var(&serveFlags.errorBase, "error-base", 0,
		"start of a register window that answers with a slave error")
	f.Uint64Var(&serveFlags.errorSize, "error-size", 0,
		"size of the error window in bytes, zero disables it")
	f.IntVar(&serveFlags.timeout, "timeout-cycles", 10000,
		"cycles before a stalled bus handshake is abandoned, "+
			"must be well above --latency")
	f.IntVar(&serveFlags.pollCycles, "poll-cycles", 10,
		"cycles between socket polls")
	f.Uint64Var(&serveFlags.freqMHz, "freq", 100,
		"bus clock frequency in MHz")
	f.StringVar(&serveFlags.traceDB, "trace-db", "",
		"record completed transactions into this SQLite database")
	f.StringVar(&serveFlags.traceCSV, "trace-csv", "",
		"record completed transactions into this CSV file")
	f.IntVar(&serveFlags.monitorPort, "port", 0,
		"port of the monitoring server, zero picks a random port")
	f.BoolVar(&serveFlags.openBrowser, "open", false,
		"open the monitoring page in a browser")
	f.StringArrayVar(&serveFlags.pins, "pin", nil,
		"expose a register word as a pin, format name:in|out:width:wordaddr")

	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	sockPath := serveFlags.sockPath
	if sockPath == "" {
		sockPath = envOr("COSIM_SOCK", "/tmp/cosim_mmio.sock")
	}

	gpioSockPath := serveFlags.gpioSockPath
	if gpioSockPath == "" {
		gpioSockPath = envOr("COSIM_GPIO_SOCK", "/tmp/cosim_gpio.sock")
	}

	if !timeoutClearsLatency(serveFlags.timeout, serveFlags.latency) {
		return fmt.Errorf(
			"--timeout-cycles %d is too close to --latency %d, "+
				"a beat would be abandoned mid-handshake and wedge the device",
			serveFlags.timeout, serveFlags.latency)
	}

	freq := sim.Freq(serveFlags.freqMHz) * sim.MHz
	engine := sim.NewSerialEngine()
	iface := amba.NewInterface("Bus")

	rfBuilder := amba.MakeRegFileBuilder().
		WithEngine(engine).
		WithFreq(freq).
		WithInterface(iface).
		WithRange(0, serveFlags.size).
		WithLatency(serveFlags.latency)
	if serveFlags.errorSize > 0 {
		rfBuilder = rfBuilder.WithErrorWindow(
			serveFlags.errorBase,
			serveFlags.errorBase+serveFlags.errorSize)
	}
	regFile := rfBuilder.Build("RegFile")

	master := amba.MakeMasterBuilder().
		WithEngine(engine).
		WithFreq(freq).
		WithInterface(iface).
		WithTimeoutCycles(serveFlags.timeout).
		Build("Master")

	bridgeBuilder := bridge.MakeBuilder().
		WithEngine(engine).
		WithFreq(freq).
		WithBusDriver(master).
		WithSocketPath(sockPath).
		WithAddrOffset(serveFlags.base).
		WithPollCycles(serveFlags.pollCycles)

	if serveFlags.traceDB != "" {
		w := trace.NewSQLiteTraceWriter(serveFlags.traceDB)
		w.Init()
		bridgeBuilder = bridgeBuilder.WithTracer(w)
	}
	if serveFlags.traceCSV != "" {
		w := trace.NewCSVTraceWriter(serveFlags.traceCSV)
		w.Init()
		bridgeBuilder = bridgeBuilder.WithTracer(w)
	}

	br := bridgeBuilder.Build("Bridge")

	pins, err := parsePins(serveFlags.pins, regFile)
	if err != nil {
		return err
	}

	side := gpio.MakeBuilder().
		WithEngine(engine).
		WithFreq(freq).
		WithSocketPath(gpioSockPath).
		WithPollCycles(serveFlags.pollCycles).
		WithPins(pins...).
		Build("GPIO")

	// The emulator session drives the lifetime of the whole run. When it
	// ends, the side channel stops too, the engine drains, and the trace
	// writers flush on the way out.
	br.AcceptHook(sideChannelStopper{side: side})

	monitor := monitoring.NewMonitor()
	monitor.WithPortNumber(serveFlags.monitorPort)
	monitor.RegisterEngine(engine)
	monitor.RegisterComponent(br)
	monitor.RegisterComponent(side)
	monitor.RegisterComponent(master)
	monitor.RegisterComponent(regFile)
	url := monitor.StartServer()

	if serveFlags.openBrowser {
		browser.OpenURL(url)
	}

	if err := br.Start(); err != nil {
		return err
	}
	if err := side.Start(); err != nil {
		br.Stop()
		return err
	}

	atexit.Register(br.Stop)
	atexit.Register(side.Stop)
	exitOnSignal()

	return engine.Run()
}

// A sideChannelStopper stops the pin side channel once the emulator
// session has ended.
type sideChannelStopper struct {
	side *gpio.Comp
}

func (s sideChannelStopper) Func(ctx sim.HookCtx) {
	if ctx.Pos == bridge.HookPosSessionEnd {
		s.side.Stop()
	}
}

// exitOnSignal turns SIGINT and SIGTERM into an atexit exit so that trace
// writers flush before the process dies.
func exitOnSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		atexit.Exit(0)
	}()
}

// timeoutClearsLatency tells whether the bus timeout leaves a healthy
// device enough cycles to finish a beat. A write handshake spans two
// latency windows plus a few transfer cycles. A timeout that fires
// mid-handshake abandons the beat while the device still holds a
// response, and the device stays wedged from then on. Zero disables the
// timeout.
func timeoutClearsLatency(timeoutCycles, latency int) bool {
	return timeoutCycles == 0 || timeoutCycles > 4*(latency+1)
}

// parsePins turns pin specs of the form name:in|out:width:wordaddr into
// pins backed by register file words.
func parsePins(specs []string, rf *amba.RegFile) ([]gpio.Pin, error) {
	pins := make([]gpio.Pin, 0, len(specs))

	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("bad pin spec %q", spec)
		}

		var dir gpio.Dir
		switch parts[1] {
		case "in":
			dir = gpio.DirIn
		case "out":
			dir = gpio.DirOut
		default:
			return nil, fmt.Errorf("bad pin direction %q in %q", parts[1], spec)
		}

		width, err := strconv.Atoi(parts[2])
		if err != nil || width < 1 || width > 32 {
			return nil, fmt.Errorf("bad pin width %q in %q", parts[2], spec)
		}

		addr, err := strconv.ParseUint(parts[3], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad pin address %q in %q", parts[3], spec)
		}

		pins = append(pins, &regPin{
			rf:    rf,
			name:  parts[0],
			width: width,
			dir:   dir,
			addr:  addr,
		})
	}

	return pins, nil
}

// A regPin exposes one word of the register file as a pin, so that a test
// harness can poke values the firmware then reads over the bus, and watch
// values the firmware writes.
type regPin struct {
	rf    *amba.RegFile
	name  string
	width int
	dir   gpio.Dir
	addr  uint64
}

func (p *regPin) Name() string        { return p.name }
func (p *regPin) Width() int          { return p.width }
func (p *regPin) Direction() gpio.Dir { return p.dir }

func (p *regPin) Value() uint32 {
	return p.rf.Word(p.addr) & p.mask()
}

func (p *regPin) SetValue(v uint32) {
	p.rf.SetWord(p.addr, v&p.mask())
}

func (p *regPin) mask() uint32 {
	if p.width >= 32 {
		return ^uint32(0)
	}
	return (1 << p.width) - 1
}
