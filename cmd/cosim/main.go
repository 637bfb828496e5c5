// Command cosim runs a register file behind a bus model and exposes it to a
// CPU emulator over unix sockets, so that firmware can be exercised against
// simulated hardware.
package main

func main() {
	Execute()
}
