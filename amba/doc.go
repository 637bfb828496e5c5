// Package amba provides a signal-level model of an AXI4-Lite style bus with
// independent valid/ready handshaking per channel, a bus master that executes
// one beat at a time, and a register-file slave that can serve as the device
// under test.
package amba
