package bridge

import (
	"github.com/sarchlab/cosim/amba"
)

// splitBeats decomposes a request into word-aligned bus beats, in address
// order. A request of at most 8 bytes at an arbitrary offset spans between
// one and three bus words.
//
// For writes, each beat's strobe selects exactly the byte lanes whose global
// address falls inside [Addr, Addr+Size), and the data lanes carry the
// matching bytes of Val in little-endian order. Lanes outside the access are
// never asserted, so untouched bytes of a partially written word are
// preserved by the slave's strobe handling.
func splitBeats(req Request) []amba.Beat {
	offset := req.Addr % amba.BusWidth
	firstWord := req.Addr - offset
	count := int((offset + uint64(req.Size) + amba.BusWidth - 1) /
		amba.BusWidth)

	beats := make([]amba.Beat, count)
	for i := range beats {
		b := amba.Beat{
			WordAddr: firstWord + uint64(i)*amba.BusWidth,
			IsWrite:  req.Op == OpWrite,
		}

		if b.IsWrite {
			for lane := uint64(0); lane < amba.BusWidth; lane++ {
				global := b.WordAddr + lane
				if global < req.Addr || global >= req.Addr+uint64(req.Size) {
					continue
				}

				byteIndex := global - req.Addr
				b.Strobe |= 1 << lane
				b.Data |= uint32(byte(req.Val>>(8*byteIndex))) << (8 * lane)
			}
		}

		beats[i] = b
	}

	return beats
}

// assembleRead packs the in-range byte lanes of each beat's returned word
// into one value, lowest address to lowest byte.
func assembleRead(req Request, results []amba.BeatResult) uint64 {
	offset := req.Addr % amba.BusWidth
	firstWord := req.Addr - offset

	var val uint64
	for i, res := range results {
		wordAddr := firstWord + uint64(i)*amba.BusWidth
		for lane := uint64(0); lane < amba.BusWidth; lane++ {
			global := wordAddr + lane
			if global < req.Addr || global >= req.Addr+uint64(req.Size) {
				continue
			}

			byteIndex := global - req.Addr
			val |= uint64(byte(res.Data>>(8*lane))) << (8 * byteIndex)
		}
	}

	return val
}
