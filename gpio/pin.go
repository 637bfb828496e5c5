package gpio

// A Pin is one signal of the device model that the side channel exposes.
// Value and SetValue are only called from the simulation goroutine.
type Pin interface {
	Name() string
	Width() int
	Direction() Dir
	Value() uint32
	SetValue(v uint32)
}

// A LevelPin is a plain level-holding pin. A device input stays at the
// level the client last drove, a device output mirrors whatever the model
// stores into it.
type LevelPin struct {
	name  string
	width int
	dir   Dir
	val   uint32
}

// NewLevelPin creates a pin with the given name, bit width and direction.
// Values wider than the pin are masked.
func NewLevelPin(name string, width int, dir Dir) *LevelPin {
	return &LevelPin{name: name, width: width, dir: dir}
}

// Name returns the pin name.
func (p *LevelPin) Name() string { return p.name }

// Width returns the pin width in bits.
func (p *LevelPin) Width() int { return p.width }

// Direction returns the pin direction.
func (p *LevelPin) Direction() Dir { return p.dir }

// Value returns the current level.
func (p *LevelPin) Value() uint32 { return p.val }

// SetValue drives the pin to a new level.
func (p *LevelPin) SetValue(v uint32) {
	p.val = v & p.mask()
}

func (p *LevelPin) mask() uint32 {
	if p.width >= 32 {
		return ^uint32(0)
	}
	return (1 << p.width) - 1
}
