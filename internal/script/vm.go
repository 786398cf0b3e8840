package script

import (
	"time"
)

// Register and timing limits.
const (
	// Channels is the number of channels in a DMX512 universe.
	Channels = 512

	// MaxValue is the largest value a channel can hold.
	MaxValue = 255

	// DefaultStepPeriod is the fade tick length in seconds until a script sets one.
	DefaultStepPeriod = 0.1
)

// VM is the compiled program plus its runtime registers.
//
// It carries no behaviour beyond bookkeeping. The Compiler fills Program and
// the symbol tables; the CPU that owns the VM mutates the registers.
type VM struct {
	// Program is the ordered statement list. Immutable after compile.
	Program []Statement

	// Symbol tables, kept for diagnostics after resolution.
	ChannelAliases map[string]int
	ValueAliases   map[string][]byte
	Defines        map[string]float64

	// Current holds the values last computed for each channel (0-based).
	Current [Channels]byte
	// Target holds fade destinations for each channel (0-based).
	Target [Channels]byte

	// CurrentLen and TargetLen are high-water marks: one past the highest
	// channel index ever written. Only the touched prefix is transmitted.
	CurrentLen int
	TargetLen  int

	// StepPeriod is the fade tick length in seconds.
	StepPeriod float64

	// MainIndex is the program index of the main statement, or -1.
	MainIndex int
}

// NewVM returns an empty VM with default registers.
func NewVM() *VM {
	return &VM{
		ChannelAliases: make(map[string]int),
		ValueAliases:   make(map[string][]byte),
		Defines:        make(map[string]float64),
		StepPeriod:     DefaultStepPeriod,
		MainIndex:      -1,
	}
}

// SetCurrentValue writes a 0-based channel of the current register and
// advances its high-water mark. Out-of-range indexes are ignored.
func (vm *VM) SetCurrentValue(index int, v byte) {
	if index < 0 || index >= Channels {
		return
	}
	vm.Current[index] = v
	if index >= vm.CurrentLen {
		vm.CurrentLen = index + 1
	}
}

// SetTargetValue writes a 0-based channel of the target register and
// advances its high-water mark. Out-of-range indexes are ignored.
func (vm *VM) SetTargetValue(index int, v byte) {
	if index < 0 || index >= Channels {
		return
	}
	vm.Target[index] = v
	if index >= vm.TargetLen {
		vm.TargetLen = index + 1
	}
}

// Frame returns a copy of the touched prefix of the current register.
func (vm *VM) Frame() []byte {
	frame := make([]byte, vm.CurrentLen)
	copy(frame, vm.Current[:vm.CurrentLen])
	return frame
}

// Reset zeroes both registers. High-water marks are left alone, so the next
// frame still covers every channel the program has touched.
func (vm *VM) Reset() {
	vm.Current = [Channels]byte{}
	vm.Target = [Channels]byte{}
}

// StepPeriodDuration returns StepPeriod as a time.Duration.
func (vm *VM) StepPeriodDuration() time.Duration {
	return secondsToDuration(vm.StepPeriod)
}

// secondsToDuration converts fractional seconds to a Duration.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
