package quadrature

import (
	"fmt"
	"strings"
)

// Direction is the side output of a decode step.
type Direction int8

const (
	None Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "none"
	}
}

// State is the decoder state machine position. Only the low three bits
// select a table row; the direction flags are never stored by callers.
type State uint8

const (
	Start State = iota
	CW1
	CW2
	CW3
	CCW1
	CCW2
	CCW3
	Illegal
)

const (
	numStates = 8

	dirForward  = 0x10
	dirBackward = 0x20
	dirMask     = dirForward | dirBackward
)

// Table is an 8-row by 4-column transition table indexed by
// [state][clk<<1|dt]. Cells may carry a direction flag.
type Table [numStates][4]uint8

// FullStep emits one pulse per detent cycle, on the transition that
// returns to Start (pins 11).
//
//	forward:  11 -> 10 -> 00 -> 01 -> 11
//	backward: 11 -> 01 -> 00 -> 10 -> 11
var FullStep = Table{
	//           00          01          10          11
	Start:   {u(Start), u(CCW1), u(CW1), u(Start)},
	CW1:     {u(CW2), u(Start), u(CW1), u(Start)},
	CW2:     {u(CW2), u(CW3), u(CW1), u(Start)},
	CW3:     {u(CW2), u(CW3), u(Start), u(Start) | dirForward},
	CCW1:    {u(CCW2), u(CCW1), u(Start), u(Start)},
	CCW2:    {u(CCW2), u(CCW1), u(CCW3), u(Start)},
	CCW3:    {u(CCW2), u(Start), u(CCW3), u(Start) | dirBackward},
	Illegal: {u(Start), u(Start), u(Start), u(Start)},
}

// HalfStep emits one pulse at each rest position (00 and 11), so two per
// detent cycle. Start is the rest at 11 and CW3 the rest at 00. CCW3 and
// Illegal are unreachable.
var HalfStep = Table{
	//           00                        01            10            11
	Start:   {u(CW3), u(CCW1), u(CW1), u(Start)},
	CW1:     {u(CW3) | dirForward, u(Start), u(CW1), u(Start)},
	CCW1:    {u(CW3) | dirBackward, u(CCW1), u(Start), u(Start)},
	CW3:     {u(CW3), u(CW2), u(CCW2), u(Start)},
	CW2:     {u(CW3), u(CW2), u(CW3), u(Start) | dirForward},
	CCW2:    {u(CW3), u(CW3), u(CCW2), u(Start) | dirBackward},
	CCW3:    {u(Start), u(Start), u(Start), u(Start)},
	Illegal: {u(Start), u(Start), u(Start), u(Start)},
}

func u(s State) uint8 { return uint8(s) }

// Decode runs one step of the state machine. It is total: a state that
// does not name a table row decodes to (Start, None).
func (t *Table) Decode(state State, clk, dt bool) (State, Direction) {
	row := uint8(state) &^ dirMask
	if row >= numStates {
		return Start, None
	}
	cell := t[row][Pins(clk, dt)]

	dir := None
	switch cell & dirMask {
	case dirForward:
		dir = Forward
	case dirBackward:
		dir = Backward
	}
	next := State(cell &^ dirMask)
	if next >= numStates {
		return Start, None
	}
	return next, dir
}

// Pins packs a sample into the 2-bit column index.
func Pins(clk, dt bool) uint8 {
	var p uint8
	if clk {
		p |= 0b10
	}
	if dt {
		p |= 0b01
	}
	return p
}

// StepMode selects the decoder resolution.
type StepMode uint8

const (
	Half StepMode = iota
	Full
)

// ParseStepMode accepts "half" or "full" (case-insensitive).
func ParseStepMode(s string) (StepMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "half":
		return Half, nil
	case "full":
		return Full, nil
	default:
		return Half, fmt.Errorf("unknown step mode %q (want full or half)", s)
	}
}

func (m StepMode) String() string {
	if m == Full {
		return "full"
	}
	return "half"
}

// Divisor is the number of register counts per degree.
func (m StepMode) Divisor() int32 {
	if m == Full {
		return 1
	}
	return 2
}

// MaxSteps is the register bound for one full revolution.
func (m StepMode) MaxSteps() int32 {
	return 360 * m.Divisor()
}

// Table returns the transition table for the mode.
func (m StepMode) Table() *Table {
	if m == Full {
		return &FullStep
	}
	return &HalfStep
}
