package position

import (
	"math"
	"sync/atomic"

	"github.com/cjeanneret/abkant/internal/logic/quadrature"
)

// Register is the bounded step counter fed by decoder pulses.
// Apply may run concurrently with Reset/Set from another goroutine.
type Register struct {
	value atomic.Int32
	max   atomic.Int32
}

// NewRegister creates a register bounded to [0, max].
func NewRegister(max int32) *Register {
	r := &Register{}
	r.max.Store(max)
	return r
}

// Apply adds sign for a Forward pulse and subtracts it for a Backward one,
// clamping to [0, max]. It returns the new value.
func (r *Register) Apply(dir quadrature.Direction, sign int32) int32 {
	var delta int32
	switch dir {
	case quadrature.Forward:
		delta = sign
	case quadrature.Backward:
		delta = -sign
	default:
		return r.value.Load()
	}
	for {
		old := r.value.Load()
		next := clamp(old+delta, r.max.Load())
		if r.value.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Value returns the current count.
func (r *Register) Value() int32 {
	return r.value.Load()
}

// Set stores v clamped to the bounds.
func (r *Register) Set(v int32) {
	r.value.Store(clamp(v, r.max.Load()))
}

// Reset returns the register to 0.
func (r *Register) Reset() {
	r.value.Store(0)
}

// Max returns the upper bound.
func (r *Register) Max() int32 {
	return r.max.Load()
}

// SetMax changes the upper bound and clamps the current value to it.
func (r *Register) SetMax(max int32) {
	if max < 0 {
		max = 0
	}
	r.max.Store(max)
	for {
		old := r.value.Load()
		next := clamp(old, max)
		if next == old || r.value.CompareAndSwap(old, next) {
			return
		}
	}
}

func clamp(v, max int32) int32 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Angle converts a register value to degrees.
func Angle(value int32, mode quadrature.StepMode) float64 {
	return float64(value) / float64(mode.Divisor())
}

// StepsFromAngle converts degrees to register counts, truncating.
func StepsFromAngle(deg float64, mode quadrature.StepMode) int32 {
	return int32(deg * float64(mode.Divisor()))
}

// RoundAngle rounds to one decimal place for display.
func RoundAngle(deg float64) float64 {
	return math.Round(deg*10) / 10
}
