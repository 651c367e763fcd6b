package sequence

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/logic/position"
)

// ErrInvalidInput is returned (wrapped) when Start rejects its arguments.
var ErrInvalidInput = errors.New("invalid input")

// MaxTargetAngle is one revolution; larger targets are clamped to it.
const MaxTargetAngle = 360.0

// Port is the single boolean actuator driven by the controller.
type Port interface {
	Write(on bool) error
}

type override int8

const (
	overrideNone override = iota
	overrideOff
	overrideOn
)

// Controller runs the target sequence against the live register value.
//
// Observe runs in the producer context; Start, Stop, SetOutput and Status
// run in consumer contexts. Targets, index, runs, override and the
// reached latch are guarded by mu, which is never held across port I/O.
type Controller struct {
	reg  *position.Register
	port Port

	mu       sync.Mutex
	snap     config.Snapshot
	targets  []float64
	index    int
	run      int
	runs     int
	reached  bool
	override override

	active        atomic.Bool
	outputOn      atomic.Bool
	targetReached atomic.Bool
	complete      atomic.Bool

	events chan Event
}

// NewController creates an idle controller. snap supplies the step mode
// used for angle conversion until the first Start.
func NewController(reg *position.Register, port Port, snap config.Snapshot) *Controller {
	return &Controller{
		reg:    reg,
		port:   port,
		snap:   snap,
		events: make(chan Event, 64),
	}
}

// Events delivers transitions. Sends never block; events are dropped when
// the buffer is full.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Start validates targets and snap and begins a new sequence.
func (c *Controller) Start(targets []float64, snap config.Snapshot) error {
	if err := ValidateTargets(targets); err != nil {
		return err
	}
	if snap.Runs < config.MinRuns || snap.Runs > config.MaxRuns {
		return fmt.Errorf("%w: number of runs must be between %d and %d, got %d", ErrInvalidInput, config.MinRuns, config.MaxRuns, snap.Runs)
	}
	list := make([]float64, len(targets))
	for i, t := range targets {
		list[i] = math.Min(t, MaxTargetAngle)
	}

	c.mu.Lock()
	c.snap = snap
	c.targets = list
	c.index = 0
	c.run = 1
	c.runs = snap.Runs
	c.reached = false
	c.override = overrideNone
	c.reg.SetMax(snap.Mode.MaxSteps())
	c.reg.Reset()
	c.targetReached.Store(false)
	c.complete.Store(false)
	c.outputOn.Store(false)
	c.active.Store(true)
	c.mu.Unlock()

	c.syncOutput()
	debug.Targets(list, snap.Runs)
	c.emit(Event{Kind: Started, Index: 0, Run: 1})
	return nil
}

// ValidateTargets checks a target list without touching any state.
// Targets above MaxTargetAngle are accepted; Start clamps them.
func ValidateTargets(targets []float64) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: target list is empty", ErrInvalidInput)
	}
	for i, t := range targets {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("%w: target #%d is not a number", ErrInvalidInput, i+1)
		}
		if t < 0 {
			return fmt.Errorf("%w: target #%d is negative (%g)", ErrInvalidInput, i+1, t)
		}
	}
	return nil
}

// Observe evaluates the live angle. It must be called after every
// register mutation. Target reached, return to zero and run advance are
// decided in one critical section.
func (c *Controller) Observe() {
	c.mu.Lock()
	before := c.outputOn.Load()
	ev := c.stepLocked()
	changed := c.outputOn.Load() != before
	c.mu.Unlock()

	if changed {
		c.syncOutput()
	}
	if ev.Kind != none {
		c.emit(ev)
	}
}

func (c *Controller) stepLocked() Event {
	if !c.active.Load() || c.index >= len(c.targets) {
		return Event{}
	}
	angle := position.Angle(c.reg.Value(), c.snap.Mode)
	wasReached := c.reached
	var ev Event

	if angle >= c.targets[c.index] {
		if !c.reached {
			c.reached = true
			c.targetReached.Store(true)
			ev = Event{Kind: TargetReached, Index: c.index, Run: c.run, Angle: angle}
		}
		c.setAutoLocked(true)
	} else if c.reached && !c.snap.HoldOutput {
		c.setAutoLocked(false)
	}

	// A target reached in this very update cannot also complete its return.
	if !wasReached || angle >= c.snap.MinAngle {
		return ev
	}

	finished := c.index
	c.reg.Reset()
	c.reached = false
	c.override = overrideNone
	c.targetReached.Store(false)
	c.outputOn.Store(false)
	c.index++

	if c.index < len(c.targets) {
		return Event{Kind: ReturnedToZero, Index: finished, Run: c.run, Angle: angle}
	}
	if c.run < c.runs {
		c.run++
		c.index = 0
		return Event{Kind: RunComplete, Index: finished, Run: c.run - 1, Angle: angle}
	}
	c.active.Store(false)
	c.complete.Store(true)
	return Event{Kind: Complete, Index: finished, Run: c.run, Angle: angle}
}

func (c *Controller) setAutoLocked(on bool) {
	if c.override != overrideNone {
		return
	}
	c.outputOn.Store(on)
}

// Stop ends the sequence and forces the output off. Calling it again has
// no further effect.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasActive := c.active.Swap(false)
	c.reached = false
	c.override = overrideNone
	c.targetReached.Store(false)
	c.outputOn.Store(false)
	index, run := c.index, c.run
	c.mu.Unlock()

	c.syncOutput()
	if wasActive {
		c.emit(Event{Kind: Stopped, Index: index, Run: run})
	}
}

// SetOutput sets a manual override. Automatic writes are suppressed until
// the next return to zero, Start or Stop.
func (c *Controller) SetOutput(on bool) {
	c.mu.Lock()
	if on {
		c.override = overrideOn
	} else {
		c.override = overrideOff
	}
	c.outputOn.Store(on)
	index, run := c.index, c.run
	c.mu.Unlock()

	c.syncOutput()
	c.emit(Event{Kind: ManualOutput, Index: index, Run: run, On: on})
}

// Active reports whether a sequence is running.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// OutputOn reports the committed output level.
func (c *Controller) OutputOn() bool {
	return c.outputOn.Load()
}

// syncOutput writes the committed level to the port. A concurrent writer
// may commit a new level while we write, so re-check until the port holds
// the latest committed value.
func (c *Controller) syncOutput() {
	if c.port == nil {
		return
	}
	for {
		v := c.outputOn.Load()
		if err := c.port.Write(v); err != nil {
			debug.Error(fmt.Errorf("write output: %w", err))
		}
		if c.outputOn.Load() == v {
			return
		}
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Status returns a consistent snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Active:             c.active.Load(),
		Angle:              position.RoundAngle(position.Angle(c.reg.Value(), c.snap.Mode)),
		TargetAngles:       make([]float64, len(c.targets)),
		CurrentTargetIndex: c.index,
		OutputOn:           c.outputOn.Load(),
		TargetReached:      c.targetReached.Load(),
		CurrentRun:         c.run,
		TotalRuns:          c.runs,
		Complete:           c.complete.Load(),
		StepMode:           c.snap.Mode.String(),
	}
	copy(st.TargetAngles, c.targets)
	if c.override != overrideNone {
		on := c.override == overrideOn
		st.ManualOverride = &on
	}
	return st
}

// Snapshot returns the settings snapshot in effect.
func (c *Controller) Snapshot() config.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Reconfigure installs snap when no sequence is running and reports
// whether it did.
func (c *Controller) Reconfigure(snap config.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active.Load() {
		return false
	}
	c.snap = snap
	c.reg.SetMax(snap.Mode.MaxSteps())
	return true
}
