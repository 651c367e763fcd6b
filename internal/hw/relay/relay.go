package relay

import (
	"fmt"
	"sync/atomic"

	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/hw/gpio"
)

// Relay drives the single actuator output on one GPIO pin.
// Many relay boards switch on when the input is pulled LOW; set activeLow
// for those.
type Relay struct {
	gpio      gpio.Driver
	pin       int
	activeLow bool
	on        atomic.Bool
}

// New configures pin as an output and switches the relay off.
func New(g gpio.Driver, pin int, activeLow bool) (*Relay, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup relay pin %d: %w", pin, err)
	}
	r := &Relay{gpio: g, pin: pin, activeLow: activeLow}
	if err := r.Write(false); err != nil {
		return nil, err
	}
	return r, nil
}

// Write switches the relay. It satisfies sequence.Port.
func (r *Relay) Write(on bool) error {
	level := gpio.Level(on)
	if r.activeLow {
		level = !level
	}
	debug.Verbose("Relay: pin %d -> %v (on=%v)", r.pin, level, on)
	if err := r.gpio.WritePin(r.pin, level); err != nil {
		return fmt.Errorf("write relay pin %d: %w", r.pin, err)
	}
	r.on.Store(on)
	return nil
}

// On reports the last level successfully written.
func (r *Relay) On() bool {
	return r.on.Load()
}

// Pin returns the BCM pin number.
func (r *Relay) Pin() int {
	return r.pin
}
