package sim

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/hw/gpio"
)

// Config holds the wiring of the simulated encoder.
type Config struct {
	ClkPin    int
	DtPin     int
	StepDelay time.Duration // hold time of each quadrature phase
}

// Knob turns a virtual rotary encoder by driving CLK/DT levels on a GPIO
// driver, normally the MockDriver, so the regular sampling path decodes it.
type Knob struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration

	mu sync.Mutex // one rotation at a time
}

// One detent cycle as (clk, dt) levels, leaving and returning to rest 11.
var (
	forwardCycle  = [4][2]gpio.Level{{gpio.High, gpio.Low}, {gpio.Low, gpio.Low}, {gpio.Low, gpio.High}, {gpio.High, gpio.High}}
	backwardCycle = [4][2]gpio.Level{{gpio.Low, gpio.High}, {gpio.Low, gpio.Low}, {gpio.High, gpio.Low}, {gpio.High, gpio.High}}
)

// NewKnob parks both lines at rest (HIGH, as with pull-ups).
// cfg.StepDelay: if 0, defaults to 2ms.
func NewKnob(g gpio.Driver, cfg Config) *Knob {
	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 2 * time.Millisecond
	}
	_ = g.WritePin(cfg.ClkPin, gpio.High)
	_ = g.WritePin(cfg.DtPin, gpio.High)
	return &Knob{gpio: g, cfg: cfg, delay: delay}
}

// Rotate turns the knob by detents (negative turns backward). It returns
// early with ctx.Err() if ctx is cancelled, leaving the knob at rest.
func (k *Knob) Rotate(ctx context.Context, detents int) error {
	if detents == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	cycle := forwardCycle
	direction := "forward"
	if detents < 0 {
		cycle = backwardCycle
		direction = "backward"
		detents = -detents
	}
	debug.Verbose("Sim: turning %d detents (%s)", detents, direction)

	for i := 0; i < detents; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, phase := range cycle {
			if err := k.set(phase[0], phase[1]); err != nil {
				return err
			}
			time.Sleep(k.delay)
		}
	}
	return nil
}

func (k *Knob) set(clk, dt gpio.Level) error {
	if err := k.gpio.WritePin(k.cfg.ClkPin, clk); err != nil {
		return err
	}
	return k.gpio.WritePin(k.cfg.DtPin, dt)
}
