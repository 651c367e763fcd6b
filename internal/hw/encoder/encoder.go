package encoder

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/hw/gpio"
)

// PollSource samples CLK and DT through a gpio.Driver at a fixed interval
// and reports each change of the pin pair.
type PollSource struct {
	gpio     gpio.Driver
	clk, dt  int
	interval time.Duration
}

// NewPollSource configures both pins as inputs.
func NewPollSource(g gpio.Driver, clkPin, dtPin int, pullUp bool, interval time.Duration) (*PollSource, error) {
	mode := gpio.Input
	if pullUp {
		mode = gpio.InputPullUp
	}
	for _, pin := range []int{clkPin, dtPin} {
		if err := g.SetupPin(pin, mode); err != nil {
			return nil, fmt.Errorf("setup encoder pin %d: %w", pin, err)
		}
	}
	if interval <= 0 {
		interval = 500 * time.Microsecond
	}
	return &PollSource{gpio: g, clk: clkPin, dt: dtPin, interval: interval}, nil
}

func (p *PollSource) read() (bool, bool, error) {
	clk, err := p.gpio.ReadPin(p.clk)
	if err != nil {
		return false, false, fmt.Errorf("read clk: %w", err)
	}
	dt, err := p.gpio.ReadPin(p.dt)
	if err != nil {
		return false, false, fmt.Errorf("read dt: %w", err)
	}
	return bool(clk), bool(dt), nil
}

// Run samples until ctx is done. The first sample is always reported.
func (p *PollSource) Run(ctx context.Context, h func(clk, dt bool)) error {
	debug.Info("Encoder: polling CLK=%d DT=%d every %v", p.clk, p.dt, p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	clk, dt, err := p.read()
	if err != nil {
		return err
	}
	h(clk, dt)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		c, d, err := p.read()
		if err != nil {
			return err
		}
		if c != clk || d != dt {
			clk, dt = c, d
			h(clk, dt)
		}
	}
}

// EdgeSource waits for kernel edge notifications on both pins.
type EdgeSource struct {
	pins []*gpio.SysfsPin
	wake time.Duration
}

// NewEdgeSource exports both pins under root (gpio.SysfsRoot if empty).
func NewEdgeSource(root string, clkPin, dtPin int) (*EdgeSource, error) {
	clk, err := gpio.OpenEdgePin(root, clkPin)
	if err != nil {
		return nil, err
	}
	dt, err := gpio.OpenEdgePin(root, dtPin)
	if err != nil {
		_ = clk.Close()
		return nil, err
	}
	return &EdgeSource{pins: []*gpio.SysfsPin{clk, dt}, wake: 100 * time.Millisecond}, nil
}

// Run reports the pin pair after every edge until ctx is done. Waits are
// bounded so cancellation is noticed within the wake interval.
func (s *EdgeSource) Run(ctx context.Context, h func(clk, dt bool)) error {
	debug.Info("Encoder: edge-triggered on pins %d/%d", s.pins[0].Number(), s.pins[1].Number())
	var last [2]bool
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first {
			edge, err := gpio.WaitEdge(s.pins, s.wake)
			if err != nil {
				return err
			}
			if !edge {
				continue
			}
		}
		clk, err := s.pins[0].Read()
		if err != nil {
			return err
		}
		dt, err := s.pins[1].Read()
		if err != nil {
			return err
		}
		cur := [2]bool{bool(clk), bool(dt)}
		if first || cur != last {
			last, first = cur, false
			h(cur[0], cur[1])
		}
	}
}

// Close unexports both pins.
func (s *EdgeSource) Close() error {
	var firstErr error
	for _, p := range s.pins {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
