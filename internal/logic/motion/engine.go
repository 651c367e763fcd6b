package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/logic/position"
	"github.com/cjeanneret/abkant/internal/logic/quadrature"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

// Source produces raw encoder samples. Run calls h for each sample until
// ctx is done and must not call h after it returns.
type Source interface {
	Run(ctx context.Context, h func(clk, dt bool)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, h func(clk, dt bool)) error

func (f SourceFunc) Run(ctx context.Context, h func(clk, dt bool)) error {
	return f(ctx, h)
}

// Pins names the encoder inputs for diagnostics.
type Pins struct {
	Clk int
	Dt  int
}

// Engine ties the decoder, the position register and the sequence
// controller together. It is the only shared handle: the producer
// (HandlePins, driven by a Source) and every consumer (web, console)
// receive the same *Engine.
type Engine struct {
	reg      *position.Register
	ctrl     *sequence.Controller
	settings *config.Store
	port     sequence.Port
	pins     Pins

	// producer state
	snap    atomic.Pointer[config.Snapshot]
	decoder atomic.Uint32
	raw     atomic.Uint32
	calls   atomic.Uint64
	pulses  atomic.Uint64
	debug   atomic.Bool

	mu        sync.Mutex
	subs      map[*Subscription]struct{}
	listeners []func(sequence.Event)
	closed    bool

	pumpDone chan struct{}
	quit     chan struct{}
}

// New creates an engine driving port, with settings from store.
func New(store *config.Store, port sequence.Port, pins Pins) *Engine {
	snap := store.Snapshot()
	reg := position.NewRegister(snap.Mode.MaxSteps())
	e := &Engine{
		reg:      reg,
		ctrl:     sequence.NewController(reg, port, snap),
		settings: store,
		port:     port,
		pins:     pins,
		subs:     make(map[*Subscription]struct{}),
		pumpDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	e.snap.Store(&snap)
	go e.pump()
	return e
}

// HandlePins is the producer: decode one sample, apply any pulse to the
// register and let the controller observe the new angle.
func (e *Engine) HandlePins(clk, dt bool) {
	snap := e.snap.Load()
	e.calls.Add(1)
	e.raw.Store(uint32(quadrature.Pins(clk, dt)))

	next, dir := snap.Mode.Table().Decode(quadrature.State(e.decoder.Load()), clk, dt)
	e.decoder.Store(uint32(next))
	debug.Pins(clk, dt, uint8(next))
	if dir == quadrature.None {
		return
	}

	e.pulses.Add(1)
	v := e.reg.Apply(dir, snap.Sign)
	if debug.IsEnabled(debug.LevelVerbose) || debug.PulseLogging() {
		debug.Pulse(dir.String(), v, position.Angle(v, snap.Mode))
	}
	e.ctrl.Observe()
}

// Start begins a sequence with the current settings.
func (e *Engine) Start(targets []float64) error {
	if err := sequence.ValidateTargets(targets); err != nil {
		return err
	}
	snap := e.settings.Snapshot()
	e.snap.Store(&snap)
	// The decoder keeps tracking the pins; only the register restarts.
	return e.ctrl.Start(targets, snap)
}

// Stop ends the running sequence and switches the output off.
func (e *Engine) Stop() {
	e.ctrl.Stop()
}

// SetOutput sets the manual output override.
func (e *Engine) SetOutput(on bool) {
	e.ctrl.SetOutput(on)
}

// Status returns the controller status.
func (e *Engine) Status() sequence.Status {
	return e.ctrl.Status()
}

// Settings returns the stored settings.
func (e *Engine) Settings() config.Settings {
	return e.settings.Settings()
}

// UpdateSettings validates and persists s. They take effect immediately
// when idle, otherwise at the next Start; applied reports which.
func (e *Engine) UpdateSettings(s config.Settings) (applied bool, err error) {
	if err := e.settings.Update(s); err != nil {
		return false, err
	}
	snap := e.settings.Snapshot()
	if !e.ctrl.Reconfigure(snap) {
		debug.Info("Settings stored, applied at next start")
		return false, nil
	}
	e.snap.Store(&snap)
	return true, nil
}

// SetDebug toggles per-pulse logging.
func (e *Engine) SetDebug(on bool) {
	e.debug.Store(on)
	debug.SetPulseLogging(on)
	if on {
		debug.Info("Debug mode enabled")
	} else {
		debug.Info("Debug mode disabled")
	}
}

// DebugEnabled reports the debug mode.
func (e *Engine) DebugEnabled() bool {
	return e.debug.Load()
}

// DebugInfo is a raw view of the producer side.
type DebugInfo struct {
	ClkPin       int     `json:"clk_pin"`
	DtPin        int     `json:"dt_pin"`
	Pins         uint8   `json:"pins"`
	StateMachine uint8   `json:"state_machine"`
	RawValue     int32   `json:"raw_value"`
	Angle        float64 `json:"angle"`
	HandlerCalls uint64  `json:"handler_calls"`
	Pulses       uint64  `json:"pulses"`
	DebugMode    bool    `json:"debug_mode"`
	OutputPin    int     `json:"output_pin,omitempty"`
	OutputDriven bool    `json:"output_driven"`
}

// pinPort is a Port that reports its pin and the level it last drove,
// such as relay.Relay.
type pinPort interface {
	Pin() int
	On() bool
}

// DebugInfo returns the current producer counters.
func (e *Engine) DebugInfo() DebugInfo {
	v := e.reg.Value()
	info := DebugInfo{
		ClkPin:       e.pins.Clk,
		DtPin:        e.pins.Dt,
		Pins:         uint8(e.raw.Load()),
		StateMachine: uint8(e.decoder.Load()),
		RawValue:     v,
		Angle:        position.RoundAngle(position.Angle(v, e.snap.Load().Mode)),
		HandlerCalls: e.calls.Load(),
		Pulses:       e.pulses.Load(),
		DebugMode:    e.debug.Load(),
	}
	if p, ok := e.port.(pinPort); ok {
		info.OutputPin = p.Pin()
		info.OutputDriven = p.On()
	}
	return info
}

// OnEvent registers fn for every controller event. fn runs on the event
// pump goroutine and must not block.
func (e *Engine) OnEvent(fn func(sequence.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) pump() {
	defer close(e.pumpDone)
	for {
		select {
		case <-e.quit:
			return
		case ev := <-e.ctrl.Events():
			debug.Event(ev.Kind.String(), ev.Index, ev.Run, ev.Angle)
			if ev.Kind == sequence.RunComplete {
				debug.Live("Run %d done, starting run %d", ev.Run, ev.Run+1)
			}
			e.mu.Lock()
			listeners := append([]func(sequence.Event){}, e.listeners...)
			e.mu.Unlock()
			for _, fn := range listeners {
				fn(ev)
			}
		}
	}
}

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("engine closed")

// Subscription is a running Source bound to the engine.
type Subscription struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	once   sync.Once
}

// Subscribe starts src in its own goroutine feeding HandlePins. The
// subscription ends when ctx is cancelled, when Close is called, or when
// the engine is closed.
func (e *Engine) Subscribe(ctx context.Context, src Source) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{engine: e, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		s.err = ErrClosed
		close(s.done)
		return s
	}
	e.subs[s] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer close(s.done)
		err := src.Run(ctx, e.HandlePins)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.err = fmt.Errorf("encoder source: %w", err)
			debug.Error(s.err)
		}
	}()
	return s
}

// Done is closed once the source has returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the source error, if any, after Done is closed.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Close cancels the source and waits for it to return.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.engine.mu.Lock()
		delete(s.engine.subs, s)
		s.engine.mu.Unlock()
	})
	return s.err
}

// Close ends every subscription, stops the sequence and switches the
// output off. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := make([]*Subscription, 0, len(e.subs))
	for s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.ctrl.Stop()
	close(e.quit)
	<-e.pumpDone
	return errors.Join(errs...)
}
