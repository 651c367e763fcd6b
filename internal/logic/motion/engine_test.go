package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/hw/gpio"
	"github.com/cjeanneret/abkant/internal/hw/relay"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

type recordingPort struct {
	mu     sync.Mutex
	writes []bool
}

func (p *recordingPort) Write(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, on)
	return nil
}

func (p *recordingPort) last() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes) > 0 && p.writes[len(p.writes)-1]
}

func cwSettings() config.Settings {
	s := config.DefaultSettings()
	s.ForwardDirection = "cw"
	return s
}

func newEngine(t *testing.T, s config.Settings) (*Engine, *recordingPort) {
	t.Helper()
	store, err := config.NewStore(s, "")
	require.NoError(t, err)
	port := &recordingPort{}
	e := New(store, port, Pins{Clk: 21, Dt: 22})
	t.Cleanup(func() { _ = e.Close() })
	return e, port
}

// turn feeds whole detent cycles (11→10→00→01→11 forward) to HandlePins.
func turn(e *Engine, detents int) {
	fwd := [][2]bool{{true, false}, {false, false}, {false, true}, {true, true}}
	bwd := [][2]bool{{false, true}, {false, false}, {true, false}, {true, true}}
	cycle := fwd
	if detents < 0 {
		cycle, detents = bwd, -detents
	}
	for i := 0; i < detents; i++ {
		for _, p := range cycle {
			e.HandlePins(p[0], p[1])
		}
	}
}

func TestHandlePins_HalfStepAngle(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	turn(e, 10)
	assert.Equal(t, 10.0, e.Status().Angle, "two half steps per detent, 0.5° each")
	turn(e, -4)
	assert.Equal(t, 6.0, e.Status().Angle)
}

func TestHandlePins_FullStepAngle(t *testing.T) {
	s := cwSettings()
	s.StepMode = "full"
	e, _ := newEngine(t, s)
	turn(e, 10)
	assert.Equal(t, 10.0, e.Status().Angle)
}

func TestHandlePins_DirectionSign(t *testing.T) {
	e, _ := newEngine(t, config.DefaultSettings()) // ccw
	turn(e, 5)
	assert.Equal(t, 0.0, e.Status().Angle, "clamped at zero")
	turn(e, -5)
	assert.Equal(t, 5.0, e.Status().Angle)
}

func TestHandlePins_BounceIgnored(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	for i := 0; i < 50; i++ {
		e.HandlePins(true, false)
		e.HandlePins(true, true)
	}
	info := e.DebugInfo()
	assert.Equal(t, uint64(100), info.HandlerCalls)
	assert.Equal(t, uint64(0), info.Pulses)
	assert.Equal(t, int32(0), info.RawValue)
}

func TestEngine_ScenarioA(t *testing.T) {
	e, port := newEngine(t, cwSettings())
	require.NoError(t, e.Start([]float64{45}))

	turn(e, 45)
	st := e.Status()
	assert.Equal(t, 45.0, st.Angle)
	assert.True(t, st.OutputOn)
	assert.True(t, port.last())

	turn(e, -45)
	st = e.Status()
	assert.True(t, st.Complete)
	assert.False(t, st.Active)
	assert.False(t, st.OutputOn)
	assert.False(t, port.last())
}

func TestEngine_StartAtHalfStepRest(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	e.HandlePins(true, false)
	e.HandlePins(false, false) // half a detent: resting at 00
	require.Equal(t, int32(1), e.DebugInfo().RawValue)

	require.NoError(t, e.Start([]float64{90}))
	assert.Equal(t, int32(0), e.DebugInfo().RawValue)

	e.HandlePins(false, true)
	e.HandlePins(true, true) // rest at 11 counts
	turn(e, 1)

	info := e.DebugInfo()
	assert.Equal(t, int32(3), info.RawValue, "no half step lost across Start")
	assert.Equal(t, uint64(4), info.Pulses)
	assert.Equal(t, 1.5, info.Angle)
}

func TestEngine_StartRejects(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	err := e.Start(nil)
	assert.True(t, errors.Is(err, sequence.ErrInvalidInput))
	assert.False(t, e.Status().Active)
}

func TestEngine_UpdateSettings(t *testing.T) {
	e, _ := newEngine(t, cwSettings())

	full := cwSettings()
	full.StepMode = "full"
	applied, err := e.UpdateSettings(full)
	require.NoError(t, err)
	assert.True(t, applied, "idle update applies immediately")
	turn(e, 3)
	assert.Equal(t, 3.0, e.Status().Angle)

	require.NoError(t, e.Start([]float64{90}))
	applied, err = e.UpdateSettings(cwSettings())
	require.NoError(t, err)
	assert.False(t, applied, "update while active is deferred")
	turn(e, 3)
	assert.Equal(t, 3.0, e.Status().Angle, "running sequence keeps full steps")
	assert.Equal(t, "half", e.Settings().StepMode)

	e.Stop()
	require.NoError(t, e.Start([]float64{90}))
	turn(e, 3)
	assert.Equal(t, 3.0, e.Status().Angle)
	assert.Equal(t, "half", e.Status().StepMode)

	bad := cwSettings()
	bad.NumberOfRuns = 0
	_, err = e.UpdateSettings(bad)
	assert.True(t, errors.Is(err, config.ErrInvalidSettings))
}

func TestEngine_DebugInfo(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	e.SetDebug(true)
	defer e.SetDebug(false)
	turn(e, 2)
	e.HandlePins(true, false)

	info := e.DebugInfo()
	assert.Equal(t, 21, info.ClkPin)
	assert.Equal(t, 22, info.DtPin)
	assert.Equal(t, uint8(0b10), info.Pins)
	assert.Equal(t, uint64(9), info.HandlerCalls)
	assert.Equal(t, uint64(4), info.Pulses)
	assert.Equal(t, int32(4), info.RawValue)
	assert.Equal(t, 2.0, info.Angle)
	assert.True(t, info.DebugMode)
	assert.True(t, e.DebugEnabled())
}

func TestEngine_DebugInfoReportsRelay(t *testing.T) {
	g := &gpio.MockDriver{}
	out, err := relay.New(g, 26, false)
	require.NoError(t, err)
	store, err := config.NewStore(cwSettings(), "")
	require.NoError(t, err)
	e := New(store, out, Pins{Clk: 21, Dt: 22})
	t.Cleanup(func() { _ = e.Close() })

	info := e.DebugInfo()
	assert.Equal(t, 26, info.OutputPin)
	assert.False(t, info.OutputDriven)

	require.NoError(t, e.Start([]float64{5}))
	turn(e, 5)
	info = e.DebugInfo()
	assert.True(t, info.OutputDriven)
	assert.Equal(t, gpio.High, g.Level(26))

	e.Stop()
	assert.False(t, e.DebugInfo().OutputDriven)
}

func TestEngine_DebugInfoWithoutPinPort(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	info := e.DebugInfo()
	assert.Zero(t, info.OutputPin)
	assert.False(t, info.OutputDriven)
}

func TestEngine_OnEvent(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	got := make(chan sequence.Event, 8)
	e.OnEvent(func(ev sequence.Event) { got <- ev })

	require.NoError(t, e.Start([]float64{5}))
	turn(e, 5)

	want := []sequence.EventKind{sequence.Started, sequence.TargetReached}
	for _, kind := range want {
		select {
		case ev := <-got:
			assert.Equal(t, kind, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func TestSubscribe_FeedsHandler(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	fed := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, h func(clk, dt bool)) error {
		for i := 0; i < 4; i++ {
			h(true, false)
			h(false, false)
			h(false, true)
			h(true, true)
		}
		close(fed)
		<-ctx.Done()
		return ctx.Err()
	})

	sub := e.Subscribe(context.Background(), src)
	<-fed
	require.NoError(t, sub.Close())
	assert.Equal(t, 4.0, e.Status().Angle)

	select {
	case <-sub.Done():
	default:
		t.Error("Done should be closed after Close")
	}
	assert.NoError(t, sub.Close(), "second Close is a no-op")
}

func TestSubscribe_SourceError(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	boom := errors.New("pin vanished")
	sub := e.Subscribe(context.Background(), SourceFunc(func(ctx context.Context, h func(clk, dt bool)) error {
		return boom
	}))
	assert.True(t, errors.Is(sub.Err(), boom))
}

func TestSubscribe_ContextCancel(t *testing.T) {
	e, _ := newEngine(t, cwSettings())
	ctx, cancel := context.WithCancel(context.Background())
	sub := e.Subscribe(ctx, SourceFunc(func(ctx context.Context, h func(clk, dt bool)) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end on cancel")
	}
	assert.NoError(t, sub.Err())
}

func TestEngine_CloseEndsEverything(t *testing.T) {
	e, port := newEngine(t, cwSettings())
	require.NoError(t, e.Start([]float64{5}))
	turn(e, 10)
	require.True(t, port.last())

	stopped := make(chan struct{})
	sub := e.Subscribe(context.Background(), SourceFunc(func(ctx context.Context, h func(clk, dt bool)) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))

	require.NoError(t, e.Close())
	select {
	case <-stopped:
	default:
		t.Error("source still running after Close")
	}
	<-sub.Done()
	assert.False(t, e.Status().Active)
	assert.False(t, port.last())
	assert.NoError(t, e.Close(), "Close is idempotent")

	late := e.Subscribe(context.Background(), SourceFunc(func(ctx context.Context, h func(clk, dt bool)) error {
		t.Error("source must not run after Close")
		return nil
	}))
	assert.True(t, errors.Is(late.Err(), ErrClosed))
}
