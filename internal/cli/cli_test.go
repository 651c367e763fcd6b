package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/logic/motion"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
	"github.com/cjeanneret/abkant/internal/web"
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

// newDaemon serves the real HTTP API over an engine fed by nothing.
func newDaemon(t *testing.T) (*motion.Engine, *httptest.Server) {
	t.Helper()
	store, err := config.NewStore(config.DefaultSettings(), "")
	require.NoError(t, err)
	engine := motion.New(store, &recordingPort{}, motion.Pins{Clk: 21, Dt: 22})
	srv := web.NewServer(":0", web.NewStatusBroadcaster(), engine, nil)
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(func() {
		ts.Close()
		engine.Close()
	})
	return engine, ts
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--addr", addr}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStartAndStatus(t *testing.T) {
	engine, ts := newDaemon(t)

	out, err := run(t, ts.URL, "start", "45,90.5", "135")
	require.NoError(t, err)
	assert.Equal(t, "Started 3 targets\n", out)

	st := engine.Status()
	assert.True(t, st.Active)
	assert.Equal(t, []float64{45, 90.5, 135}, st.TargetAngles)

	out, err = run(t, ts.URL, "status")
	require.NoError(t, err)
	assert.Equal(t, "seeking angle=0.0° target=#1/3 (45°) run=1/1 output=off\n", out)

	out, err = run(t, ts.URL, "status", "--json")
	require.NoError(t, err)
	var decoded sequence.Status
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, st.TargetAngles, decoded.TargetAngles)
}

func TestStartRejectedByDaemon(t *testing.T) {
	engine, ts := newDaemon(t)

	_, err := run(t, ts.URL, "start", "45,-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.False(t, engine.Status().Active)
}

func TestStartRejectsNonNumbers(t *testing.T) {
	_, ts := newDaemon(t)
	_, err := run(t, ts.URL, "start", "abc")
	assert.ErrorIs(t, err, sequence.ErrInvalidInput)
}

func TestStopAndOutput(t *testing.T) {
	engine, ts := newDaemon(t)
	require.NoError(t, engine.Start([]float64{45}))

	out, err := run(t, ts.URL, "output", "on")
	require.NoError(t, err)
	assert.Equal(t, "Output on\n", out)
	assert.True(t, engine.Status().OutputOn)

	out, err = run(t, ts.URL, "stop")
	require.NoError(t, err)
	assert.Equal(t, "Stopped\n", out)
	st := engine.Status()
	assert.False(t, st.Active)
	assert.False(t, st.OutputOn)

	_, err = run(t, ts.URL, "output", "maybe")
	assert.Error(t, err)
}

func TestDebugToggle(t *testing.T) {
	engine, ts := newDaemon(t)
	_, err := run(t, ts.URL, "debug", "on")
	require.NoError(t, err)
	assert.True(t, engine.DebugEnabled())
	_, err = run(t, ts.URL, "debug", "off")
	require.NoError(t, err)
	assert.False(t, engine.DebugEnabled())
}

func TestSettingsShowAndUpdate(t *testing.T) {
	engine, ts := newDaemon(t)

	out, err := run(t, ts.URL, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "step_mode:                   half")
	assert.NotContains(t, out, "Settings applied")

	out, err = run(t, ts.URL, "settings", "--runs", "3", "--step-mode", "full")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Settings applied\n"), out)
	s := engine.Settings()
	assert.Equal(t, 3, s.NumberOfRuns)
	assert.Equal(t, "full", s.StepMode)
	assert.Equal(t, "ccw", s.ForwardDirection, "untouched fields keep their value")

	require.NoError(t, engine.Start([]float64{45}))
	out, err = run(t, ts.URL, "settings", "--hold=false")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Settings saved, applied at next start\n"), out)

	_, err = run(t, ts.URL, "settings", "--direction", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward_direction")
}

func TestClientReportsPlainHTTPErrors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	_, err := NewClient(ts.URL).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestNewClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://pi.local:8080", NewClient("pi.local:8080/").base)
	assert.Equal(t, "https://x", NewClient("https://x").base)
}
