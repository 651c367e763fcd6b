package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/logic/motion"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// maxSimDetents bounds one simulated rotation (two full turns in full-step mode).
const maxSimDetents = 720

// Controller is the engine surface used by the handlers.
type Controller interface {
	Start(targets []float64) error
	Stop()
	SetOutput(on bool)
	Status() sequence.Status
	Settings() config.Settings
	UpdateSettings(s config.Settings) (bool, error)
	SetDebug(on bool)
	DebugInfo() motion.DebugInfo
}

// Rotator turns the simulated knob (mock GPIO only).
type Rotator interface {
	Rotate(ctx context.Context, detents int) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Engine      Controller
	Sim         Rotator // nil unless running on mock GPIO
	staticFS    fs.FS

	rotatingMu sync.Mutex
	rotating   bool
}

// NewHandlers creates handlers with the given dependencies.
// If sim is nil, POST /api/sim/rotate returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, engine Controller, sim Rotator, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Engine:      engine,
		Sim:         sim,
		staticFS:    staticFS,
	}
}

type setRequest struct {
	Angles []float64 `json:"angles"`
}

type outputRequest struct {
	On *bool `json:"on"`
}

type debugRequest struct {
	Enabled *bool `json:"enabled"`
}

type rotateRequest struct {
	Detents int `json:"detents"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": msg})
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
		}
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Status())
}

// HandleSet handles POST /api/set to start a sequence.
func (h *Handlers) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Engine.Start(req.Angles); err != nil {
		if errors.Is(err, sequence.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("start failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w)
}

// HandleStop handles POST /api/stop. It always succeeds.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.Engine.Stop()
	writeOK(w)
}

// HandleOutput handles POST /api/output (manual override).
func (h *Handlers) HandleOutput(w http.ResponseWriter, r *http.Request) {
	var req outputRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, `missing field "on"`)
		return
	}
	h.Engine.SetOutput(*req.On)
	writeOK(w)
}

// HandleGetSettings handles GET /api/settings.
func (h *Handlers) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Settings())
}

// HandlePostSettings handles POST /api/settings. Fields missing from the
// body keep their current value.
func (h *Handlers) HandlePostSettings(w http.ResponseWriter, r *http.Request) {
	next := h.Engine.Settings()
	if err := decodeBody(w, r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied, err := h.Engine.UpdateSettings(next)
	if err != nil {
		if errors.Is(err, config.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("settings update failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		h.Broadcaster.BroadcastMsg("Settings saved, applied at next start")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "applied": applied})
}

// HandleDebug handles POST /api/debug.
func (h *Handlers) HandleDebug(w http.ResponseWriter, r *http.Request) {
	var req debugRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `missing field "enabled"`)
		return
	}
	h.Engine.SetDebug(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "debug_mode": *req.Enabled})
}

// HandleDebugInfo handles GET /api/debug/info.
func (h *Handlers) HandleDebugInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.DebugInfo())
}

// HandleDial handles GET /dial.png.
func (h *Handlers) HandleDial(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := WriteDial(w, h.Engine.Status(), dialSize); err != nil {
		log.Printf("dial render failed: %v", err)
	}
}

// HandleSimRotate handles POST /api/sim/rotate. The rotation runs in the
// background; one rotation at a time. Positive detents raise the angle
// whatever the forward direction.
func (h *Handlers) HandleSimRotate(w http.ResponseWriter, r *http.Request) {
	if h.Sim == nil {
		writeError(w, http.StatusServiceUnavailable, "simulator only available with mock GPIO")
		return
	}
	var req rotateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Detents == 0 || req.Detents > maxSimDetents || req.Detents < -maxSimDetents {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("detents must be non-zero and within ±%d", maxSimDetents))
		return
	}

	// Positive detents raise the angle: turn against the wiring when
	// the encoder counts counter-clockwise.
	detents := req.Detents
	if strings.EqualFold(h.Engine.Settings().ForwardDirection, "ccw") {
		detents = -detents
	}

	h.rotatingMu.Lock()
	if h.rotating {
		h.rotatingMu.Unlock()
		writeError(w, http.StatusConflict, "rotation already in progress")
		return
	}
	h.rotating = true
	h.rotatingMu.Unlock()

	// Run in goroutine; clear rotating when done
	go func() {
		defer func() {
			h.rotatingMu.Lock()
			h.rotating = false
			h.rotatingMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.Sim.Rotate(ctx, detents); err != nil {
			h.Broadcaster.Broadcast("error", "Simulated rotation failed: "+err.Error())
			log.Printf("sim rotate failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
