package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

// StatusEvent represents a single status message for SSE. Controller
// transitions carry the event itself alongside a readable message.
type StatusEvent struct {
	Time  string          `json:"t"`
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg"`
	Event *sequence.Event `json:"event,omitempty"`
}

// StatusBroadcaster distributes log lines and controller events to
// multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
}

// BroadcastEvent publishes a controller transition with level "event".
func (b *StatusBroadcaster) BroadcastEvent(ev sequence.Event) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: "event",
		Msg:   describe(ev),
		Event: &ev,
	})
}

func describe(ev sequence.Event) string {
	switch ev.Kind {
	case sequence.Started:
		return "Sequence started"
	case sequence.TargetReached:
		return fmt.Sprintf("Target #%d reached at %.1f° (run %d)", ev.Index+1, ev.Angle, ev.Run)
	case sequence.ReturnedToZero:
		return fmt.Sprintf("Target #%d done, back at zero (run %d)", ev.Index+1, ev.Run)
	case sequence.RunComplete:
		return fmt.Sprintf("Run %d complete", ev.Run)
	case sequence.Complete:
		return "Sequence complete"
	case sequence.Stopped:
		return "Sequence stopped"
	case sequence.ManualOutput:
		if ev.On {
			return "Output forced on"
		}
		return "Output forced off"
	default:
		return ev.Kind.String()
	}
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with log.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
