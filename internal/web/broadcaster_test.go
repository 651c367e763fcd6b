package web

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Broadcast("warn", "encoder idle")

	for i, ch := range []<-chan string{ch1, ch2} {
		evt := receive(t, ch)
		if evt.Msg != "encoder idle" || evt.Level != "warn" {
			t.Errorf("subscriber %d: got %+v", i, evt)
		}
		if evt.Event != nil {
			t.Errorf("subscriber %d: plain message should carry no event", i)
		}
		if _, err := time.Parse(time.RFC3339, evt.Time); err != nil {
			t.Errorf("subscriber %d: timestamp %q: %v", i, evt.Time, err)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	b.Broadcast("info", "after unsub") // must not panic
}

func TestBroadcaster_SlowSubscriberDropsMessages(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 80; i++ {
		b.BroadcastEvent(sequence.Event{Kind: sequence.TargetReached, Index: i})
	}
	if n := len(ch); n != 64 {
		t.Errorf("buffered = %d, want 64", n)
	}
	if evt := receive(t, ch); evt.Event.Index != 0 {
		t.Errorf("oldest kept event index = %d, want 0", evt.Event.Index)
	}
}

func TestBroadcastWriter_TeesLogLines(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	line := "[abkant] [INFO] Sequence started  \n"
	n, err := w.Write([]byte(line))
	if err != nil || n != len(line) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	evt := receive(t, ch)
	if evt.Level != "info" || evt.Msg != "[abkant] [INFO] Sequence started" {
		t.Errorf("got %+v", evt)
	}

	w.Write([]byte("   \n"))
	select {
	case msg := <-ch:
		t.Errorf("whitespace-only write broadcast %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func TestBroadcaster_ControllerEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastEvent(sequence.Event{Kind: sequence.TargetReached, Index: 1, Run: 2, Angle: 90.5})

	evt := receive(t, ch)
	if evt.Level != "event" {
		t.Errorf("level = %q, want \"event\"", evt.Level)
	}
	if evt.Msg != "Target #2 reached at 90.5° (run 2)" {
		t.Errorf("msg = %q", evt.Msg)
	}
	if evt.Event == nil || evt.Event.Kind != sequence.TargetReached || evt.Event.Index != 1 {
		t.Errorf("event = %+v", evt.Event)
	}
}

func TestBroadcaster_EventKindOnTheWire(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastEvent(sequence.Event{Kind: sequence.Complete, Run: 3})

	select {
	case msg := <-ch:
		if !strings.Contains(msg, `"kind":"complete"`) {
			t.Errorf("payload should carry a readable kind: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestDescribe_AllKinds(t *testing.T) {
	cases := []struct {
		ev   sequence.Event
		want string
	}{
		{sequence.Event{Kind: sequence.Started}, "Sequence started"},
		{sequence.Event{Kind: sequence.ReturnedToZero, Index: 0, Run: 1}, "Target #1 done, back at zero (run 1)"},
		{sequence.Event{Kind: sequence.RunComplete, Run: 4}, "Run 4 complete"},
		{sequence.Event{Kind: sequence.Stopped}, "Sequence stopped"},
		{sequence.Event{Kind: sequence.ManualOutput, On: true}, "Output forced on"},
		{sequence.Event{Kind: sequence.ManualOutput}, "Output forced off"},
	}
	for _, tc := range cases {
		if got := describe(tc.ev); got != tc.want {
			t.Errorf("describe(%v) = %q, want %q", tc.ev.Kind, got, tc.want)
		}
	}
}
