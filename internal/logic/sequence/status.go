package sequence

import "fmt"

// Status is a read-only view of the controller for consumers.
type Status struct {
	Active             bool      `json:"active"`
	Angle              float64   `json:"angle"`
	TargetAngles       []float64 `json:"target_angles"`
	CurrentTargetIndex int       `json:"current_target_index"`
	OutputOn           bool      `json:"output_on"`
	TargetReached      bool      `json:"target_reached"`
	CurrentRun         int       `json:"current_run"`
	TotalRuns          int       `json:"total_runs"`
	Complete           bool      `json:"complete"`
	ManualOverride     *bool     `json:"manual_override"`
	StepMode           string    `json:"step_mode"`
}

// EventKind identifies a controller transition.
type EventKind int

const (
	none EventKind = iota
	Started
	TargetReached
	ReturnedToZero
	RunComplete
	Complete
	Stopped
	ManualOutput
)

var eventNames = map[EventKind]string{
	Started:        "started",
	TargetReached:  "target_reached",
	ReturnedToZero: "returned_to_zero",
	RunComplete:    "run_complete",
	Complete:       "complete",
	Stopped:        "stopped",
	ManualOutput:   "manual_output",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalText lets events serialize with readable kinds.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind produced by MarshalText.
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is published on every controller transition. Index is the target
// the event refers to; Run is 1-based. On is set for ManualOutput.
type Event struct {
	Kind  EventKind `json:"kind"`
	Index int       `json:"index"`
	Run   int       `json:"run"`
	Angle float64   `json:"angle"`
	On    bool      `json:"on,omitempty"`
}
