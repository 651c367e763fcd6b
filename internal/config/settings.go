package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/abkant/internal/logic/quadrature"
)

// ErrInvalidSettings is returned (wrapped) for any settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Run count limits.
const (
	MinRuns = 1
	MaxRuns = 100000
)

// Settings are the user-tunable sequencing parameters.
type Settings struct {
	ForwardDirection         string  `yaml:"forward_direction" json:"forward_direction"` // "cw" or "ccw"
	StepMode                 string  `yaml:"step_mode" json:"step_mode"`                 // "full" or "half"
	MinimumAngleThreshold    float64 `yaml:"minimum_angle_threshold" json:"minimum_angle_threshold"`
	HoldOutputUntilThreshold bool    `yaml:"hold_output_until_threshold" json:"hold_output_until_threshold"`
	NumberOfRuns             int     `yaml:"number_of_runs" json:"number_of_runs"`
}

// DefaultSettings mirrors the shipped firmware: reversed encoder, half
// steps, 2 degree return threshold, a single run.
func DefaultSettings() Settings {
	return Settings{
		ForwardDirection:         "ccw",
		StepMode:                 "half",
		MinimumAngleThreshold:    2.0,
		HoldOutputUntilThreshold: true,
		NumberOfRuns:             1,
	}
}

// Validate checks every field.
func (s Settings) Validate() error {
	if _, err := parseSign(s.ForwardDirection); err != nil {
		return err
	}
	if _, err := quadrature.ParseStepMode(s.StepMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	t := s.MinimumAngleThreshold
	if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 || t >= 360 {
		return fmt.Errorf("%w: minimum_angle_threshold must be > 0 and < 360, got %g", ErrInvalidSettings, t)
	}
	if s.NumberOfRuns < MinRuns || s.NumberOfRuns > MaxRuns {
		return fmt.Errorf("%w: number_of_runs must be between %d and %d, got %d", ErrInvalidSettings, MinRuns, MaxRuns, s.NumberOfRuns)
	}
	return nil
}

func parseSign(dir string) (int32, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "cw":
		return 1, nil
	case "ccw":
		return -1, nil
	default:
		return 0, fmt.Errorf("%w: forward_direction must be cw or ccw, got %q", ErrInvalidSettings, dir)
	}
}

// Snapshot is the immutable per-run view of Settings.
type Snapshot struct {
	Sign       int32 // +1 when a forward decoder pulse counts up
	Mode       quadrature.StepMode
	MinAngle   float64
	HoldOutput bool
	Runs       int
}

// Snapshot validates s and converts it.
func (s Settings) Snapshot() (Snapshot, error) {
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	sign, _ := parseSign(s.ForwardDirection)
	mode, _ := quadrature.ParseStepMode(s.StepMode)
	return Snapshot{
		Sign:       sign,
		Mode:       mode,
		MinAngle:   s.MinimumAngleThreshold,
		HoldOutput: s.HoldOutputUntilThreshold,
		Runs:       s.NumberOfRuns,
	}, nil
}

// Store holds the live settings and optionally persists them as YAML.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a store seeded with initial. If path names an existing
// file its contents take precedence.
func NewStore(initial Settings, path string) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	st := &Store{settings: initial, path: path}
	if path == "" {
		return st, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	saved := initial
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := saved.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	st.settings = saved
	return st, nil
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Snapshot converts the current settings.
func (s *Store) Snapshot() Snapshot {
	snap, _ := s.Settings().Snapshot() // validated on every write
	return snap
}

// Update validates, persists and installs next.
func (s *Store) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := writeSettings(s.path, next); err != nil {
			return err
		}
	}
	s.settings = next
	return nil
}

func writeSettings(path string, st Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
