package debug

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (sequence start/complete, settings)
	LevelLive    = 2 // Live info (targets reached, returns to zero)
	LevelVerbose = 3 // Verbose (every decoder pulse, request details)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	logger *log.Logger

	// pulses forces per-pulse logging at LevelLive, toggled at runtime.
	pulses atomic.Bool
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (sequence start/complete, settings)
// 2 = live info (targets, resets, runs)
// 3 = verbose (decoder pulses, requests)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[abkant] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects log output (e.g. tee into the web status stream).
// Must be called after Init.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// SetPulseLogging enables per-pulse output at the live level.
func SetPulseLogging(on bool) {
	pulses.Store(on)
}

// PulseLogging reports whether per-pulse output is forced on.
func PulseLogging() bool {
	return pulses.Load()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Targets prints the target list of a starting sequence (level 1).
func Targets(targets []float64, runs int) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] Sequence: targets=%v runs=%d", targets, runs)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Event prints a sequence transition (level 2).
func Event(kind string, index, run int, angle float64) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] %s: target #%d run %d at %.1f°", kind, index+1, run, angle)
	}
}

// Pulse prints a decoder pulse (level 3, or level 2 with pulse logging on).
func Pulse(direction string, value int32, angle float64) {
	if logger == nil {
		return
	}
	if level >= LevelVerbose || (level >= LevelLive && pulses.Load()) {
		logger.Printf("[PULSE] %s value=%d angle=%.1f°", direction, value, angle)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 3).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// Pins prints a raw encoder sample (level 4, or level 2 with pulse logging on).
func Pins(clk, dt bool, state uint8) {
	if logger == nil {
		return
	}
	if level >= LevelTrace || (level >= LevelLive && pulses.Load()) {
		logger.Printf("[PINS] CLK=%d DT=%d state=0x%02X", b2i(clk), b2i(dt), state)
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}
