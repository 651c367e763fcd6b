package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/tarm/serial"
	"golang.org/x/term"

	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/logic/sequence"
)

// Prompt is printed before each command on interactive terminals.
const Prompt = ">>> "

// Engine is the part of the engine the console drives.
type Engine interface {
	Start(targets []float64) error
	Stop()
	SetOutput(on bool)
	Status() sequence.Status
	SetDebug(on bool)
}

// Console reads line commands and writes their replies.
type Console struct {
	engine Engine
	in     io.Reader
	out    io.Writer
	prompt bool

	notes chan string // event lines waiting for Run to print them
}

// notesBuffer bounds pending event lines; extra lines are dropped.
const notesBuffer = 64

// New creates a console over in/out. prompt enables the ">>> " prompt.
func New(engine Engine, in io.Reader, out io.Writer, prompt bool) *Console {
	return &Console{engine: engine, in: in, out: out, prompt: prompt, notes: make(chan string, notesBuffer)}
}

// Stdio returns a console on stdin/stdout, prompting only on a terminal.
func Stdio(engine Engine) *Console {
	return New(engine, os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
}

// OpenSerial opens a serial device for use as console transport.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 0, // block until data arrives
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	debug.Info("Console on %s at %d baud", device, baud)
	return port, nil
}

// Run serves commands until ctx is done or the input ends. The input
// reader is not closed; callers close it to unblock a pending read.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.write("abkant console, type 'help' for commands\n")
	for {
		if c.prompt {
			c.write(Prompt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case note := <-c.notes:
			if c.prompt {
				note = "\n" + note // leave the prompt line
			}
			c.write(note)
		case line := <-lines:
			if reply := c.Execute(line); reply != "" {
				c.write(reply + "\n")
			}
		}
	}
}

func (c *Console) write(s string) {
	io.WriteString(c.out, s)
}

// Notify queues a controller event line for Run to print. It never
// blocks; lines are dropped while the queue is full.
func (c *Console) Notify(ev sequence.Event) {
	select {
	case c.notes <- FormatEvent(ev) + "\n":
	default:
	}
}

// FormatEvent renders an event as one line.
func FormatEvent(ev sequence.Event) string {
	line := fmt.Sprintf("* %s target=%d run=%d angle=%.1f°", ev.Kind, ev.Index+1, ev.Run, ev.Angle)
	if ev.Kind == sequence.ManualOutput {
		line += " output=" + onOff(ev.On)
	}
	return line
}

// Execute runs one command line and returns the reply.
func (c *Console) Execute(line string) string {
	args, err := shlex.Split(line)
	if err != nil {
		return "error: " + err.Error()
	}
	if len(args) == 0 {
		return ""
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "set":
		targets, err := ParseTargets(rest)
		if err != nil {
			return "error: " + err.Error()
		}
		if err := c.engine.Start(targets); err != nil {
			return "error: " + err.Error()
		}
		return fmt.Sprintf("ok: %d targets %s", len(targets), formatTargets(targets))
	case "stop":
		c.engine.Stop()
		return "ok: stopped"
	case "status":
		return FormatStatus(c.engine.Status())
	case "output":
		on, err := parseSwitch(rest)
		if err != nil {
			return "error: " + err.Error()
		}
		c.engine.SetOutput(on)
		return "ok: output " + onOff(on)
	case "debug":
		on, err := parseSwitch(rest)
		if err != nil {
			return "error: " + err.Error()
		}
		c.engine.SetDebug(on)
		return "ok: debug " + onOff(on)
	case "help", "?":
		return help
	default:
		return fmt.Sprintf("error: unknown command %q (try 'help')", cmd)
	}
}

const help = `commands:
  set 45,90.5,135   start a sequence (commas or spaces)
  stop              stop the sequence, output off
  status            show angle, target and run
  output on|off     force the output
  debug on|off      log every encoder pulse
  help              this text`

// ParseTargets accepts "45,90.5,135", "45 90.5 135" or a mix.
func ParseTargets(args []string) ([]float64, error) {
	var targets []float64
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", sequence.ErrInvalidInput, field)
			}
			targets = append(targets, v)
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("usage: set 45,90.5,135")
	}
	return targets, nil
}

func parseSwitch(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errors.New("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", args[0])
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatTargets(targets []float64) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = strconv.FormatFloat(t, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatStatus renders a status as one human readable line.
func FormatStatus(st sequence.Status) string {
	state := "idle"
	switch {
	case st.Complete:
		state = "complete"
	case st.Active && st.TargetReached:
		state = "returning"
	case st.Active:
		state = "seeking"
	}
	target := "-"
	if n := len(st.TargetAngles); n > 0 && st.CurrentTargetIndex < n {
		target = fmt.Sprintf("#%d/%d (%g°)", st.CurrentTargetIndex+1, n, st.TargetAngles[st.CurrentTargetIndex])
	} else if n > 0 {
		target = "done"
	}
	output := onOff(st.OutputOn)
	if st.ManualOverride != nil {
		output += " (manual)"
	}
	return fmt.Sprintf("%s angle=%.1f° target=%s run=%d/%d output=%s",
		state, st.Angle, target, st.CurrentRun, st.TotalRuns, output)
}

type notifier interface {
	OnEvent(fn func(sequence.Event))
}

// Serve runs a console on a serial device until ctx is done. Engines that
// publish events get them echoed on the port.
func Serve(ctx context.Context, engine Engine, device string, baud int) error {
	port, err := OpenSerial(device, baud)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		port.Close() // unblocks the reader
	}()
	c := New(engine, port, port, false)
	if n, ok := engine.(notifier); ok {
		n.OnEvent(c.Notify)
	}
	err = c.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
