package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/console"
	"github.com/cjeanneret/abkant/internal/debug"
	"github.com/cjeanneret/abkant/internal/hw/encoder"
	"github.com/cjeanneret/abkant/internal/hw/gpio"
	"github.com/cjeanneret/abkant/internal/hw/relay"
	"github.com/cjeanneret/abkant/internal/hw/sim"
	"github.com/cjeanneret/abkant/internal/logic/motion"
	"github.com/cjeanneret/abkant/internal/web"
)

// overrides are the command-line values layered over the config file.
// Zero values mean "use config".
type overrides struct {
	Runs    int
	Console string
	WebPort int
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	runs := flag.Int("runs", 0, "override number of runs (1-100000)")
	consoleDev := flag.String("console", "", `console transport: "stdin" or a serial device such as /dev/ttyUSB0`)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := validateCLIOverrides(*runs); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	ov := overrides{Runs: *runs, Console: *consoleDev, WebPort: webPort.port()}
	applyOverrides(cfg, ov)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing relay output")
	out, err := relay.New(gpioDriver, cfg.Output.Pin, cfg.Output.ActiveLow)
	if err != nil {
		log.Fatalf("init relay failed: %v", err)
	}
	debug.PrintStruct("Output config", cfg.Output)

	debug.Step(3, "Loading settings")
	store, err := config.NewStore(cfg.Settings, cfg.State.SettingsPath)
	if err != nil {
		log.Fatalf("load settings failed: %v", err)
	}
	if ov.Runs > 0 {
		// The flag wins over persisted settings too.
		s := store.Settings()
		s.NumberOfRuns = ov.Runs
		if err := store.Update(s); err != nil {
			log.Fatalf("apply -runs failed: %v", err)
		}
	}
	debug.PrintStruct("Settings", store.Settings())

	debug.Step(4, "Starting encoder")
	src, closeSrc, err := newSource(gpioDriver, cfg)
	if err != nil {
		log.Fatalf("init encoder failed: %v", err)
	}
	engine := motion.New(store, out, motion.Pins{Clk: cfg.Encoder.ClkPin, Dt: cfg.Encoder.DtPin})
	defer func() {
		// Stops the source before its pins go away.
		if err := engine.Close(); err != nil {
			log.Printf("closing engine failed: %v", err)
		}
		closeSrc()
	}()
	sub := engine.Subscribe(ctx, src)

	var rotator web.Rotator
	if mock, ok := gpioDriver.(*gpio.MockDriver); ok {
		rotator = sim.NewKnob(mock, sim.Config{ClkPin: cfg.Encoder.ClkPin, DtPin: cfg.Encoder.DtPin})
		debug.Info("Simulated knob on pins %d/%d", cfg.Encoder.ClkPin, cfg.Encoder.DtPin)
	}

	errCh := make(chan error, 2)

	if port := cfg.Defaults.WebPort; port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		srv := web.NewServer(webAddr, broadcaster, engine, rotator)
		engine.OnEvent(broadcaster.BroadcastEvent)
		engine.OnEvent(srv.Hub().PublishEvent)
		go func() {
			if err := srv.Run(ctx); err != nil {
				errCh <- fmt.Errorf("web server: %w", err)
			}
		}()
	}

	if dev := cfg.Console.Device; dev != "" {
		go func() {
			if err := runConsole(ctx, engine, dev, cfg.Console.Baud); err != nil {
				errCh <- fmt.Errorf("console: %w", err)
			}
		}()
	}

	debug.Summary(fmt.Sprintf("abkant ready: %d runs, %s steps", store.Settings().NumberOfRuns, store.Settings().StepMode))
	select {
	case <-ctx.Done():
	case <-sub.Done():
		if err := sub.Err(); err != nil {
			log.Printf("encoder stopped: %v", err)
		}
	case err := <-errCh:
		log.Printf("%v", err)
	}
	cancel()
}

// newSource picks the encoder scheduler. Edge mode needs the kernel sysfs
// interface and is unavailable on mock GPIO.
func newSource(g gpio.Driver, cfg *config.Config) (motion.Source, func(), error) {
	if cfg.Encoder.Scheduler == config.SchedulerEdge && !cfg.Defaults.MockGPIO {
		src, err := encoder.NewEdgeSource(gpio.SysfsRoot, cfg.Encoder.ClkPin, cfg.Encoder.DtPin)
		if err != nil {
			return nil, nil, fmt.Errorf("edge scheduler: %w", err)
		}
		return src, func() {
			if err := src.Close(); err != nil {
				log.Printf("closing edge source failed: %v", err)
			}
		}, nil
	}
	src, err := encoder.NewPollSource(g, cfg.Encoder.ClkPin, cfg.Encoder.DtPin, cfg.Encoder.PullUp, cfg.PollInterval())
	if err != nil {
		return nil, nil, err
	}
	return src, func() {}, nil
}

// runConsole serves line commands on stdin or a serial device and echoes
// controller events to it. Stdin ending is not an error.
func runConsole(ctx context.Context, engine *motion.Engine, device string, baud int) error {
	if device == "stdin" || device == "-" {
		c := console.Stdio(engine)
		engine.OnEvent(c.Notify)
		err := c.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			debug.Info("Console input closed")
			<-ctx.Done()
		}
		return err
	}

	return console.Serve(ctx, engine, device, baud)
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(runs int) error {
	if runs != 0 && (runs < config.MinRuns || runs > config.MaxRuns) {
		return fmt.Errorf("runs must be between %d and %d, got %d", config.MinRuns, config.MaxRuns, runs)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, ov overrides) {
	if ov.Runs > 0 {
		cfg.Settings.NumberOfRuns = ov.Runs
	}
	if c := strings.TrimSpace(ov.Console); c != "" {
		cfg.Console.Device = c
	}
	if ov.WebPort > 0 {
		cfg.Defaults.WebPort = ov.WebPort
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
