package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/abkant/internal/config"
	"github.com/cjeanneret/abkant/internal/console"
)

func newStatusCmd(client func() *Client) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show angle, target, run and output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintln(out, console.FormatStatus(st))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status JSON")
	return cmd
}

func newStartCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "start <angle>...",
		Short: "Start a sequence of target angles",
		Long: `Starts a sequence. Angles may be separated by spaces or commas:

  abkantctl start 45 90.5 135
  abkantctl start 45,90.5,135`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := console.ParseTargets(args)
			if err != nil {
				return err
			}
			if err := client().Start(cmd.Context(), targets); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d targets\n", len(targets))
			return nil
		},
	}
}

func newStopCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the sequence and switch the output off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
			return nil
		},
	}
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

func newOutputCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:       "output on|off",
		Short:     "Force the output until the next target or stop",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			if err := client().SetOutput(cmd.Context(), on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Output %s\n", strings.ToLower(args[0]))
			return nil
		},
	}
}

func newDebugCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:       "debug on|off",
		Short:     "Toggle per-pulse logging on the daemon",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			if err := client().SetDebug(cmd.Context(), on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Debug %s\n", strings.ToLower(args[0]))
			return nil
		},
	}
}

func newSettingsCmd(client func() *Client) *cobra.Command {
	var (
		runs      int
		direction string
		stepMode  string
		threshold float64
		hold      bool
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
		Long: `Without flags, prints the live settings. With flags, changes only
the given fields. Changes made while a sequence runs apply at the next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			flags := cmd.Flags()
			if flags.Changed("runs") {
				fields["number_of_runs"] = runs
			}
			if flags.Changed("direction") {
				fields["forward_direction"] = direction
			}
			if flags.Changed("step-mode") {
				fields["step_mode"] = stepMode
			}
			if flags.Changed("threshold") {
				fields["minimum_angle_threshold"] = threshold
			}
			if flags.Changed("hold") {
				fields["hold_output_until_threshold"] = hold
			}

			c := client()
			out := cmd.OutOrStdout()
			if len(fields) > 0 {
				applied, err := c.UpdateSettings(cmd.Context(), fields)
				if err != nil {
					return err
				}
				if applied {
					fmt.Fprintln(out, "Settings applied")
				} else {
					fmt.Fprintln(out, "Settings saved, applied at next start")
				}
			}

			s, err := c.Settings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd, s)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&runs, "runs", 1, fmt.Sprintf("number of runs (%d-%d)", config.MinRuns, config.MaxRuns))
	f.StringVar(&direction, "direction", "ccw", "forward direction: cw or ccw")
	f.StringVar(&stepMode, "step-mode", "half", "encoder step mode: full or half")
	f.Float64Var(&threshold, "threshold", 2, "return-to-zero threshold in degrees")
	f.BoolVar(&hold, "hold", true, "hold the output until the angle returns below the threshold")
	return cmd
}

func printSettings(cmd *cobra.Command, s config.Settings) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "forward_direction:           %s\n", s.ForwardDirection)
	fmt.Fprintf(out, "step_mode:                   %s\n", s.StepMode)
	fmt.Fprintf(out, "minimum_angle_threshold:     %g\n", s.MinimumAngleThreshold)
	fmt.Fprintf(out, "hold_output_until_threshold: %t\n", s.HoldOutputUntilThreshold)
	fmt.Fprintf(out, "number_of_runs:              %d\n", s.NumberOfRuns)
}
