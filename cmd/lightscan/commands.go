package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	yml "gopkg.in/yaml.v2"

	httpscan "github.com/thzlab/lightscan/generichttp/scan"
	"github.com/thzlab/lightscan/lockin"
	"github.com/thzlab/lightscan/scan"
	"github.com/thzlab/lightscan/server"
	"github.com/thzlab/lightscan/telemetry"
)

func config() (Config, error) {
	c, err := loadConfig(cfgFile)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}

// session opens the rig, applies its startup configuration and returns a
// function that releases everything
func session(ctx context.Context, c Config) (*rig, func() error, error) {
	r, err := buildRig(c)
	if err != nil {
		return nil, nil, err
	}
	if err = r.open(); err != nil {
		return nil, nil, err
	}
	if err = r.setup(ctx, c); err != nil {
		return nil, nil, multierror.Append(err, r.close())
	}
	return r, r.close, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the instruments and the scan controller over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		r, release, err := session(ctx, c)
		if err != nil {
			return err
		}
		mp, shutdown, err := telemetry.Setup(ctx, c.Telemetry, Version)
		if err != nil {
			return multierror.Append(err, release())
		}
		metrics, err := telemetry.NewMetrics(mp)
		if err != nil {
			return multierror.Append(err, release(), shutdown(context.Background()))
		}
		feed := httpscan.NewFeed()
		ctl := r.controller(c, scan.LogObserver{Logger: log.Default()}, metrics, feed)
		mux := buildMux(c, r, ctl, feed)

		log.Println("now listening for requests at ", c.Addr)
		var result error
		if err := server.Serve(ctx, c.Addr, mux); err != nil {
			result = multierror.Append(result, err)
		}
		ctl.Stop()
		ctl.Wait()
		feed.Close()
		if err := shutdown(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
		if err := release(); err != nil {
			result = multierror.Append(result, err)
		}
		return result
	},
}

var scanFlags struct {
	start, stop, step, wait float64
	averaging               int
	tc, sens, label         string
	noSave                  bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan headless with the configured defaults",
	Long: `scan runs a single sweep and exits.  Flags override the scan section of
the configuration.  Interrupt (ctrl-C) stops the sweep; samples taken so far
are still saved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config()
		if err != nil {
			return err
		}
		applyScanFlags(cmd, &c)
		p, err := c.Scan.Parameters()
		if err != nil {
			return err
		}
		if err = p.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		r, release, err := session(ctx, c)
		if err != nil {
			return err
		}
		defer release()

		obs := newSpinObserver(os.Stderr)
		ctl := r.controller(c, obs)
		log.Printf("estimated duration %s", scan.FormatDuration(ctl.Estimate(p)))
		sess, err := ctl.Run(ctx, p)
		obs.done(sess, err)
		if err != nil {
			return err
		}
		report(os.Stdout, sess)
		return nil
	},
}

func init() {
	f := scanCmd.Flags()
	f.Float64Var(&scanFlags.start, "start", 0, "first stage position")
	f.Float64Var(&scanFlags.stop, "stop", 0, "last stage position")
	f.Float64Var(&scanFlags.step, "step", 0, "step size")
	f.Float64Var(&scanFlags.wait, "wait", 0, "settle time after each move, in time constants")
	f.IntVar(&scanFlags.averaging, "averaging", 0, "readings averaged per position")
	f.StringVar(&scanFlags.tc, "tc", "", `time constant label, e.g. "300 ms"`)
	f.StringVar(&scanFlags.sens, "sens", "", `sensitivity label, e.g. "500 mV"`)
	f.StringVar(&scanFlags.label, "label", "", "file name label")
	f.BoolVar(&scanFlags.noSave, "no-save", false, "do not write the result")
}

func applyScanFlags(cmd *cobra.Command, c *Config) {
	f := cmd.Flags()
	if f.Changed("start") {
		c.Scan.Start = scanFlags.start
	}
	if f.Changed("stop") {
		c.Scan.Stop = scanFlags.stop
	}
	if f.Changed("step") {
		c.Scan.StepSize = scanFlags.step
	}
	if f.Changed("wait") {
		c.Scan.PostMoveWait = scanFlags.wait
	}
	if f.Changed("averaging") {
		c.Scan.Averaging = scanFlags.averaging
	}
	if f.Changed("tc") {
		c.Scan.TimeConstant = scanFlags.tc
	}
	if f.Changed("sens") {
		c.Scan.Sensitivity = scanFlags.sens
	}
	if f.Changed("label") {
		c.Save.Label = scanFlags.label
	}
	if scanFlags.noSave {
		c.Save.Enabled = false
	}
}

func report(w io.Writer, s scan.Session) {
	fmt.Fprintf(w, "session %s %s: %d samples, %d recovered frames, %s\n",
		s.ID, s.Outcome, len(s.Samples), s.Recovered(),
		scan.FormatDuration(s.EndedAt.Sub(s.StartedAt)))
	if s.Saved {
		fmt.Fprintf(w, "saved %s\n", s.File)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "error: %s\n", s.Error)
	}
}

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "Write the effective configuration to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		f, err := os.Create(cfgFile)
		if err != nil {
			return err
		}
		defer f.Close()
		return yml.NewEncoder(f).Encode(c)
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		return yml.NewEncoder(cmd.OutOrStdout()).Encode(c)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lightscan version %v\n", Version)
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the selectable time constants and sensitivities",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		return printTables(cmd.OutOrStdout(), c.Scan.PostMoveWait)
	},
}

// printTables lists both amplifier tables.  The settle column is the wait
// after each move at the given factor
func printTables(w io.Writer, factor float64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "index\ttime constant\tcommand\tsettle")
	for _, tc := range lockin.TimeConstants() {
		cmd, err := tc.Command()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", int(tc), tc, cmd, humanize.SIWithDigits(tc.Seconds()*factor, 1, "s"))
	}
	fmt.Fprintln(tw, "\t\t\t")
	fmt.Fprintln(tw, "index\tsensitivity\tcommand\t")
	for _, s := range lockin.Sensitivities() {
		cmd, err := s.Command()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", int(s), s, cmd)
	}
	return tw.Flush()
}
