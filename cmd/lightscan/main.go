// Command lightscan drives a terahertz delay line scan: it steps a linear
// stage, reads a lock-in amplifier at every position and saves the trace.
// It runs either as an HTTP server or as a one-shot headless scan.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "lightscan",
	Short: "THz scan orchestration for an SR830 lock-in and a linear stage",
	Long: `lightscan steps a linear delay stage across a range, averages lock-in
amplifier readings at every position and records the trace.

It is configured by lightscan.yml (see mkconf) and LIGHTSCAN_ environment
variables.  In demo mode the instruments are simulated.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", ConfigFileName, "configuration file")
	rootCmd.AddCommand(runCmd, scanCmd, mkconfCmd, confCmd, versionCmd, tablesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
