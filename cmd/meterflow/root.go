package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meterflow",
	Short: "Live electrical metering dashboard and report exporter",
	Long: "MeterFlow follows a meter's live telemetry over a reconnecting connection, " +
		"keeps a short rolling window for display, and exports historical readings as CSV or PDF.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.ErrOrStderr(), banner())
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/meterflow.yaml", "Path to configuration file")
	rootCmd.AddCommand(runCmd, validateCmd, exportCmd, statsCmd, simulateCmd)
}

func banner() string {
	if os.Getenv("NO_COLOR") != "" {
		return "MeterFlow"
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render("⚡ MeterFlow")
}
