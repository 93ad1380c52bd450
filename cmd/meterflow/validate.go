package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghalamif/MeterFlow/internal/app/config"
)

var printSchema bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file against the schema without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		if printSchema {
			fmt.Fprint(cmd.OutOrStdout(), config.Schema())
			return nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good ✅ (transport=%s store=%s)\n",
			configPath, cfg.Transport.Kind, cfg.Store.Driver)
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&printSchema, "schema", false, "Print the CUE schema and exit")
}
