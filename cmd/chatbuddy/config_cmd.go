package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/avvvet/chatbuddy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print warnings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return checkConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func checkConfig(w io.Writer, cfg *config.Config) error {
	err := config.Validate(cfg)

	var verr *config.ValidationError
	if errors.As(err, &verr) {
		for _, p := range verr.Problems {
			fmt.Fprintf(w, "❌ %s\n", p)
		}
	} else if err != nil {
		return err
	}
	for _, warning := range config.Warnings(cfg) {
		fmt.Fprintf(w, "⚠️ %s\n", warning)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "✅ configuration is valid")
	return nil
}
