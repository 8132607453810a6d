package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "chatbuddy",
	Short: "chatbuddy - persona-driven group chat assistant",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFlag != "" {
			os.Setenv("CHATBUDDY_CONFIG", configFlag)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the YAML config file (default config/config.yaml)")
	rootCmd.AddCommand(serveCmd, memoryCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
