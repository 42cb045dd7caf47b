package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "foreman",
		Short: "Event-driven multi-agent task coordination service",
		Long: `foreman routes workspace events through a priority bus to registered
coordination agents and runs configured automations against a planning
backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newValidateCmd())
	return root
}
