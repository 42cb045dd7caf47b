package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"foreman/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and agent manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s config loaded (bus capacity %d, %d scheduled tick(s))\n",
				color.GreenString("ok:"), cfg.Bus.Capacity, len(cfg.Ticks))

			if cfg.Automation.ManifestPath == "" {
				fmt.Println("no automation manifest configured, skipping")
				return nil
			}
			agents, err := config.LoadAgentManifest(cfg.Automation.ManifestPath)
			if err != nil {
				return err
			}
			live := 0
			for _, a := range agents {
				if a.Eligible() {
					live++
				}
			}
			fmt.Printf("%s %d automation agent(s), %d eligible to run\n",
				color.GreenString("ok:"), len(agents), live)
			return nil
		},
	}
}
