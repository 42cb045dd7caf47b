package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"foreman/internal/automation"
	"foreman/internal/config"
)

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured automation agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Automation.ManifestPath == "" {
				fmt.Println("no automation manifest configured")
				return nil
			}
			agents, err := config.LoadAgentManifest(cfg.Automation.ManifestPath)
			if err != nil {
				return err
			}
			printAgents(agents)
			return nil
		},
	}
}

func printAgents(agents []*automation.AgentConfig) {
	bold := color.New(color.Bold)
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	bold.Fprintln(w, "ID\tNAME\tMODE\tDRIVEN\tPERMISSIONS\tTRIGGERS")
	for _, a := range agents {
		driven := "rules"
		if a.AIDriven {
			driven = "ai"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			a.ID, a.Name, colorMode(a.Mode), driven, len(a.Permissions), len(a.Triggers))
	}
	w.Flush()
}

func colorMode(m automation.Mode) string {
	switch m {
	case automation.ModeLive:
		return color.GreenString(string(m))
	case automation.ModeShadow:
		return color.CyanString(string(m))
	case automation.ModePaused, automation.ModeRetired:
		return color.YellowString(string(m))
	default:
		return string(m)
	}
}
