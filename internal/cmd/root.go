package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turbolytics/harvester/internal/cmd/harvest"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "harvester",
		Short: "Harvests metadata from OAI-PMH and CSW data centres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(harvest.NewCommand())
	cmd.AddCommand(harvest.NewPlanCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
