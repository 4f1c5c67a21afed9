package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the AgencyHub admin CLI. Subcommands
// (tenant, schema) are attached here.
var rootCmd = &cobra.Command{
	Use:           "agencyhub",
	Short:         "AgencyHub admin CLI",
	Long:          "Administrative utilities for AgencyHub (tenant provisioning, schema repair, domain checks).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
