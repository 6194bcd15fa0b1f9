package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "billingctl",
		Short:        "Operator tools for the billing service",
		Long:         `billingctl inspects and repairs billing state using the same configuration as the API (APP_* env, APP_CONFIG_FILE).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newAccessCommand(),
		newUsageCommand(),
		newEventsCommand(),
		newReconcileCommand(),
		newMigrateCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
