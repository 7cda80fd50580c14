package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sagaworker",
	Short: "Sagaworker - payment saga step workers",
	Long: `Sagaworker claims the service tasks of the PaymentSagaProcess from the
workflow engine and executes them: order creation, debit, antifraud check,
manual review, transfer, refund and customer notice.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default: built-in defaults)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(policiesCmd)
}
