package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"paylink/pkg/logging"
)

var Version = "dev"

func main() {
	logging.Setup()

	rootCmd := &cobra.Command{
		Use:          "paylinkctl",
		Short:        "paylinkctl - operator tool for the payment confirmation engine",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(linksCmd())
	rootCmd.AddCommand(consistencyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
