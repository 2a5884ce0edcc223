package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/provider/remote"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered provider types and their availability",
	Long: `Providers lists every registered provider type. Hosted backends
also report whether their credential environment variable is set.`,
	RunE: listProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func listProviders(cmd *cobra.Command, args []string) error {
	for _, t := range provider.Registered() {
		status := "local"
		if vendor, ok := remote.Vendors[t]; ok {
			if vendor.Available() {
				status = "available"
			} else {
				status = "missing " + vendor.CredentialEnv
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", t, status)
	}
	return nil
}
