package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Long: `Init writes the default config template to $PARLEY_HOME/parley.yaml
(or the path given with --config). It refuses to overwrite an existing file.`,
	RunE: initConfigFile,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initConfigFile(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if path == "" {
		return fmt.Errorf("cannot determine config path; set %s or pass --config", config.HomeEnv)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
