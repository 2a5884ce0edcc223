// Package cmd wires the parley CLI: session runs, provider listing, and
// archive inspection.
package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/log"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Orchestrate companion intelligences over a shared session",
	Long: `Parley coordinates a set of companion intelligences (CIs) for one
development session: a registry with role-based port allocation, a
lifecycle supervisor, an addressable message bus, bounded memory
digests, and merge negotiation between branches.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .parley/parley.yaml, then $PARLEY_HOME/parley.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info",
		"log level (debug, info, warn, error)")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	cfg = config.Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .parley/parley.yaml (current directory)
		// 2. $PARLEY_HOME/parley.yaml (library root, default ~/.parley)
		if _, err := os.Stat(filepath.Join(".parley", "parley.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".parley", "parley.yaml"))
		} else if home := config.Home(); home != "" {
			viper.AddConfigPath(home)
			viper.SetConfigName("parley")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Absent config is fine; parley runs on defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			log.Warn(log.CatConfig, "Config file unreadable", "path", cfgFile, "error", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Warn(log.CatConfig, "Config unmarshal failed", "error", err)
		cfg = config.Default()
	}

	if level, ok := log.ParseLevel(viper.GetString("log_level")); ok {
		log.SetMinLevel(level)
	}
}

// SetVersion stamps the build version onto the root command.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
