// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the foldeval CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/foldeval/internal/logging"
	"github.com/pdiddy/foldeval/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// loadedSecrets holds credentials loaded from the secrets directory at
	// startup.
	loadedSecrets *secrets.Secrets

	logger *slog.Logger
)

// rootCmd is the base command for the foldeval CLI.
var rootCmd = &cobra.Command{
	Use:   "foldeval",
	Short: "Evaluate predicted protein structures against solved references",
	Long: `foldeval measures how closely predicted protein structures match
experimentally solved ones. For every identifier it fetches the canonical
sequence and the predicted model, searches a reference database for
similar solved structures, keeps the hits above the identity threshold,
and superimposes each one on the prediction. The RMSD of every pair is
written to a flat report, and a notification is sent when the run ends.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("log-format")
		level, _ := cmd.Flags().GetString("log-level")
		l, err := logging.New(os.Stderr, format, level)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if keys := s.Keys(); len(keys) > 0 {
			logger.Debug("loaded secrets", "keys", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./foldeval.yaml or ~/.config/foldeval/foldeval.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets", "directory of credential files")
	rootCmd.PersistentFlags().String("log-format", logging.FormatText, "diagnostic log format (text or json)")
	rootCmd.PersistentFlags().String("log-level", "info", "diagnostic log level (debug, info, warn, error)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("foldeval")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "foldeval"))
		}
	}

	setDefaults(viper.GetViper())
	viper.SetEnvPrefix("FOLDEVAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
