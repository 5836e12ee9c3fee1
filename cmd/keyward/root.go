// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/xdg"
)

// configFile is the --config flag shared by all subcommands.
var configFile string

// NewRootCmd creates the root command for the keyward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyward",
		Short: "Keyward - credential and session-token authority",
		Long: `Keyward registers accounts, verifies passwords, issues opaque bearer
tokens and validates them on every protected request.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd(nil))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig layers the config file, the given flags and the environment.
// Without --config, $XDG_CONFIG_HOME/keyward/config.yaml is used if present.
func loadConfig(flags *pflag.FlagSet, getenv func(string) string) (*config.Config, error) {
	file := configFile
	if file == "" {
		if found, ok := xdg.DefaultConfigFile(getenv); ok {
			file = found
		}
	}
	//nolint:wrapcheck // config errors already carry codes
	return config.Load(config.Source{File: file, Flags: flags, Getenv: getenv})
}
