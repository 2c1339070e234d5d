// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/vestat/pkg/config"
)

var initConfigForce bool

var initConfigCmd = &cobra.Command{
	Use:   "init_config",
	Short: "Write a configuration file with the current settings",
	Long: `Write the merged configuration (defaults, existing file and flags) to
--config, or to ./vestat.toml. An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInitConfig,
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "Overwrite an existing file")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultFile
	}

	exists, err := afero.Exists(appFs, path)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	if exists && !initConfigForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Save(appFs, path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
