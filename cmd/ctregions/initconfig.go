package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ctregions/pkg/config"
	"ctregions/pkg/slicefs"
)

var forceInit bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if slicefs.Exists(cfgFile) && !forceInit {
			return fmt.Errorf("%s already exists, use --force to overwrite", cfgFile)
		}
		if err := config.CreateDefaultConfigFile(cfgFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", cfgFile)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
}
