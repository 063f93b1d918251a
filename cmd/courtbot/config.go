package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"courtbot/internal/app"
	"courtbot/internal/config"
)

func newConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and validate the config without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ParseFile(*cfgPath)
			if err != nil {
				return err
			}
			if err := app.Validate(cfg); err != nil {
				return fmt.Errorf("%s: %w", *cfgPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", *cfgPath)
			return nil
		},
	})
	return cmd
}
