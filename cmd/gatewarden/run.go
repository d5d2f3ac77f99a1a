package main

import (
	"github.com/spf13/cobra"

	"gatewarden/internal/entrypoint"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Verify executables, prepare the volume and exec COMMAND",
		Long: `Run is the container entrypoint. It refuses to start without the
gateway secret, verifies the watched directories against the integrity
manifest (establishing it on first boot), seeds the gateway config and
replaces itself with COMMAND.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}

			return entrypoint.Run(entrypoint.Options{
				Config: cfg,
				Args:   args,
				Logger: logger,
			})
		},
	}
	// Everything after COMMAND belongs to COMMAND.
	cmd.Flags().SetInterspersed(false)
	return cmd
}
