package main

import (
	"os"

	"github.com/spf13/cobra"

	"gatewarden/internal/entrypoint"
	"gatewarden/internal/render"
)

func newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the integrity manifest and the state of each recorded file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := render.CheckFormat(output); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}

			// Read-only: no audit log.
			cfg.AuditLog = entrypoint.AuditLogOff
			verifier, _, err := entrypoint.OpenVerifier(cfg, logger, nil)
			if err != nil {
				return err
			}

			status, err := verifier.Status()
			if err != nil {
				return err
			}
			return render.WriteStatus(os.Stdout, output, status)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", render.FormatTable, "output format: table, json or yaml")
	return cmd
}
