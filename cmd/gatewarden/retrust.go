package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"gatewarden/internal/entrypoint"
)

func newRetrustCmd() *cobra.Command {
	var restoreExec bool

	cmd := &cobra.Command{
		Use:   "retrust PATH...",
		Short: "Accept the current content of flagged executables",
		Long: `Retrust records the current digest of each PATH as trusted and clears
its TAMPERED flag. Nothing else ever clears the flag. With --restore-exec the
execute permission is granted again to every class that can read the file.`,
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

			verifier, audit, err := entrypoint.OpenVerifier(cfg, logger.With("component", "integrity"), nil)
			if err != nil {
				return err
			}
			defer audit.Close()

			var errs []error
			for _, path := range args {
				res, err := verifier.Retrust(path, restoreExec)
				if err != nil {
					errs = append(errs, fmt.Errorf("retrust %s: %w", path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retrusted %s %s\n", res.Path, res.Digest)
				if res.Error != "" {
					errs = append(errs, fmt.Errorf("retrust %s: %s", path, res.Error))
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&restoreExec, "restore-exec", false, "grant execute permission again")
	return cmd
}
