package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gatewarden/internal/entrypoint"
	"gatewarden/internal/integrity"
	"gatewarden/internal/render"
)

func newVerifyCmd() *cobra.Command {
	var (
		output       string
		failOnTamper bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run one integrity pass over the watched directories",
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

			if err := entrypoint.HardenStateDir(cfg.StateDir); err != nil {
				return err
			}

			var metrics *integrity.Metrics
			if cfg.MetricsTextfile != "" {
				metrics = integrity.NewMetrics()
			}
			verifier, audit, err := entrypoint.OpenVerifier(cfg, logger.With("component", "integrity"), metrics)
			if err != nil {
				return err
			}
			defer audit.Close()

			summary, runErr := verifier.Run(cfg.WatchDirs)
			if summary != nil {
				if err := render.WriteSummary(os.Stdout, output, summary); err != nil {
					return err
				}
			}
			if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
				logger.Warn("could not write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
			}
			if runErr != nil {
				return runErr
			}

			if n := summary.Count(integrity.OutcomeTampered); failOnTamper && n > 0 {
				return fmt.Errorf("%d executable(s) failed verification", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", render.FormatTable, "output format: table, json or yaml")
	cmd.Flags().BoolVar(&failOnTamper, "fail-on-tamper", false, "exit non-zero when a file is newly flagged")
	return cmd
}
