package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gatewarden/internal/api"
	"gatewarden/internal/entrypoint"
	"gatewarden/internal/integrity"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-verify watched directories on change and serve the integrity API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			intLogger := logger.With("component", "integrity")

			if err := entrypoint.HardenStateDir(cfg.StateDir); err != nil {
				return err
			}

			metrics := integrity.NewMetrics()
			verifier, audit, err := entrypoint.OpenVerifier(cfg, intLogger, metrics)
			if err != nil {
				return err
			}
			defer audit.Close()

			server := api.NewServer(api.Config{
				Addr:     cfg.Listen,
				Verifier: verifier,
				Metrics:  metrics,
				Dirs:     cfg.WatchDirs,
				Logger:   logger,
			})

			summary, err := verifier.Run(cfg.WatchDirs)
			if err != nil {
				intLogger.Error("initial verification incomplete", "error", err)
			}
			if summary != nil {
				entrypoint.LogSummary(intLogger, summary)
				server.RecordSummary(summary)
			}
			writeTextfile := func() {
				if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
					intLogger.Warn("could not write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
				}
			}
			writeTextfile()

			watcher, err := integrity.NewDirWatcher(verifier, cfg.WatchDirs, intLogger)
			if err != nil {
				return err
			}
			watcher.SetDebounce(debounce)
			watcher.OnReport(server.RecordReport)
			watcher.OnReport(func(*integrity.Report) { writeTextfile() })

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
				logger.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("listen", "", "address for the HTTP API and /metrics")
	cmd.Flags().DurationVar(&debounce, "debounce", integrity.DefaultDebounce, "quiet period before a changed directory is re-verified")
	return cmd
}
