// Package entrypoint prepares the container and hands control to the wrapped
// messaging gateway: it checks the required secret, hardens the state
// directory, seeds the gateway config, runs the binary integrity pass and
// finally replaces itself with the gateway process.
package entrypoint

import (
	"errors"
	"log/slog"
	"os"

	"gatewarden/internal/integrity"
)

// Options configures one entrypoint run.
type Options struct {
	Config Config
	// Args is the wrapped command and its arguments.
	Args   []string
	Logger *slog.Logger

	// Getenv and Environ default to the process environment.
	Getenv  func(string) string
	Environ []string
	// Exec defaults to unix.Exec.
	Exec ExecFunc
}

// Run performs the boot sequence and execs the wrapped command. It returns
// only on failure. The only fatal condition before exec is a missing
// secret; everything the integrity layer reports is logged and boot goes on.
func Run(opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}
	logger := opts.Logger.With("component", "entrypoint")
	cfg := opts.Config

	if len(opts.Args) == 0 {
		return errors.New("no command given")
	}

	if _, err := RequireSecret(cfg.SecretEnv, opts.Getenv); err != nil {
		logger.Error("refusing to start", "error", err)
		return err
	}

	stateErr := HardenStateDir(cfg.StateDir)
	if stateErr != nil {
		logger.Error("state directory unusable, skipping integrity verification", "dir", cfg.StateDir, "error", stateErr)
	}

	if seeded, err := SeedConfig(cfg.GatewayConfig); err != nil {
		logger.Warn("could not seed gateway config", "path", cfg.GatewayConfig, "error", err)
	} else if seeded {
		logger.Info("seeded gateway config", "path", cfg.GatewayConfig)
	}

	if stateErr == nil {
		VerifyBinaries(cfg, opts.Logger)
	}

	env := ExecEnv(opts.Environ, cfg.WatchDirs)
	logger.Info("starting gateway", "command", opts.Args[0])
	return Exec(opts.Args, env, opts.Exec)
}

// OpenVerifier builds a verifier over the manifest in cfg's state
// directory. An audit log that cannot be opened is reported and left out.
// The caller closes the returned audit log, which may be nil.
func OpenVerifier(cfg Config, logger *slog.Logger, metrics *integrity.Metrics) (*integrity.Verifier, *integrity.AuditLog, error) {
	hasher, err := integrity.HasherFor(cfg.HashAlgorithm)
	if err != nil {
		return nil, nil, err
	}

	audit, err := integrity.OpenAuditLog(cfg.AuditLogPath())
	if err != nil {
		logger.Warn("audit log unavailable", "error", err)
		audit = nil
	}

	verifier, err := integrity.NewVerifier(integrity.Config{
		Store:   integrity.NewFileStore(cfg.ManifestPath()),
		Hasher:  hasher,
		Logger:  logger,
		Audit:   audit,
		Metrics: metrics,
	})
	if err != nil {
		audit.Close()
		return nil, nil, err
	}
	return verifier, audit, nil
}

// VerifyBinaries runs the integrity pass over the configured watch
// directories. Failures are logged, never returned: verification hardens
// the container but must not keep the gateway from starting.
func VerifyBinaries(cfg Config, logger *slog.Logger) *integrity.Summary {
	log := logger.With("component", "integrity")

	var metrics *integrity.Metrics
	if cfg.MetricsTextfile != "" {
		metrics = integrity.NewMetrics()
	}

	verifier, audit, err := OpenVerifier(cfg, log, metrics)
	if err != nil {
		log.Error("integrity verification disabled", "error", err)
		return nil
	}
	defer audit.Close()

	summary, err := verifier.Run(cfg.WatchDirs)
	if err != nil {
		log.Error("integrity verification incomplete", "error", err)
	}
	if summary != nil {
		LogSummary(log, summary)
	}

	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		log.Warn("could not write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
	}
	return summary
}

// LogSummary logs the outcome counts of a run.
func LogSummary(logger *slog.Logger, summary *integrity.Summary) {
	logger.Info("integrity verification finished",
		"run_id", summary.RunID,
		"created", summary.Count(integrity.OutcomeCreated),
		"matched", summary.Count(integrity.OutcomeMatched),
		"tampered", summary.Count(integrity.OutcomeTampered),
		"quarantined", summary.Count(integrity.OutcomeQuarantined),
		"skipped", summary.Count(integrity.OutcomeSkippedUnreadable)+summary.Count(integrity.OutcomeSkippedInvalidPath))
}
